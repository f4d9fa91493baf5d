package geocoding_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/UnknownOlympus/hermes/internal/geocoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNominatimProvider_Geocode(t *testing.T) {
	ctx := t.Context()
	logger := slog.Default()

	t.Run("successful geocoding", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, http.MethodGet, req.Method)
				assert.Contains(t, req.URL.String(), "nominatim.openstreetmap.org")
				assert.Equal(t, "12 Main St, Springfield", req.URL.Query().Get("q"))
				assert.Equal(t, "json", req.URL.Query().Get("format"))
				assert.Equal(t, "1", req.URL.Query().Get("limit"))
				assert.Contains(t, req.Header.Get("User-Agent"), "Hermes-Ingest-Service")

				return respond(http.StatusOK, `[{"lat":"37.4224764","lon":"-122.0842499"},{"lat":"1","lon":"2"}]`)(req)
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(ctx, "12 Main St, Springfield")

		require.NoError(t, err)
		require.NotNil(t, coords)
		assert.InEpsilon(t, 37.4224764, coords.Latitude, 0.0001)
		assert.InEpsilon(t, -122.0842499, coords.Longitude, 0.0001)
		assert.Equal(t, 1, mockClient.calls)
	})

	t.Run("custom base URL", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, "geo.internal", req.URL.Host)
				return respond(http.StatusOK, `[{"lat":"1.5","lon":"2.5"}]`)(req)
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "http://geo.internal/search", logger)
		coords, err := provider.Geocode(ctx, "somewhere")

		require.NoError(t, err)
		assert.InEpsilon(t, 1.5, coords.Latitude, 0.0001)
	})

	t.Run("empty response from API", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `[]`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(ctx, "invalid address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, geocoding.ErrEmptyResponse)
		assert.Equal(t, 1, mockClient.calls, "no fallback queries")
	})

	t.Run("empty address", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `[]`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(ctx, "")

		require.Nil(t, coords)
		require.ErrorIs(t, err, geocoding.ErrEmptyAddress)
		assert.Zero(t, mockClient.calls)
	})

	t.Run("HTTP error status", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusTooManyRequests, `{"error":"Rate limit exceeded"}`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nominatim API returned status 429")
	})

	t.Run("invalid JSON response", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `invalid json`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode nominatim response")
	})

	t.Run("invalid latitude in response", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `[{"lat":"invalid","lon":"-122.08"}]`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, geocoding.ErrInvalidCoords)
		assert.Contains(t, err.Error(), "invalid latitude")
	})

	t.Run("invalid longitude in response", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `[{"lat":"37.42","lon":"invalid"}]`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, geocoding.ErrInvalidCoords)
		assert.Contains(t, err.Error(), "invalid longitude")
	})

	t.Run("HTTP client returns error", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(_ *http.Request) (*http.Response, error) {
				return nil, assert.AnError
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "failed to execute geocoding request")
	})

	t.Run("context cancellation", func(t *testing.T) {
		newCtx, cancel := context.WithCancel(context.Background())
		cancel()

		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				return nil, req.Context().Err()
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, "", logger)
		coords, err := provider.Geocode(newCtx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewNominatimProvider(t *testing.T) {
	provider := geocoding.NewNominatimProvider(slog.Default())

	require.NotNil(t, provider)
}
