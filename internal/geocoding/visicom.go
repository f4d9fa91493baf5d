package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/UnknownOlympus/hermes/internal/models"
	"golang.org/x/time/rate"
)

// VisicomBaseURL is the Visicom data API geocode endpoint.
const VisicomBaseURL = "https://api.visicom.ua/data-api/5.0/uk/geocode.json"

// VisicomProvider geocodes addresses with the Visicom data API.
// Requests are throttled by a token bucket shared across calls.
type VisicomProvider struct {
	client  HTTPClient
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	log     *slog.Logger
}

// visicomFeature is the part of a Visicom feature we read; coordinates are [lon, lat].
type visicomFeature struct {
	Centroid struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geo_centroid"`
}

// NewVisicomProvider creates a provider allowing rateLimit requests per second.
func NewVisicomProvider(apiKey string, rateLimit int, log *slog.Logger) *VisicomProvider {
	return NewVisicomProviderWithClient(
		newHTTPClient(),
		apiKey,
		rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		log,
	)
}

// NewVisicomProviderWithClient allows injecting a custom HTTP client and limiter.
func NewVisicomProviderWithClient(
	client HTTPClient,
	apiKey string,
	limiter *rate.Limiter,
	log *slog.Logger,
) *VisicomProvider {
	return &VisicomProvider{
		client:  client,
		baseURL: VisicomBaseURL,
		apiKey:  apiKey,
		limiter: limiter,
		log:     log,
	}
}

// Geocode converts address into coordinates using the Visicom API.
func (vp *VisicomProvider) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	const coordsLen = 2

	if address == "" {
		return nil, ErrEmptyAddress
	}

	if err := vp.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	reqURL, err := url.Parse(vp.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	query := reqURL.Query()
	query.Set("text", address)
	query.Set("limit", "1")
	query.Set("key", vp.apiKey)
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := vp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute geocoding request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		body, _ := io.ReadAll(resp.Body)
		vp.log.ErrorContext(ctx, "Visicom API error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("visicom API returned status %d: %s", resp.StatusCode, string(body))
	}

	var feature visicomFeature
	if err = json.NewDecoder(resp.Body).Decode(&feature); err != nil {
		return nil, fmt.Errorf("failed to decode visicom response: %w", err)
	}

	coords := feature.Centroid.Coordinates
	switch len(coords) {
	case 0:
		return nil, ErrEmptyResponse
	case coordsLen:
	default:
		return nil, ErrInvalidCoords
	}

	vp.log.DebugContext(ctx, "Visicom found result", "address", address, "lat", coords[1], "lon", coords[0])

	return &models.Coordinates{Latitude: coords[1], Longitude: coords[0]}, nil
}
