package geocoding

import (
	"context"
	"errors"
	"net/http"

	"github.com/UnknownOlympus/hermes/internal/models"
)

// Provider is an interface that defines a method for geocoding an address.
// The Geocode method takes a context and an address string as input,
// and returns the corresponding coordinates and an error if any occurs.
type Provider interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Errors shared by all providers.
var (
	ErrEmptyResponse = errors.New("geocoding provider returned no results")
	ErrEmptyAddress  = errors.New("geocoding provider got empty address")
	ErrInvalidCoords = errors.New("geocoding provider returned invalid coordinates")
	ErrUnauthorized  = errors.New("geocoding provider rejected the API key")
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}
