package repository

import (
	"context"
	"embed"
	"fmt"

	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Store persists customers, their address history and ingestion logs.
type Store interface {
	// GetCustomer returns nil and no error when the customer does not exist.
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
	// Commit applies the changeset and appends the log in a single transaction.
	Commit(ctx context.Context, changes *models.Changeset, log models.IngestLog) error
	AddressHistory(ctx context.Context, customerID string) ([]models.AddressChange, error)
	RecentIngestLogs(ctx context.Context, limit int) ([]models.IngestLog, error)
	Ping(ctx context.Context) error
}

// NewDatabase opens a pgx connection pool and verifies it with a ping.
func NewDatabase(ctx context.Context, host, port, user, password, name string) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func loadSchema(name string) (string, error) {
	script, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read schema %s: %w", name, err)
	}

	return string(script), nil
}

// splitCoords flattens optional coordinates into nullable column values.
func splitCoords(coords *models.Coordinates) (*float64, *float64) {
	if coords == nil {
		return nil, nil
	}
	lat, lon := coords.Latitude, coords.Longitude

	return &lat, &lon
}

// joinCoords rebuilds optional coordinates; a half-present pair is treated as absent.
func joinCoords(lat, lon *float64) *models.Coordinates {
	if lat == nil || lon == nil {
		return nil
	}

	return &models.Coordinates{Latitude: *lat, Longitude: *lon}
}
