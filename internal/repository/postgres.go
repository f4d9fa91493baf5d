package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database is the subset of *pgxpool.Pool used by the Postgres store.
// pgxmock.PgxPoolIface satisfies it in tests.
type Database interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Postgres is the Store backed by PostgreSQL.
type Postgres struct {
	db  Database
	log *slog.Logger
}

const (
	selectCustomerPG = `
		SELECT customer_id, name, email, date_of_birth, address, phone, registered_at, latitude, longitude
		FROM customers
		WHERE customer_id = $1;
	`
	insertCustomerPG = `
		INSERT INTO customers
			(customer_id, name, email, date_of_birth, address, phone, registered_at, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	updateAddressPG = `
		UPDATE customers
		SET address = $1, latitude = $2, longitude = $3
		WHERE customer_id = $4;
	`
	insertAddressChangePG = `
		INSERT INTO customer_address_updates
			(customer_id, old_address, new_address, old_latitude, old_longitude,
			 new_latitude, new_longitude, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	insertIngestLogPG = `
		INSERT INTO ingest_logs
			(id, filename, uploaded_at, customers_rows, transactions_rows, products_rows)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	selectHistoryPG = `
		SELECT customer_id, old_address, new_address, old_latitude, old_longitude,
			new_latitude, new_longitude, changed_at
		FROM customer_address_updates
		WHERE customer_id = $1
		ORDER BY changed_at ASC, id ASC;
	`
	selectIngestLogsPG = `
		SELECT id, filename, uploaded_at, customers_rows, transactions_rows, products_rows
		FROM ingest_logs
		ORDER BY uploaded_at DESC
		LIMIT $1;
	`
)

// NewPostgres creates a new Postgres store over the provided Database.
func NewPostgres(db Database, log *slog.Logger) *Postgres {
	return &Postgres{db: db, log: log}
}

// Migrate creates the tables if they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	script, err := loadSchema("postgres.sql")
	if err != nil {
		return err
	}

	if _, err = p.db.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	return nil
}

// GetCustomer fetches a customer by external id.
func (p *Postgres) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	var (
		customer models.Customer
		lat, lon *float64
	)

	err := p.db.QueryRow(ctx, selectCustomerPG, customerID).Scan(
		&customer.CustomerID, &customer.Name, &customer.Email, &customer.DateOfBirth,
		&customer.Address, &customer.Phone, &customer.RegisteredAt, &lat, &lon,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query customer %s: %w", customerID, err)
	}
	customer.Coordinates = joinCoords(lat, lon)

	return &customer, nil
}

// Commit writes inserts, then address updates, then history, then the ingest log,
// inside one transaction. Any failure rolls everything back.
func (p *Postgres) Commit(ctx context.Context, changes *models.Changeset, log models.IngestLog) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err = p.apply(ctx, tx, changes, log); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			p.log.ErrorContext(ctx, "Failed to roll back ingestion", "error", rbErr)
		}
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	p.log.DebugContext(ctx, "Ingestion committed",
		"inserts", len(changes.Inserts), "updates", len(changes.Updates), "history", len(changes.History))

	return nil
}

func (p *Postgres) apply(ctx context.Context, tx pgx.Tx, changes *models.Changeset, log models.IngestLog) error {
	for _, customer := range changes.Inserts {
		lat, lon := splitCoords(customer.Coordinates)
		_, err := tx.Exec(ctx, insertCustomerPG,
			customer.CustomerID, customer.Name, customer.Email, customer.DateOfBirth,
			customer.Address, customer.Phone, customer.RegisteredAt, lat, lon,
		)
		if err != nil {
			return fmt.Errorf("failed to insert customer %s: %w", customer.CustomerID, err)
		}
	}

	for _, customer := range changes.Updates {
		lat, lon := splitCoords(customer.Coordinates)
		if _, err := tx.Exec(ctx, updateAddressPG, customer.Address, lat, lon, customer.CustomerID); err != nil {
			return fmt.Errorf("failed to update customer %s: %w", customer.CustomerID, err)
		}
	}

	for _, change := range changes.History {
		oldLat, oldLon := splitCoords(change.OldCoordinates)
		newLat, newLon := splitCoords(change.NewCoordinates)
		_, err := tx.Exec(ctx, insertAddressChangePG,
			change.CustomerID, change.OldAddress, change.NewAddress,
			oldLat, oldLon, newLat, newLon, change.ChangedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record address change for %s: %w", change.CustomerID, err)
		}
	}

	_, err := tx.Exec(ctx, insertIngestLogPG,
		log.ID, log.Filename, log.UploadedAt, log.CustomersRows, log.TransactionsRows, log.ProductsRows,
	)
	if err != nil {
		return fmt.Errorf("failed to write ingest log: %w", err)
	}

	return nil
}

// AddressHistory lists a customer's address changes, oldest first.
func (p *Postgres) AddressHistory(ctx context.Context, customerID string) ([]models.AddressChange, error) {
	rows, err := p.db.Query(ctx, selectHistoryPG, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query address history: %w", err)
	}
	defer rows.Close()

	history := []models.AddressChange{}
	for rows.Next() {
		var (
			change                         models.AddressChange
			oldLat, oldLon, newLat, newLon *float64
		)
		if errScan := rows.Scan(
			&change.CustomerID, &change.OldAddress, &change.NewAddress,
			&oldLat, &oldLon, &newLat, &newLon, &change.ChangedAt,
		); errScan != nil {
			return nil, fmt.Errorf("failed to scan address change: %w", errScan)
		}
		change.OldCoordinates = joinCoords(oldLat, oldLon)
		change.NewCoordinates = joinCoords(newLat, newLon)
		history = append(history, change)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return history, nil
}

// RecentIngestLogs returns up to limit ingest logs, newest first.
func (p *Postgres) RecentIngestLogs(ctx context.Context, limit int) ([]models.IngestLog, error) {
	rows, err := p.db.Query(ctx, selectIngestLogsPG, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingest logs: %w", err)
	}
	defer rows.Close()

	logs := []models.IngestLog{}
	for rows.Next() {
		var entry models.IngestLog
		if errScan := rows.Scan(
			&entry.ID, &entry.Filename, &entry.UploadedAt,
			&entry.CustomersRows, &entry.TransactionsRows, &entry.ProductsRows,
		); errScan != nil {
			return nil, fmt.Errorf("failed to scan ingest log: %w", errScan)
		}
		entry.UploadedAt = entry.UploadedAt.UTC()
		logs = append(logs, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return logs, nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return p.db.Ping(pingCtx)
}
