package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	// Fixed width so stored timestamps sort lexically.
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	sqliteDateLayout = time.DateOnly
)

// SQLite is the Store backed by an embedded SQLite file, meant for local runs.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	script, err := loadSchema("sqlite.sql")
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err = db.ExecContext(ctx, script); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetCustomer fetches a customer by external id.
func (s *SQLite) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	const query = `
		SELECT customer_id, name, email, date_of_birth, address, phone, registered_at, latitude, longitude
		FROM customers
		WHERE customer_id = ?`

	var (
		customer     models.Customer
		dob          sql.NullString
		registeredAt string
		lat, lon     sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, query, customerID).Scan(
		&customer.CustomerID, &customer.Name, &customer.Email, &dob,
		&customer.Address, &customer.Phone, &registeredAt, &lat, &lon,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query customer %s: %w", customerID, err)
	}

	if dob.Valid {
		parsed, errParse := time.Parse(sqliteDateLayout, dob.String)
		if errParse != nil {
			return nil, fmt.Errorf("failed to parse date of birth for %s: %w", customerID, errParse)
		}
		customer.DateOfBirth = &parsed
	}
	if customer.RegisteredAt, err = time.Parse(sqliteTimeLayout, registeredAt); err != nil {
		return nil, fmt.Errorf("failed to parse registration time for %s: %w", customerID, err)
	}
	customer.Coordinates = joinCoords(nullFloat(lat), nullFloat(lon))

	return &customer, nil
}

// Commit applies the changeset and the ingest log in one transaction.
func (s *SQLite) Commit(ctx context.Context, changes *models.Changeset, log models.IngestLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err = s.apply(ctx, tx, changes, log); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.ErrorContext(ctx, "Failed to roll back ingestion", "error", rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *SQLite) apply(ctx context.Context, tx *sql.Tx, changes *models.Changeset, log models.IngestLog) error {
	for _, customer := range changes.Inserts {
		lat, lon := splitCoords(customer.Coordinates)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO customers
				(customer_id, name, email, date_of_birth, address, phone, registered_at, latitude, longitude)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			customer.CustomerID, customer.Name, customer.Email, formatDate(customer.DateOfBirth),
			customer.Address, customer.Phone, customer.RegisteredAt.UTC().Format(sqliteTimeLayout), lat, lon,
		)
		if err != nil {
			return fmt.Errorf("failed to insert customer %s: %w", customer.CustomerID, err)
		}
	}

	for _, customer := range changes.Updates {
		lat, lon := splitCoords(customer.Coordinates)
		_, err := tx.ExecContext(ctx,
			`UPDATE customers SET address = ?, latitude = ?, longitude = ? WHERE customer_id = ?`,
			customer.Address, lat, lon, customer.CustomerID,
		)
		if err != nil {
			return fmt.Errorf("failed to update customer %s: %w", customer.CustomerID, err)
		}
	}

	for _, change := range changes.History {
		oldLat, oldLon := splitCoords(change.OldCoordinates)
		newLat, newLon := splitCoords(change.NewCoordinates)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO customer_address_updates
				(customer_id, old_address, new_address, old_latitude, old_longitude,
				 new_latitude, new_longitude, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			change.CustomerID, change.OldAddress, change.NewAddress,
			oldLat, oldLon, newLat, newLon, change.ChangedAt.UTC().Format(sqliteTimeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to record address change for %s: %w", change.CustomerID, err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO ingest_logs
			(id, filename, uploaded_at, customers_rows, transactions_rows, products_rows)
		VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID.String(), log.Filename, log.UploadedAt.UTC().Format(sqliteTimeLayout),
		log.CustomersRows, log.TransactionsRows, log.ProductsRows,
	)
	if err != nil {
		return fmt.Errorf("failed to write ingest log: %w", err)
	}

	return nil
}

// AddressHistory lists a customer's address changes, oldest first.
func (s *SQLite) AddressHistory(ctx context.Context, customerID string) ([]models.AddressChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, old_address, new_address, old_latitude, old_longitude,
			new_latitude, new_longitude, changed_at
		FROM customer_address_updates
		WHERE customer_id = ?
		ORDER BY changed_at ASC, id ASC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query address history: %w", err)
	}
	defer rows.Close()

	history := []models.AddressChange{}
	for rows.Next() {
		var (
			change                         models.AddressChange
			oldLat, oldLon, newLat, newLon sql.NullFloat64
			changedAt                      string
		)
		if errScan := rows.Scan(
			&change.CustomerID, &change.OldAddress, &change.NewAddress,
			&oldLat, &oldLon, &newLat, &newLon, &changedAt,
		); errScan != nil {
			return nil, fmt.Errorf("failed to scan address change: %w", errScan)
		}
		if change.ChangedAt, err = time.Parse(sqliteTimeLayout, changedAt); err != nil {
			return nil, fmt.Errorf("failed to parse change time: %w", err)
		}
		change.OldCoordinates = joinCoords(nullFloat(oldLat), nullFloat(oldLon))
		change.NewCoordinates = joinCoords(nullFloat(newLat), nullFloat(newLon))
		history = append(history, change)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return history, nil
}

// RecentIngestLogs returns up to limit ingest logs, newest first.
func (s *SQLite) RecentIngestLogs(ctx context.Context, limit int) ([]models.IngestLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, uploaded_at, customers_rows, transactions_rows, products_rows
		FROM ingest_logs
		ORDER BY uploaded_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingest logs: %w", err)
	}
	defer rows.Close()

	logs := []models.IngestLog{}
	for rows.Next() {
		var (
			entry      models.IngestLog
			id         string
			uploadedAt string
		)
		if errScan := rows.Scan(
			&id, &entry.Filename, &uploadedAt,
			&entry.CustomersRows, &entry.TransactionsRows, &entry.ProductsRows,
		); errScan != nil {
			return nil, fmt.Errorf("failed to scan ingest log: %w", errScan)
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse ingest log id: %w", err)
		}
		if entry.UploadedAt, err = time.Parse(sqliteTimeLayout, uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to parse upload time: %w", err)
		}
		logs = append(logs, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return logs, nil
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func formatDate(date *time.Time) any {
	if date == nil {
		return nil
	}

	return date.Format(sqliteDateLayout)
}

func nullFloat(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}

	return &value.Float64
}
