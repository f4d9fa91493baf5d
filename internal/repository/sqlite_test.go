package repository_test

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/UnknownOlympus/hermes/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *repository.SQLite {
	t.Helper()

	dir := filet.TmpDir(t, "")
	t.Cleanup(func() { filet.CleanUp(t) })

	store, err := repository.OpenSQLite(t.Context(), filepath.Join(dir, "hermes.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func ingestLog(filename string, at time.Time) models.IngestLog {
	return models.IngestLog{
		ID:               uuid.New(),
		Filename:         filename,
		UploadedAt:       at,
		CustomersRows:    1,
		TransactionsRows: 2,
		ProductsRows:     3,
	}
}

func TestSQLite_RoundTrip(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()

	registered := time.Date(2023, time.March, 15, 6, 0, 0, 0, time.UTC)
	dob := time.Date(1990, time.January, 2, 0, 0, 0, 0, time.UTC)
	first := time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	oldCoords := &models.Coordinates{Latitude: 50.45, Longitude: 30.52}
	newCoords := &models.Coordinates{Latitude: 49.84, Longitude: 24.03}

	require.NoError(t, store.Ping(ctx))

	missing, err := store.GetCustomer(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ann := models.Customer{
		CustomerID:   "1",
		Name:         "Ann",
		Email:        "ann@example.com",
		DateOfBirth:  &dob,
		Address:      "Main St 1",
		RegisteredAt: registered,
		Coordinates:  oldCoords,
	}
	bob := models.Customer{
		CustomerID:   "2",
		Name:         "Bob",
		Email:        "bob@example.com",
		Address:      "Side St 2",
		RegisteredAt: registered,
	}
	require.NoError(t, store.Commit(ctx, &models.Changeset{Inserts: []models.Customer{ann, bob}},
		ingestLog("first.xlsx", first)))

	stored, err := store.GetCustomer(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, ann, *stored)

	stored, err = store.GetCustomer(ctx, "2")
	require.NoError(t, err)
	assert.Nil(t, stored.DateOfBirth)
	assert.Nil(t, stored.Coordinates)

	moved := ann
	moved.Address = "New Road"
	moved.Coordinates = newCoords
	require.NoError(t, store.Commit(ctx, &models.Changeset{
		Updates: []models.Customer{moved},
		History: []models.AddressChange{{
			CustomerID:     "1",
			OldAddress:     "Main St 1",
			NewAddress:     "New Road",
			OldCoordinates: oldCoords,
			NewCoordinates: newCoords,
			ChangedAt:      second,
		}},
	}, ingestLog("second.xlsx", second)))

	stored, err = store.GetCustomer(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "New Road", stored.Address)
	assert.Equal(t, newCoords, stored.Coordinates)

	history, err := store.AddressHistory(ctx, "1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Main St 1", history[0].OldAddress)
	assert.Equal(t, oldCoords, history[0].OldCoordinates)
	assert.Equal(t, newCoords, history[0].NewCoordinates)
	assert.True(t, second.Equal(history[0].ChangedAt))

	history, err = store.AddressHistory(ctx, "2")
	require.NoError(t, err)
	assert.Empty(t, history)

	logs, err := store.RecentIngestLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "second.xlsx", logs[0].Filename)
	assert.Equal(t, "first.xlsx", logs[1].Filename)
	assert.Equal(t, 3, logs[0].ProductsRows)

	logs, err = store.RecentIngestLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestSQLite_CommitIsAtomic(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	registered := time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Commit(ctx, &models.Changeset{Inserts: []models.Customer{{
		CustomerID: "1", Name: "Ann", Email: "shared@example.com", Address: "A", RegisteredAt: registered,
	}}}, ingestLog("first.xlsx", registered)))

	err := store.Commit(ctx, &models.Changeset{Inserts: []models.Customer{
		{CustomerID: "2", Name: "Bob", Email: "bob@example.com", Address: "B", RegisteredAt: registered},
		{CustomerID: "3", Name: "Eve", Email: "shared@example.com", Address: "C", RegisteredAt: registered},
	}}, ingestLog("second.xlsx", registered.Add(time.Hour)))

	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to insert customer 3")

	bob, err := store.GetCustomer(ctx, "2")
	require.NoError(t, err)
	assert.Nil(t, bob, "earlier insert of the failed batch is rolled back")

	logs, err := store.RecentIngestLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestSQLite_HistoryRequiresCustomer(t *testing.T) {
	store := openSQLite(t)
	ctx := t.Context()
	now := time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)

	err := store.Commit(ctx, &models.Changeset{History: []models.AddressChange{{
		CustomerID: "ghost", OldAddress: "A", NewAddress: "B", ChangedAt: now,
	}}}, ingestLog("ghost.xlsx", now))

	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to record address change for ghost")
}
