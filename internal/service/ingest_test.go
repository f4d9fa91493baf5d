package service_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/UnknownOlympus/hermes/internal/aggregate"
	"github.com/UnknownOlympus/hermes/internal/geocoding"
	"github.com/UnknownOlympus/hermes/internal/metrics"
	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/UnknownOlympus/hermes/internal/parser"
	"github.com/UnknownOlympus/hermes/internal/service"
	"github.com/UnknownOlympus/hermes/internal/workbook"
	"github.com/UnknownOlympus/hermes/test/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var fixedNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func noSleep(context.Context, time.Duration) error { return nil }

// workbookBytes renders sheet name -> rows into an xlsx held in memory.
func workbookBytes(t *testing.T, sheets map[string][][]any) *bytes.Buffer {
	t.Helper()

	file := excelize.NewFile()
	defer file.Close()

	for _, name := range []string{workbook.SheetCustomers, workbook.SheetTransactions, workbook.SheetProducts} {
		rows, ok := sheets[name]
		if !ok {
			continue
		}
		_, err := file.NewSheet(name)
		require.NoError(t, err)
		for r, row := range rows {
			cellName, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, file.SetSheetRow(name, cellName, &row))
		}
	}
	require.NoError(t, file.DeleteSheet("Sheet1"))

	buf := new(bytes.Buffer)
	require.NoError(t, file.Write(buf))

	return buf
}

func validSheets() map[string][][]any {
	return map[string][][]any{
		workbook.SheetCustomers: {
			{"record"},
			{"1_Ann_ann@example.com_1990-01-02_Main St 1_45000"},
			{"2_Bob_bob@example.com_1985-05-06_Main St 1_45001"},
		},
		workbook.SheetTransactions: {
			{"customer_id", "product_code", "amount"},
			{"1", "P1", "10"},
			{"1", "P1", "5"},
			{"2", "P2", "7"},
		},
		workbook.SheetProducts: {
			{"product_code", "category"},
			{"P1", "A"},
			{"P2", "B"},
		},
	}
}

func newService(t *testing.T) (*service.IngestService, *mocks.Store, *mocks.Provider, *metrics.Metrics) {
	t.Helper()

	return newServiceWithLogger(t, slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func newServiceWithLogger(
	t *testing.T,
	logger *slog.Logger,
) (*service.IngestService, *mocks.Store, *mocks.Provider, *metrics.Metrics) {
	t.Helper()

	store := mocks.NewStore(t)
	provider := mocks.NewProvider(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())

	svc := service.NewIngestService(logger, store, provider, "mock", m, geocoding.WithSleep(noSleep)).
		WithClock(func() time.Time { return fixedNow })

	return svc, store, provider, m
}

func TestIngest_Success(t *testing.T) {
	svc, store, provider, m := newService(t)
	ctx := t.Context()
	coords := &models.Coordinates{Latitude: 50.45, Longitude: 30.52}

	store.On("GetCustomer", mock.Anything, "1").Return(nil, nil).Once()
	store.On("GetCustomer", mock.Anything, "2").Return(nil, nil).Once()
	provider.On("Geocode", mock.Anything, "Main St 1").Return(coords, nil).Once()
	store.On("Commit", mock.Anything,
		mock.MatchedBy(func(changes *models.Changeset) bool {
			return len(changes.Inserts) == 2 &&
				changes.Inserts[0].CustomerID == "1" &&
				changes.Inserts[1].Coordinates.Equal(coords) &&
				len(changes.Updates) == 0 &&
				len(changes.History) == 0
		}),
		mock.MatchedBy(func(entry models.IngestLog) bool {
			return entry.Filename == "sales.xlsx" &&
				entry.UploadedAt.Equal(fixedNow) &&
				entry.CustomersRows == 2 &&
				entry.TransactionsRows == 3 &&
				entry.ProductsRows == 2 &&
				entry.ID.String() != ""
		}),
	).Return(nil).Once()

	reports, err := svc.Ingest(ctx, "sales.xlsx", workbookBytes(t, validSheets()))

	require.NoError(t, err)
	require.Len(t, reports.CategoryTotals, 2)
	assert.Equal(t, "1", reports.CategoryTotals[0].CustomerID)
	assert.Equal(t, "15", reports.CategoryTotals[0].Amount.String())
	assert.Len(t, reports.TopCustomers, 2)
	assert.Equal(t, []int{1, 2}, []int{reports.CustomerRanks[0].Rank, reports.CustomerRanks[1].Rank})

	assert.InDelta(t, 1, testutil.ToFloat64(m.Ingestions.WithLabelValues("success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.CustomersReconciled.WithLabelValues("inserted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GeocodeLookups.WithLabelValues("hit")), 0)
}

func TestIngest_RejectsBeforeStoreAccess(t *testing.T) {
	tests := []struct {
		name   string
		sheets func() map[string][][]any
		target error
	}{
		{
			name: "missing products sheet",
			sheets: func() map[string][][]any {
				s := validSheets()
				delete(s, workbook.SheetProducts)
				return s
			},
			target: workbook.ErrValidation,
		},
		{
			name: "malformed customer record",
			sheets: func() map[string][][]any {
				s := validSheets()
				s[workbook.SheetCustomers] = append(s[workbook.SheetCustomers], []any{"3_Broken"})
				return s
			},
			target: parser.ErrMalformedRecord,
		},
		{
			name: "no transaction matches a product",
			sheets: func() map[string][][]any {
				s := validSheets()
				s[workbook.SheetProducts] = [][]any{{"product_code", "category"}, {"P9", "Z"}}
				return s
			},
			target: aggregate.ErrEmptyReport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, provider, m := newService(t)

			reports, err := svc.Ingest(t.Context(), "bad.xlsx", workbookBytes(t, tt.sheets()))

			require.Nil(t, reports)
			require.ErrorIs(t, err, tt.target)
			store.AssertNotCalled(t, "GetCustomer", mock.Anything, mock.Anything)
			store.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
			provider.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
			assert.InDelta(t, 1, testutil.ToFloat64(m.Ingestions.WithLabelValues("failure")), 0)
		})
	}
}

func TestIngest_CommitFailure(t *testing.T) {
	svc, store, provider, m := newService(t)

	store.On("GetCustomer", mock.Anything, mock.Anything).Return(nil, nil)
	provider.On("Geocode", mock.Anything, "Main St 1").Return(nil, geocoding.ErrEmptyResponse).Once()
	store.On("Commit", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	reports, err := svc.Ingest(t.Context(), "sales.xlsx", workbookBytes(t, validSheets()))

	require.Nil(t, reports)
	require.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "failed to commit ingestion")
	assert.InDelta(t, 0, testutil.ToFloat64(m.CustomersReconciled.WithLabelValues("inserted")), 0)
}

func TestIngest_EachRunHasItsOwnCache(t *testing.T) {
	svc, store, provider, _ := newService(t)
	coords := &models.Coordinates{Latitude: 1, Longitude: 2}

	store.On("GetCustomer", mock.Anything, mock.Anything).Return(nil, nil)
	provider.On("Geocode", mock.Anything, "Main St 1").Return(coords, nil).Twice()
	store.On("Commit", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	for range 2 {
		_, err := svc.Ingest(t.Context(), "sales.xlsx", workbookBytes(t, validSheets()))
		require.NoError(t, err)
	}
}

func TestIngest_Serialised(t *testing.T) {
	svc, store, provider, m := newService(t)

	var (
		mu      sync.Mutex
		active  int
		overlap bool
	)
	store.On("GetCustomer", mock.Anything, mock.Anything).Return(nil, nil)
	provider.On("Geocode", mock.Anything, mock.Anything).Return(nil, geocoding.ErrEmptyResponse)
	store.On("Commit", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}).
		Return(nil)

	const runs = 4
	payloads := make([]*bytes.Buffer, runs)
	for i := range payloads {
		payloads[i] = workbookBytes(t, validSheets())
	}

	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func(payload *bytes.Buffer) {
			defer wg.Done()
			_, _ = svc.Ingest(context.Background(), "sales.xlsx", payload)
		}(payloads[i])
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.InDelta(t, runs, testutil.ToFloat64(m.Ingestions.WithLabelValues("success")), 0)
}

func TestIngest_WarnsOnUnknownDateOfBirth(t *testing.T) {
	var logs bytes.Buffer
	svc, store, provider, _ := newServiceWithLogger(t, slog.New(slog.NewJSONHandler(&logs, nil)))

	sheets := validSheets()
	sheets[workbook.SheetCustomers][2] = []any{"2_Bob_bob@example.com_someday_Main St 1_45001"}

	store.On("GetCustomer", mock.Anything, mock.Anything).Return(nil, nil).Twice()
	provider.On("Geocode", mock.Anything, "Main St 1").Return(&models.Coordinates{}, nil).Once()
	store.On("Commit", mock.Anything,
		mock.MatchedBy(func(changes *models.Changeset) bool {
			return len(changes.Inserts) == 2 && changes.Inserts[1].DateOfBirth == nil
		}),
		mock.Anything,
	).Return(nil).Once()

	_, err := svc.Ingest(t.Context(), "sales.xlsx", workbookBytes(t, sheets))

	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"msg":"Unknown date of birth, storing as null"`)
	assert.Contains(t, logs.String(), `"customer_id":"2"`)
	assert.Equal(t, 1, strings.Count(logs.String(), "Unknown date of birth"))
}
