package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/UnknownOlympus/hermes/internal/aggregate"
	"github.com/UnknownOlympus/hermes/internal/geocoding"
	"github.com/UnknownOlympus/hermes/internal/metrics"
	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/UnknownOlympus/hermes/internal/parser"
	"github.com/UnknownOlympus/hermes/internal/reconcile"
	"github.com/UnknownOlympus/hermes/internal/repository"
	"github.com/UnknownOlympus/hermes/internal/workbook"
	"github.com/google/uuid"
)

// IngestService runs uploaded workbooks through parsing, reporting, reconciliation
// and persistence.
type IngestService struct {
	log          *slog.Logger               // Logger for service activities
	store        repository.Store           // Store for customers, history and ingest logs
	provider     geocoding.Provider         // Geocoding provider shared by every run
	providerName string                     // Name of the provider for metrics labeling
	metrics      *metrics.Metrics           // Metrics for tracking ingestions
	resolverOpts []geocoding.ResolverOption // Options applied to each run's resolver
	now          func() time.Time           // Clock for ingest logs and address changes
	mu           sync.Mutex                 // Serialises ingestions
}

// NewIngestService creates a new instance of IngestService. Every call to Ingest gets its
// own resolver and geocode cache built from provider and resolverOpts.
func NewIngestService(
	log *slog.Logger,
	store repository.Store,
	provider geocoding.Provider,
	providerName string,
	metrics *metrics.Metrics,
	resolverOpts ...geocoding.ResolverOption,
) *IngestService {
	return &IngestService{
		log:          log,
		store:        store,
		provider:     provider,
		providerName: providerName,
		metrics:      metrics,
		resolverOpts: resolverOpts,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock.
func (s *IngestService) WithClock(now func() time.Time) *IngestService {
	s.now = now
	return s
}

// Ingest validates, parses and aggregates the workbook before touching the store, then
// reconciles its customers and commits all writes together with an ingest log.
// Any error means nothing was persisted.
func (s *IngestService) Ingest(ctx context.Context, filename string, r io.Reader) (*aggregate.Reports, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.ingest(ctx, filename, r)
	if err != nil {
		s.metrics.Ingestions.WithLabelValues("failure").Inc()
		s.log.ErrorContext(ctx, "Ingestion failed", "file", filename, "error", err)
		return nil, err
	}

	s.metrics.Ingestions.WithLabelValues("success").Inc()

	return reports, nil
}

func (s *IngestService) ingest(ctx context.Context, filename string, r io.Reader) (*aggregate.Reports, error) {
	book, err := workbook.Read(r)
	if err != nil {
		return nil, err
	}

	customers, err := parser.ParseAll(book.Customers)
	if err != nil {
		return nil, err
	}
	for _, customer := range customers {
		if customer.DateOfBirth == nil {
			s.log.WarnContext(ctx, "Unknown date of birth, storing as null",
				"file", filename, "customer_id", customer.CustomerID)
		}
	}

	reports, err := aggregate.Build(book.Transactions, book.Products)
	if err != nil {
		return nil, fmt.Errorf("failed to build reports: %w", err)
	}

	s.log.InfoContext(ctx, "Workbook accepted",
		"file", filename,
		"customers", len(customers),
		"transactions", len(book.Transactions),
		"products", len(book.Products),
	)

	opts := append([]geocoding.ResolverOption{geocoding.WithMetrics(s.metrics, s.providerName)}, s.resolverOpts...)
	resolver := geocoding.NewResolver(s.log, s.provider, geocoding.NewCache(), opts...)
	engine := reconcile.NewEngine(s.log, s.store, resolver).WithClock(s.now)

	plan, err := engine.Plan(ctx, customers)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile customers: %w", err)
	}

	entry := models.IngestLog{
		ID:               uuid.New(),
		Filename:         filename,
		UploadedAt:       s.now(),
		CustomersRows:    len(book.Customers),
		TransactionsRows: len(book.Transactions),
		ProductsRows:     len(book.Products),
	}

	if err = s.store.Commit(ctx, &plan.Changes, entry); err != nil {
		return nil, fmt.Errorf("failed to commit ingestion: %w", err)
	}

	s.metrics.CustomersReconciled.WithLabelValues(reconcile.Insert.String()).Add(float64(plan.Stats.Inserted))
	s.metrics.CustomersReconciled.WithLabelValues(reconcile.AddressChanged.String()).
		Add(float64(plan.Stats.AddressChanged))
	s.metrics.CustomersReconciled.WithLabelValues(reconcile.Unchanged.String()).Add(float64(plan.Stats.Unchanged))

	s.log.InfoContext(ctx, "Ingestion committed",
		"file", filename,
		"ingest_id", entry.ID.String(),
		"inserted", plan.Stats.Inserted,
		"address_changed", plan.Stats.AddressChanged,
		"unchanged", plan.Stats.Unchanged,
		"geocoded_addresses", resolver.Cache().Len(),
	)

	return reports, nil
}
