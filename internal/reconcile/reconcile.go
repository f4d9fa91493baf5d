package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/hermes/internal/models"
)

// Action is the outcome of reconciling one incoming customer record.
type Action int

const (
	// Unchanged means the customer exists with the same address; nothing is written.
	Unchanged Action = iota
	// Insert means the customer id was not seen before.
	Insert
	// AddressChanged means the stored address differs and a history entry is due.
	AddressChanged
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "inserted"
	case AddressChanged:
		return "address_changed"
	default:
		return "unchanged"
	}
}

// Decision is the pure result of comparing an incoming record with stored state.
type Decision struct {
	Action   Action
	Customer models.Customer       // Customer is the state to persist; equals existing when Unchanged.
	Change   *models.AddressChange // Change is set only for AddressChanged.
}

// Decide compares incoming with existing (nil when unknown) and returns what must be written.
// coords are the resolved coordinates of incoming.Address. An unchanged address leaves the
// stored record, coordinates included, untouched.
func Decide(existing *models.Customer, incoming models.Customer, coords *models.Coordinates, now time.Time) Decision {
	if existing == nil {
		customer := incoming
		customer.Coordinates = coords
		return Decision{Action: Insert, Customer: customer}
	}

	if existing.Address == incoming.Address {
		return Decision{Action: Unchanged, Customer: *existing}
	}

	updated := *existing
	updated.Address = incoming.Address
	updated.Coordinates = coords

	return Decision{
		Action:   AddressChanged,
		Customer: updated,
		Change: &models.AddressChange{
			CustomerID:     existing.CustomerID,
			OldAddress:     existing.Address,
			NewAddress:     incoming.Address,
			OldCoordinates: existing.Coordinates,
			NewCoordinates: coords,
			ChangedAt:      now,
		},
	}
}

// CustomerLookup reads the currently persisted state of a customer.
// It returns nil without error when the customer does not exist.
type CustomerLookup interface {
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
}

// AddressResolver turns an address into coordinates, nil when unresolved.
type AddressResolver interface {
	Resolve(ctx context.Context, address string) *models.Coordinates
}

// Stats counts decisions taken while planning a batch.
type Stats struct {
	Inserted       int
	AddressChanged int
	Unchanged      int
}

// Plan is the staged outcome of a batch, ready to be committed in one transaction.
type Plan struct {
	Changes models.Changeset
	Stats   Stats
}

// Engine plans customer upserts and address history for a batch of records.
type Engine struct {
	lookup   CustomerLookup
	resolver AddressResolver
	log      *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine reading stored state from lookup.
func NewEngine(log *slog.Logger, lookup CustomerLookup, resolver AddressResolver) *Engine {
	return &Engine{
		lookup:   lookup,
		resolver: resolver,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used to stamp address changes.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Plan processes customers in order and stages the writes they imply. Nothing is persisted.
// A customer id seen twice in the batch is reconciled against the state staged for its
// earlier occurrence.
func (e *Engine) Plan(ctx context.Context, customers []models.Customer) (*Plan, error) {
	staged := newStaging()
	plan := &Plan{}

	for _, incoming := range customers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reconciliation interrupted: %w", err)
		}

		coords := e.resolver.Resolve(ctx, incoming.Address)

		existing, ok := staged.get(incoming.CustomerID)
		if !ok {
			stored, err := e.lookup.GetCustomer(ctx, incoming.CustomerID)
			if err != nil {
				return nil, fmt.Errorf("failed to look up customer %s: %w", incoming.CustomerID, err)
			}
			existing = stored
		}

		decision := Decide(existing, incoming, coords, e.now())
		switch decision.Action {
		case Insert:
			plan.Stats.Inserted++
			staged.insert(decision.Customer)
		case AddressChanged:
			plan.Stats.AddressChanged++
			staged.update(decision.Customer)
			plan.Changes.History = append(plan.Changes.History, *decision.Change)
		case Unchanged:
			plan.Stats.Unchanged++
			staged.remember(decision.Customer)
		}

		e.log.DebugContext(ctx, "Customer reconciled",
			"customer_id", incoming.CustomerID, "outcome", decision.Action.String())
	}

	plan.Changes.Inserts, plan.Changes.Updates = staged.writes()

	return plan, nil
}
