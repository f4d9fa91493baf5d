package reconcile

import "github.com/UnknownOlympus/hermes/internal/models"

// staging holds the latest known state of every customer touched in a batch.
// Customers first inserted in the batch remain inserts even if their address later
// changes; customers loaded from the store become updates once modified.
type staging struct {
	state    map[string]models.Customer
	inserted map[string]bool
	updated  map[string]bool
	order    []string
}

func newStaging() *staging {
	return &staging{
		state:    make(map[string]models.Customer),
		inserted: make(map[string]bool),
		updated:  make(map[string]bool),
	}
}

func (s *staging) get(customerID string) (*models.Customer, bool) {
	customer, ok := s.state[customerID]
	if !ok {
		return nil, false
	}

	return &customer, true
}

func (s *staging) remember(customer models.Customer) {
	if _, ok := s.state[customer.CustomerID]; !ok {
		s.order = append(s.order, customer.CustomerID)
	}
	s.state[customer.CustomerID] = customer
}

func (s *staging) insert(customer models.Customer) {
	s.remember(customer)
	s.inserted[customer.CustomerID] = true
}

func (s *staging) update(customer models.Customer) {
	s.remember(customer)
	if !s.inserted[customer.CustomerID] {
		s.updated[customer.CustomerID] = true
	}
}

// writes returns the staged inserts and updates in first-seen order.
func (s *staging) writes() ([]models.Customer, []models.Customer) {
	var inserts, updates []models.Customer
	for _, id := range s.order {
		switch {
		case s.inserted[id]:
			inserts = append(inserts, s.state[id])
		case s.updated[id]:
			updates = append(updates, s.state[id])
		}
	}

	return inserts, updates
}
