package models

import "time"

// Customer is the persisted identity record of a customer, keyed by the external CustomerID.
type Customer struct {
	CustomerID   string       // CustomerID is the opaque external identifier from the workbook.
	Name         string       // Name is the customer's display name.
	Email        string       // Email is unique across customers.
	DateOfBirth  *time.Time   // DateOfBirth is nil when the packed value could not be parsed.
	Address      string       // Address is free text, used as the geocoding query.
	Phone        string       // Phone is not part of the packed format and defaults to empty.
	RegisteredAt time.Time    // RegisteredAt is decoded from the spreadsheet serial date.
	Coordinates  *Coordinates // Coordinates is nil when the address could not be resolved.
}

// AddressChange is an immutable history entry written whenever a customer's address changes.
type AddressChange struct {
	CustomerID     string
	OldAddress     string
	NewAddress     string
	OldCoordinates *Coordinates
	NewCoordinates *Coordinates
	ChangedAt      time.Time
}

// Changeset is the set of writes produced by reconciling one batch of customers.
// Inserts are applied before Updates, and History last, so every history entry
// references a stored customer.
type Changeset struct {
	Inserts []Customer
	Updates []Customer
	History []AddressChange
}

// Empty reports whether the changeset carries no writes.
func (c *Changeset) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.History) == 0
}
