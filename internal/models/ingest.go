package models

import (
	"time"

	"github.com/google/uuid"
)

// IngestLog records one successful ingestion run.
type IngestLog struct {
	ID               uuid.UUID
	Filename         string
	UploadedAt       time.Time
	CustomersRows    int
	TransactionsRows int
	ProductsRows     int
}
