package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/UnknownOlympus/hermes/internal/models"
)

const (
	fieldSeparator = "_"
	topLevelFields = 5
	trailingParts  = 2
	secondsPerDay  = 24 * 60 * 60
)

// recordCutset is stripped from both ends of a packed record, in any order and depth.
const recordCutset = " \t\r\n{}"

// serialEpoch is day zero of spreadsheet serial dates.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// dobLayouts lists the date of birth formats accepted in packed records, tried in order.
var dobLayouts = []string{
	time.DateOnly,
	"02/01/2006",
	"2006/01/02",
	"02-01-2006",
	time.DateTime,
}

// ErrMalformedRecord is the sentinel matched by every MalformedRecordError.
var ErrMalformedRecord = errors.New("malformed customer record")

// MalformedRecordError is returned when a packed string does not follow the
// id_name_email_dob_address_serial layout.
type MalformedRecordError struct {
	Record int    // Record is the 1-based position among customer records, zero when parsing a single string.
	Raw    string // Raw is the original cell value.
	Reason string // Reason describes which part of the layout was violated.
}

func (e *MalformedRecordError) Error() string {
	if e.Record > 0 {
		return fmt.Sprintf("malformed customer record %d (%q): %s", e.Record, e.Raw, e.Reason)
	}

	return fmt.Sprintf("malformed customer record %q: %s", e.Raw, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedRecord) true for any MalformedRecordError.
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// Parse decodes one packed customer string into a Customer. The returned customer has no
// coordinates and an empty phone.
func Parse(raw string) (models.Customer, error) {
	cleaned := strings.Trim(raw, recordCutset)

	fields := strings.SplitN(cleaned, fieldSeparator, topLevelFields)
	if len(fields) != topLevelFields {
		return models.Customer{}, &MalformedRecordError{
			Raw:    raw,
			Reason: fmt.Sprintf("expected %d fields, got %d", topLevelFields, len(fields)),
		}
	}

	sep := strings.LastIndex(fields[4], fieldSeparator)
	if sep < 0 {
		return models.Customer{}, &MalformedRecordError{
			Raw:    raw,
			Reason: fmt.Sprintf("expected %d parts in address segment, got 1", trailingParts),
		}
	}
	address := strings.TrimSpace(fields[4][:sep])
	serial := strings.TrimSpace(fields[4][sep+1:])

	customerID := strings.TrimSpace(fields[0])
	if customerID == "" {
		return models.Customer{}, &MalformedRecordError{Raw: raw, Reason: "empty customer id"}
	}

	registeredAt, err := FromSerial(serial)
	if err != nil {
		return models.Customer{}, &MalformedRecordError{Raw: raw, Reason: err.Error()}
	}

	return models.Customer{
		CustomerID:   customerID,
		Name:         strings.TrimSpace(fields[1]),
		Email:        strings.TrimSpace(fields[2]),
		DateOfBirth:  parseDate(strings.TrimSpace(fields[3])),
		Address:      address,
		RegisteredAt: registeredAt,
	}, nil
}

// ParseAll parses rows in order and stops at the first malformed one.
func ParseAll(rows []string) ([]models.Customer, error) {
	customers := make([]models.Customer, 0, len(rows))
	for idx, raw := range rows {
		customer, err := Parse(raw)
		if err != nil {
			var malformed *MalformedRecordError
			if errors.As(err, &malformed) {
				malformed.Record = idx + 1
			}
			return nil, err
		}
		customers = append(customers, customer)
	}

	return customers, nil
}

// FromSerial converts a spreadsheet serial day count into a UTC timestamp.
// The fractional part maps to the time of day, rounded to the second.
func FromSerial(serial string) (time.Time, error) {
	days, err := strconv.ParseFloat(serial, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid serial date %q", serial)
	}
	if math.IsNaN(days) || math.IsInf(days, 0) {
		return time.Time{}, fmt.Errorf("invalid serial date %q", serial)
	}

	seconds := math.Round(days * secondsPerDay)

	return serialEpoch.Add(time.Duration(seconds) * time.Second), nil
}

// parseDate returns nil for values that match none of the known layouts.
func parseDate(value string) *time.Time {
	for _, layout := range dobLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed
		}
	}

	return nil
}
