package models

import (
	"database/sql"
	"strings"
	"time"
)

// Mode is the kind of request a customer submits.
type Mode string

// Modes accepted in the "Rent or Buy" column.
const (
	ModeRent Mode = "Rent"
	ModeBuy  Mode = "Buy"
)

// Status is the normalized form of the operator-maintained Status column.
type Status string

// Statuses an operator can set. StatusUnrecognized stands for any other text.
const (
	StatusEmpty        Status = ""
	StatusIssued       Status = "issued"
	StatusCancelled    Status = "cancelled"
	StatusDelivered    Status = "delivered"
	StatusUnrecognized Status = "unrecognized"
)

// NormalizeStatus trims and lowercases raw status text.
func NormalizeStatus(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ParseStatus maps raw status text onto the closed set of statuses.
// Anything that is not blank and not a known status is StatusUnrecognized.
func ParseStatus(raw string) Status {
	switch NormalizeStatus(raw) {
	case "":
		return StatusEmpty
	case string(StatusIssued):
		return StatusIssued
	case string(StatusCancelled):
		return StatusCancelled
	case string(StatusDelivered):
		return StatusDelivered
	default:
		return StatusUnrecognized
	}
}

// Notifiable reports whether reaching this status should notify the requester.
func (s Status) Notifiable() bool {
	return s == StatusIssued || s == StatusCancelled || s == StatusDelivered
}

// Record is one row of the request table.
type Record struct {
	ID          sql.NullInt64 // Telegram message ID of the submission
	Name        string
	ProductName string
	Mode        string // "Rent" or "Buy" for bot submissions; free text if edited by hand
	Phone       string
	Query       string
	Status      string // raw operator text; see State
	Extra       map[string]string
}

// NewRecord returns a record with a valid ID and empty status.
func NewRecord(id int64, name, productName string, mode Mode, phone, query string) Record {
	return Record{
		ID:          sql.NullInt64{Int64: id, Valid: true},
		Name:        name,
		ProductName: productName,
		Mode:        string(mode),
		Phone:       phone,
		Query:       query,
	}
}

// State returns the parsed status of the record.
func (r Record) State() Status {
	return ParseStatus(r.Status)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r.Extra != nil {
		extra := make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		r.Extra = extra
	}
	return r
}

// Snapshot is the full table contents observed at one reconciliation tick.
type Snapshot struct {
	ID      string
	TakenAt time.Time
	Records []Record
}

// NewSnapshot copies records so later mutation of the input cannot leak in.
func NewSnapshot(id string, takenAt time.Time, records []Record) Snapshot {
	copied := make([]Record, len(records))
	for i, rec := range records {
		copied[i] = rec.Clone()
	}
	return Snapshot{ID: id, TakenAt: takenAt, Records: copied}
}

// Transition is a status change detected between two snapshots.
type Transition struct {
	ID   int64
	From Status
	To   Status
}
