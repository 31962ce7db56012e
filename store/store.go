package store

import (
	"context"
	"errors"
	"fmt"

	"presence-backend/models"
)

var ErrNotFound = errors.New("not found")

// Conflict fields
const (
	ConflictUserEvent = "user_event"
	ConflictTokenID   = "token_id"
	ConflictTxRef     = "tx_ref"
	ConflictEventID   = "event_id"
)

// ConflictError is returned when a unique constraint rejects a check-in.
// Existing is set only when the conflict is with the caller's own pair.
type ConflictError struct {
	Field    string
	Existing *models.CheckIn
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("check-in conflict on %s", e.Field)
}

// Page selects a window of a listing. Page is 1-based.
type Page struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the page to valid bounds
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// CheckInStore persists check-ins with at most one per (user, event).
type CheckInStore interface {
	// GetCheckIn returns ErrNotFound when the pair has no check-in
	GetCheckIn(ctx context.Context, userID, eventID string) (*models.CheckIn, error)
	// CreateCheckIn inserts atomically. An identical existing record is
	// returned with created=false; a different one yields *ConflictError.
	CreateCheckIn(ctx context.Context, c models.CheckIn) (rec *models.CheckIn, created bool, err error)
	ListByUser(ctx context.Context, userID string, page Page) ([]models.CheckIn, int, error)
	ListByEvent(ctx context.Context, eventID string, page Page) ([]models.CheckIn, int, error)
}

type EventStore interface {
	CreateEvent(ctx context.Context, e models.Event) (*models.Event, error)
	// GetEvent returns ErrNotFound for an unknown id
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}
