// internal/booking/service.go
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"shareit/internal/journal"
)

// Service defines the interface for the booking service.
type Service interface {
	Create(ctx context.Context, itemID, bookerID uuid.UUID, start, end time.Time) (*Booking, error)
	GetByID(ctx context.Context, id, requesterID uuid.UUID) (*Booking, error)
	ListByBooker(ctx context.Context, bookerID uuid.UUID, view View, offset, limit int) ([]Booking, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, view View, offset, limit int) ([]Booking, error)
	Approve(ctx context.Context, id, actorID uuid.UUID, approved bool) (*Booking, error)
	Cancel(ctx context.Context, id, actorID uuid.UUID) (*Booking, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ResolveNearest(ctx context.Context, itemID uuid.UUID, now time.Time) (Nearest, error)
	NearestForViewer(ctx context.Context, itemID, viewerID uuid.UUID) (Nearest, error)
	History(ctx context.Context, id, requesterID uuid.UUID) ([]journal.Entry, error)
}

// Policy holds the creation rules that differ between deployments.
type Policy struct {
	AllowPastStart bool
	PreventOverlap bool
}

// DefaultPolicy rejects windows in the past and overlaps with approved bookings.
func DefaultPolicy() Policy {
	return Policy{AllowPastStart: false, PreventOverlap: true}
}
