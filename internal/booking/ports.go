// internal/booking/ports.go
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"shareit/internal/journal"
)

// Repository persists bookings. Implementations must make CompareAndSetStatus
// a single atomic step per record.
type Repository interface {
	// Save inserts a new booking.
	Save(ctx context.Context, b Booking) error

	// FindByID returns the booking or an error wrapping ErrNotFound.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// ListByParty returns one page of the bookings where partyID plays role and
	// which match view at now, ordered by start descending.
	ListByParty(ctx context.Context, partyID uuid.UUID, role Role, view View, now time.Time, page Page) ([]Booking, error)

	// ListByItem returns every booking of an item, in no particular order.
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]Booking, error)

	// HasApprovedOverlap reports whether an APPROVED booking other than exclude
	// intersects [start, end) on the item.
	HasApprovedOverlap(ctx context.Context, itemID uuid.UUID, start, end time.Time, exclude uuid.UUID) (bool, error)

	// CompareAndSetStatus moves the booking from `from` to `to` and bumps its
	// version. It reports false when the booking is missing or not in `from`.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)

	// Delete removes the booking and reports whether it existed.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// ItemCatalog looks items up. GetItem wraps ErrNotFound for unknown ids.
type ItemCatalog interface {
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
}

// PartyDirectory looks users up.
type PartyDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	GetParty(ctx context.Context, id uuid.UUID) (*Party, error)
}

// Journal is the append-only history of booking changes. Append picks the
// next sequence number itself and returns it.
type Journal interface {
	Append(ctx context.Context, e journal.Entry) (int, error)
	Load(ctx context.Context, bookingID uuid.UUID) ([]journal.Entry, error)
}

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
