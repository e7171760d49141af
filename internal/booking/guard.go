// internal/booking/guard.go
package booking

import (
	"fmt"

	"github.com/google/uuid"
)

// RequireOwner fails with ErrForbidden unless actorID owns item.
func RequireOwner(item *Item, actorID uuid.UUID) error {
	if item.OwnerID != actorID {
		return fmt.Errorf("user %s does not own item %s: %w", actorID, item.ID, ErrForbidden)
	}
	return nil
}

// RequireItemOwner checks against the owner recorded on the booking, so no
// catalog lookup is needed.
func RequireItemOwner(b *Booking, actorID uuid.UUID) error {
	if b.OwnerID != actorID {
		return fmt.Errorf("user %s does not own the item of booking %s: %w", actorID, b.ID, ErrForbidden)
	}
	return nil
}

// RequireParticipant fails with ErrForbidden unless actorID booked b or owns the item.
func RequireParticipant(b *Booking, actorID uuid.UUID) error {
	if b.BookerID == actorID || b.OwnerID == actorID {
		return nil
	}
	return fmt.Errorf("user %s is neither booker nor owner of booking %s: %w", actorID, b.ID, ErrForbidden)
}

// RequireBooker fails with ErrForbidden unless actorID made the booking.
func RequireBooker(b *Booking, actorID uuid.UUID) error {
	if b.BookerID != actorID {
		return fmt.Errorf("user %s did not make booking %s: %w", actorID, b.ID, ErrForbidden)
	}
	return nil
}
