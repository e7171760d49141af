// internal/booking/domain.go
package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusCanceled Status = "CANCELED"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusApproved, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// Action is a request to move a booking out of its current state.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// Transition is the only place a booking status is allowed to change.
// Approve and reject leave WAITING exactly once; cancel is allowed while the
// booking is still WAITING or APPROVED.
func Transition(current Status, action Action) (Status, error) {
	switch action {
	case ActionApprove, ActionReject:
		if current != StatusWaiting {
			return current, fmt.Errorf("booking is %s, cannot %s: %w", current, action, ErrStatusConflict)
		}
		if action == ActionApprove {
			return StatusApproved, nil
		}
		return StatusRejected, nil

	case ActionCancel:
		if current != StatusWaiting && current != StatusApproved {
			return current, fmt.Errorf("booking is %s, cannot cancel: %w", current, ErrStatusConflict)
		}
		return StatusCanceled, nil
	}

	return current, fmt.Errorf("unknown action %q: %w", action, ErrValidation)
}

// Booking is a time-bounded request by a booker to use an item.
type Booking struct {
	ID        uuid.UUID `json:"id"`
	ItemID    uuid.UUID `json:"itemId"`
	BookerID  uuid.UUID `json:"bookerId"`
	OwnerID   uuid.UUID `json:"ownerId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    Status    `json:"status"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Item is the slice of the catalog entry the booking core needs.
type Item struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"ownerId"`
	Available bool      `json:"available"`
}

// Party is a registered user of the system.
type Party struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Nearest holds the last started and the next upcoming booking of an item.
type Nearest struct {
	Last *Booking `json:"last"`
	Next *Booking `json:"next"`
}

// BookingRequestedEvent is published when a booker asks for an item.
type BookingRequestedEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
	ItemID    uuid.UUID `json:"item_id"`
	BookerID  uuid.UUID `json:"booker_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// BookingDecidedEvent is published when the owner approves or rejects.
type BookingDecidedEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Status    Status    `json:"status"`
}

// BookingCanceledEvent is published when the booker withdraws.
type BookingCanceledEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
	BookerID  uuid.UUID `json:"booker_id"`
	From      Status    `json:"from"`
}

// BookingDeletedEvent is published when an administrator removes a booking.
type BookingDeletedEvent struct {
	BookingID uuid.UUID `json:"booking_id"`
}

const (
	eventBookingRequested = "BookingRequested"
	eventBookingApproved  = "BookingApproved"
	eventBookingRejected  = "BookingRejected"
	eventBookingCanceled  = "BookingCanceled"
	eventBookingDeleted   = "BookingDeleted"
)
