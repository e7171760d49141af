// internal/booking/errors.go
package booking

import "errors"

var (
	// ErrNotFound covers a missing booking, item or party, and self-booking attempts.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor lacks the required relation to the booking or item.
	ErrForbidden = errors.New("forbidden")

	// ErrItemUnavailable is returned when the item is not open for booking.
	ErrItemUnavailable = errors.New("item unavailable")

	// ErrStatusConflict is returned when a booking is not in a state that allows the action.
	ErrStatusConflict = errors.New("status conflict")

	// ErrValidation is returned for malformed time ranges, unknown views and bad pagination.
	ErrValidation = errors.New("validation failed")

	// ErrOverlap is returned when the window intersects an approved booking of the same item.
	ErrOverlap = errors.New("overlaps an approved booking")
)
