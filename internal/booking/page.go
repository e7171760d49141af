// internal/booking/page.go
package booking

import "fmt"

// DefaultPageSize is used by the HTTP layer when the caller omits size.
const DefaultPageSize = 10

// Page is an offset/limit window over an ordered result.
type Page struct {
	Offset int
	Limit  int
}

// NewPage validates the window. Out-of-range values are rejected, never clamped.
func NewPage(offset, limit int) (Page, error) {
	if offset < 0 {
		return Page{}, fmt.Errorf("offset must not be negative, got %d: %w", offset, ErrValidation)
	}
	if limit < 1 {
		return Page{}, fmt.Errorf("limit must be positive, got %d: %w", limit, ErrValidation)
	}
	return Page{Offset: offset, Limit: limit}, nil
}

// Apply cuts the window out of an already ordered slice.
func (p Page) Apply(bookings []Booking) []Booking {
	if p.Offset >= len(bookings) {
		return []Booking{}
	}
	end := p.Offset + p.Limit
	if end > len(bookings) {
		end = len(bookings)
	}
	return bookings[p.Offset:end]
}
