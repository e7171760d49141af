// internal/booking/classify.go
package booking

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// View is a named filter applied when listing bookings.
type View string

const (
	ViewAll      View = "ALL"
	ViewCurrent  View = "CURRENT"
	ViewPast     View = "PAST"
	ViewFuture   View = "FUTURE"
	ViewWaiting  View = "WAITING"
	ViewApproved View = "APPROVED"
	ViewRejected View = "REJECTED"
	ViewCanceled View = "CANCELED"
)

// ParseView accepts a view name case-insensitively. An empty name means ALL.
func ParseView(s string) (View, error) {
	if s == "" {
		return ViewAll, nil
	}
	v := View(strings.ToUpper(s))
	switch v {
	case ViewAll, ViewCurrent, ViewPast, ViewFuture, ViewWaiting, ViewApproved, ViewRejected, ViewCanceled:
		return v, nil
	}
	return "", fmt.Errorf("unknown state: %s: %w", s, ErrValidation)
}

// StatusOf returns the status a status view selects, and false for time views.
func (v View) StatusOf() (Status, bool) {
	switch v {
	case ViewWaiting, ViewApproved, ViewRejected, ViewCanceled:
		return Status(v), true
	}
	return "", false
}

// Role selects which side of a booking a party is looked up on.
type Role string

const (
	RoleBooker Role = "BOOKER"
	RoleOwner  Role = "OWNER"
)

// Involves reports whether partyID plays role on b.
func (r Role) Involves(b Booking, partyID uuid.UUID) bool {
	switch r {
	case RoleBooker:
		return b.BookerID == partyID
	case RoleOwner:
		return b.OwnerID == partyID
	}
	return false
}

// Matches reports whether b belongs to view at instant now.
//
//	CURRENT: start <= now < end
//	PAST:    end <= now
//	FUTURE:  start > now
//
// Status views ignore time.
func Matches(b Booking, view View, now time.Time) bool {
	switch view {
	case ViewAll:
		return true
	case ViewCurrent:
		return !b.Start.After(now) && now.Before(b.End)
	case ViewPast:
		return !b.End.After(now)
	case ViewFuture:
		return b.Start.After(now)
	}
	if status, ok := view.StatusOf(); ok {
		return b.Status == status
	}
	return false
}

// Classify returns the bookings where partyID plays role and which match view
// at now, newest start first. The input slice is left untouched.
func Classify(bookings []Booking, partyID uuid.UUID, role Role, view View, now time.Time) []Booking {
	out := make([]Booking, 0, len(bookings))
	for _, b := range bookings {
		if role.Involves(b, partyID) && Matches(b, view, now) {
			out = append(out, b)
		}
	}
	SortByStartDesc(out)
	return out
}

// SortByStartDesc orders bookings by start descending; equal starts fall back to id ascending.
func SortByStartDesc(bookings []Booking) {
	slices.SortFunc(bookings, func(a, b Booking) int {
		if c := b.Start.Compare(a.Start); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}
