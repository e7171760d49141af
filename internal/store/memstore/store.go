// Package memstore keeps bookings in process memory. It is meant for tests
// and single-instance development runs.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"shareit/internal/booking"
)

// Store is a booking.Repository guarded by a single RWMutex.
type Store struct {
	mu              sync.RWMutex
	bookings        map[uuid.UUID]booking.Booking
	allowOverlapped bool
}

// Option configures the store.
type Option func(*Store)

// AllowOverlappingApprovals turns off the overlap check on approval.
func AllowOverlappingApprovals() Option {
	return func(s *Store) {
		s.allowOverlapped = true
	}
}

// New creates an empty store.
func New(options ...Option) *Store {
	s := &Store{bookings: make(map[uuid.UUID]booking.Booking)}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Store) Save(_ context.Context, b booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookings[b.ID]; exists {
		return fmt.Errorf("booking %s already stored", b.ID)
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, booking.ErrNotFound)
	}
	return &b, nil
}

func (s *Store) ListByParty(_ context.Context, partyID uuid.UUID, role booking.Role, view booking.View, now time.Time, page booking.Page) ([]booking.Booking, error) {
	s.mu.RLock()
	all := s.snapshot()
	s.mu.RUnlock()

	return page.Apply(booking.Classify(all, partyID, role, view, now)), nil
}

func (s *Store) ListByItem(_ context.Context, itemID uuid.UUID) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]booking.Booking, 0)
	for _, b := range s.bookings {
		if b.ItemID == itemID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) HasApprovedOverlap(_ context.Context, itemID uuid.UUID, start, end time.Time, exclude uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.overlapLocked(itemID, start, end, exclude), nil
}

// CompareAndSetStatus swaps under the write lock. Approving also re-checks
// overlap so two approvals on one item cannot both land.
func (s *Store) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to booking.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	if to == booking.StatusApproved && !s.allowOverlapped && s.overlapLocked(b.ItemID, b.Start, b.End, b.ID) {
		return false, fmt.Errorf("booking %s: %w", id, booking.ErrOverlap)
	}

	b.Status = to
	b.Version++
	b.UpdatedAt = at
	s.bookings[id] = b
	return true, nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[id]; !ok {
		return false, nil
	}
	delete(s.bookings, id)
	return true, nil
}

// Len reports how many bookings are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bookings)
}

func (s *Store) overlapLocked(itemID uuid.UUID, start, end time.Time, exclude uuid.UUID) bool {
	for _, b := range s.bookings {
		if b.ItemID != itemID || b.ID == exclude || b.Status != booking.StatusApproved {
			continue
		}
		if b.Start.Before(end) && b.End.After(start) {
			return true
		}
	}
	return false
}

func (s *Store) snapshot() []booking.Booking {
	all := make([]booking.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		all = append(all, b)
	}
	return all
}
