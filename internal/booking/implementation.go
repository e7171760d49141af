// internal/booking/implementation.go
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"shareit/internal/journal"
)

const (
	logMsgBookingCreated    = "booking created"
	logMsgBookingDecided    = "booking decided"
	logMsgBookingCanceled   = "booking canceled"
	logMsgBookingDeleted    = "booking deleted"
	logMsgJournalFailed     = "failed to append booking event"
	logMsgDecisionLost      = "booking decision lost the race"
	logAttrBookingID        = "booking_id"
	logAttrItemID           = "item_id"
	logAttrActorID          = "actor_id"
	logAttrStatus           = "status"
	logAttrVersion          = "version"
	logAttrError            = "error"
	metricTransitions       = "booking.transitions"
	metricTransitionsDesc   = "Booking status changes by resulting status"
	instrumentationBookings = "shareit/booking"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Option configures the booking service.
type Option func(*service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithLogger sets the logger for the service.
func WithLogger(logger Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithJournal makes the service append every state change to j.
func WithJournal(j Journal) Option {
	return func(s *service) {
		s.journal = j
	}
}

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(s *service) {
		s.policy = p
	}
}

// service implements the Service interface.
type service struct {
	repo        Repository
	items       ItemCatalog
	parties     PartyDirectory
	journal     Journal
	logger      Logger
	policy      Policy
	now         func() time.Time
	tracer      trace.Tracer
	transitions metric.Int64Counter
}

// NewService creates a new booking service instance.
func NewService(repo Repository, items ItemCatalog, parties PartyDirectory, options ...Option) Service {
	s := &service{
		repo:    repo,
		items:   items,
		parties: parties,
		policy:  DefaultPolicy(),
		now:     time.Now,
		tracer:  otel.Tracer(instrumentationBookings),
	}

	for _, option := range options {
		option(s)
	}

	counter, err := otel.Meter(instrumentationBookings).Int64Counter(metricTransitions, metric.WithDescription(metricTransitionsDesc))
	if err != nil {
		counter = noop.Int64Counter{}
	}
	s.transitions = counter

	return s
}

// Create validates a booking request and stores it as WAITING.
func (s *service) Create(ctx context.Context, itemID, bookerID uuid.UUID, start, end time.Time) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.create",
		trace.WithAttributes(
			attribute.String("item.id", itemID.String()),
			attribute.String("booker.id", bookerID.String()),
		),
	)
	defer span.End()

	b, err := s.create(ctx, itemID, bookerID, start, end)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.id", b.ID.String()))
	return b, nil
}

func (s *service) create(ctx context.Context, itemID, bookerID uuid.UUID, start, end time.Time) (*Booking, error) {
	// Step 1: the booker must be registered
	exists, err := s.parties.Exists(ctx, bookerID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up booker: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("user %s: %w", bookerID, ErrNotFound)
	}

	// Step 2: the item must exist and be open for booking
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if !item.Available {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrItemUnavailable)
	}

	// Step 3: owners cannot book their own items; reported as not found
	if item.OwnerID == bookerID {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}

	// Step 4: the window must make sense
	now := s.now()
	start, end = normalize(start), normalize(end)
	if err := s.validateWindow(start, end, now); err != nil {
		return nil, err
	}

	if s.policy.PreventOverlap {
		overlap, err := s.repo.HasApprovedOverlap(ctx, itemID, start, end, uuid.Nil)
		if err != nil {
			return nil, fmt.Errorf("failed to check overlap: %w", err)
		}
		if overlap {
			return nil, fmt.Errorf("item %s from %s to %s: %w", itemID, start.Format(time.RFC3339), end.Format(time.RFC3339), ErrOverlap)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate booking id: %w", err)
	}

	b := Booking{
		ID:        id,
		ItemID:    itemID,
		BookerID:  bookerID,
		OwnerID:   item.OwnerID,
		Start:     start,
		End:       end,
		Status:    StatusWaiting,
		Version:   1,
		CreatedAt: normalize(now),
		UpdatedAt: normalize(now),
	}

	if err := s.repo.Save(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}

	s.record(ctx, b, eventBookingRequested, BookingRequestedEvent{
		BookingID: b.ID,
		ItemID:    b.ItemID,
		BookerID:  b.BookerID,
		Start:     b.Start,
		End:       b.End,
	})
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(b.Status))))
	s.logInfo(logMsgBookingCreated, logAttrBookingID, b.ID.String(), logAttrItemID, itemID.String(), logAttrActorID, bookerID.String())

	return &b, nil
}

func (s *service) validateWindow(start, end, now time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("start and end are required: %w", ErrValidation)
	}
	if !start.Before(end) {
		return fmt.Errorf("start %s must be before end %s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), ErrValidation)
	}
	if !s.policy.AllowPastStart && (start.Before(now) || end.Before(now)) {
		return fmt.Errorf("booking window must not be in the past: %w", ErrValidation)
	}
	return nil
}

// GetByID returns a booking to its booker or to the owner of the booked item.
func (s *service) GetByID(ctx context.Context, id, requesterID uuid.UUID) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.get",
		trace.WithAttributes(attribute.String("booking.id", id.String())),
	)
	defer span.End()

	if err := s.requireParty(ctx, requesterID); err != nil {
		return nil, err
	}

	b, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := RequireParticipant(b, requesterID); err != nil {
		return nil, err
	}

	return b, nil
}

// ListByBooker pages through the bookings made by bookerID.
func (s *service) ListByBooker(ctx context.Context, bookerID uuid.UUID, view View, offset, limit int) ([]Booking, error) {
	return s.list(ctx, "booking.list_by_booker", bookerID, RoleBooker, view, offset, limit)
}

// ListByOwner pages through the bookings on items owned by ownerID.
func (s *service) ListByOwner(ctx context.Context, ownerID uuid.UUID, view View, offset, limit int) ([]Booking, error) {
	return s.list(ctx, "booking.list_by_owner", ownerID, RoleOwner, view, offset, limit)
}

func (s *service) list(ctx context.Context, spanName string, partyID uuid.UUID, role Role, view View, offset, limit int) ([]Booking, error) {
	ctx, span := s.tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("party.id", partyID.String()),
			attribute.String("view", string(view)),
			attribute.Int("offset", offset),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	view, err := ParseView(string(view))
	if err != nil {
		return nil, err
	}
	page, err := NewPage(offset, limit)
	if err != nil {
		return nil, err
	}

	if err := s.requireParty(ctx, partyID); err != nil {
		return nil, err
	}

	bookings, err := s.repo.ListByParty(ctx, partyID, role, view, s.now(), page)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	span.SetAttributes(attribute.Int("bookings.returned", len(bookings)))
	return bookings, nil
}

// Approve lets the item owner approve or reject a WAITING booking, once.
func (s *service) Approve(ctx context.Context, id, actorID uuid.UUID, approved bool) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.approve",
		trace.WithAttributes(
			attribute.String("booking.id", id.String()),
			attribute.String("actor.id", actorID.String()),
			attribute.Bool("approved", approved),
		),
	)
	defer span.End()

	b, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := RequireItemOwner(b, actorID); err != nil {
		return nil, err
	}

	action := ActionReject
	if approved {
		action = ActionApprove
	}
	next, err := Transition(b.Status, action)
	if err != nil {
		return nil, err
	}

	if approved && s.policy.PreventOverlap {
		overlap, err := s.repo.HasApprovedOverlap(ctx, b.ItemID, b.Start, b.End, b.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check overlap: %w", err)
		}
		if overlap {
			return nil, fmt.Errorf("booking %s: %w", b.ID, ErrOverlap)
		}
	}

	now := normalize(s.now())
	swapped, err := s.repo.CompareAndSetStatus(ctx, b.ID, b.Status, next, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}
	if !swapped {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		s.logInfo(logMsgDecisionLost, logAttrBookingID, b.ID.String(), logAttrActorID, actorID.String())
		return nil, fmt.Errorf("booking %s was decided concurrently: %w", b.ID, ErrStatusConflict)
	}

	b.Status = next
	b.Version++
	b.UpdatedAt = now

	eventType := eventBookingRejected
	if approved {
		eventType = eventBookingApproved
	}
	s.record(ctx, *b, eventType, BookingDecidedEvent{BookingID: b.ID, OwnerID: actorID, Status: next})
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(next))))
	s.logInfo(logMsgBookingDecided, logAttrBookingID, b.ID.String(), logAttrActorID, actorID.String(), logAttrStatus, string(next))

	return b, nil
}

// Cancel lets the booker withdraw a WAITING or APPROVED booking.
func (s *service) Cancel(ctx context.Context, id, actorID uuid.UUID) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.cancel",
		trace.WithAttributes(
			attribute.String("booking.id", id.String()),
			attribute.String("actor.id", actorID.String()),
		),
	)
	defer span.End()

	b, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := RequireBooker(b, actorID); err != nil {
		return nil, err
	}

	from := b.Status
	next, err := Transition(from, ActionCancel)
	if err != nil {
		return nil, err
	}

	now := normalize(s.now())
	swapped, err := s.repo.CompareAndSetStatus(ctx, b.ID, from, next, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}
	if !swapped {
		return nil, fmt.Errorf("booking %s changed concurrently: %w", b.ID, ErrStatusConflict)
	}

	b.Status = next
	b.Version++
	b.UpdatedAt = now

	s.record(ctx, *b, eventBookingCanceled, BookingCanceledEvent{BookingID: b.ID, BookerID: actorID, From: from})
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(next))))
	s.logInfo(logMsgBookingCanceled, logAttrBookingID, b.ID.String(), logAttrActorID, actorID.String())

	return b, nil
}

// Delete removes a booking for administrative purposes.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "booking.delete",
		trace.WithAttributes(attribute.String("booking.id", id.String())),
	)
	defer span.End()

	b, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if !deleted {
		return fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}

	b.Version++
	s.record(ctx, *b, eventBookingDeleted, BookingDeletedEvent{BookingID: id})
	s.logInfo(logMsgBookingDeleted, logAttrBookingID, id.String())

	return nil
}

// ResolveNearest returns the last started and next upcoming booking of an item relative to now.
func (s *service) ResolveNearest(ctx context.Context, itemID uuid.UUID, now time.Time) (Nearest, error) {
	ctx, span := s.tracer.Start(ctx, "booking.resolve_nearest",
		trace.WithAttributes(attribute.String("item.id", itemID.String())),
	)
	defer span.End()

	if _, err := s.items.GetItem(ctx, itemID); err != nil {
		return Nearest{}, fmt.Errorf("failed to get item: %w", err)
	}

	bookings, err := s.repo.ListByItem(ctx, itemID)
	if err != nil {
		return Nearest{}, fmt.Errorf("failed to list item bookings: %w", err)
	}

	return ResolveNearest(bookings, now), nil
}

// NearestForViewer is the item-detail variant: only the owner sees last and next.
func (s *service) NearestForViewer(ctx context.Context, itemID, viewerID uuid.UUID) (Nearest, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return Nearest{}, fmt.Errorf("failed to get item: %w", err)
	}
	if RequireOwner(item, viewerID) != nil {
		return Nearest{}, nil
	}

	return s.ResolveNearest(ctx, itemID, s.now())
}

// History returns the journal of a booking to its booker or item owner.
func (s *service) History(ctx context.Context, id, requesterID uuid.UUID) ([]journal.Entry, error) {
	if _, err := s.GetByID(ctx, id, requesterID); err != nil {
		return nil, err
	}
	if s.journal == nil {
		return []journal.Entry{}, nil
	}

	entries, err := s.journal.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking history: %w", err)
	}
	return entries, nil
}

func (s *service) requireParty(ctx context.Context, id uuid.UUID) error {
	exists, err := s.parties.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !exists {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// record appends b's change to the journal. The booking row is already
// committed, so a journal failure is logged and not returned; the entry's
// version leaves the gap visible in History.
func (s *service) record(ctx context.Context, b Booking, kind string, data interface{}) {
	if s.journal == nil {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		s.logError(logMsgJournalFailed, logAttrBookingID, b.ID.String(), logAttrError, err.Error())
		return
	}

	_, err = s.journal.Append(ctx, journal.Entry{
		BookingID: b.ID,
		Kind:      kind,
		Status:    string(b.Status),
		Version:   b.Version,
		Data:      payload,
	})
	if err != nil {
		s.logError(logMsgJournalFailed, logAttrBookingID, b.ID.String(), logAttrVersion, b.Version, logAttrError, err.Error())
	}
}

func (s *service) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *service) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}

// normalize drops sub-microsecond precision so values survive a database round trip unchanged.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
