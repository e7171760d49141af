package booking_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"shareit/internal/booking"
	"shareit/internal/journal"
	"shareit/internal/store/memstore"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
	base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

var errUpstreamDown = errors.New("upstream down")

type fakeCatalog struct {
	mu    sync.Mutex
	items map[uuid.UUID]booking.Item
	down  bool
}

func (c *fakeCatalog) GetItem(_ context.Context, id uuid.UUID) (*booking.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return nil, errUpstreamDown
	}
	item, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, booking.ErrNotFound)
	}
	return &item, nil
}

func (c *fakeCatalog) setDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

func (c *fakeCatalog) put(item booking.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

type fakeDirectory struct {
	parties map[uuid.UUID]booking.Party
}

func (d *fakeDirectory) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := d.parties[id]
	return ok, nil
}

func (d *fakeDirectory) GetParty(_ context.Context, id uuid.UUID) (*booking.Party, error) {
	p, ok := d.parties[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, booking.ErrNotFound)
	}
	return &p, nil
}

// fakeJournal numbers entries per booking like the Postgres journal. The
// next `failures` appends fail.
type fakeJournal struct {
	mu       sync.Mutex
	entries  map[uuid.UUID][]journal.Entry
	failures int
}

func (j *fakeJournal) Append(_ context.Context, e journal.Entry) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.failures > 0 {
		j.failures--
		return 0, errUpstreamDown
	}
	e.Seq = len(j.entries[e.BookingID]) + 1
	j.entries[e.BookingID] = append(j.entries[e.BookingID], e)
	return e.Seq, nil
}

func (j *fakeJournal) Load(_ context.Context, id uuid.UUID) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]journal.Entry, len(j.entries[id]))
	copy(out, j.entries[id])
	return out, nil
}

func (j *fakeJournal) failNext(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failures = n
}

type fixture struct {
	svc      booking.Service
	store    *memstore.Store
	catalog  *fakeCatalog
	journal  *fakeJournal
	owner    uuid.UUID
	booker   uuid.UUID
	stranger uuid.UUID
	item     booking.Item
	now      time.Time
}

func newFixture(t *testing.T, options ...booking.Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memstore.New(), options...)
}

func newFixtureWithStore(t *testing.T, store *memstore.Store, options ...booking.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:    store,
		catalog:  &fakeCatalog{items: make(map[uuid.UUID]booking.Item)},
		journal:  &fakeJournal{entries: make(map[uuid.UUID][]journal.Entry)},
		owner:    uuid.New(),
		booker:   uuid.New(),
		stranger: uuid.New(),
		now:      base,
	}
	f.item = booking.Item{ID: uuid.New(), OwnerID: f.owner, Available: true}
	f.catalog.put(f.item)

	directory := &fakeDirectory{parties: map[uuid.UUID]booking.Party{
		f.owner:    {ID: f.owner, Name: "owner"},
		f.booker:   {ID: f.booker, Name: "booker"},
		f.stranger: {ID: f.stranger, Name: "stranger"},
	}}

	options = append([]booking.Option{
		booking.WithClock(func() time.Time { return f.now }),
		booking.WithJournal(f.journal),
	}, options...)
	f.svc = booking.NewService(f.store, f.catalog, directory, options...)

	return f
}

// window returns [now+startDay days, now+endDay days).
func (f *fixture) window(startDay, endDay int) (time.Time, time.Time) {
	return f.now.AddDate(0, 0, startDay), f.now.AddDate(0, 0, endDay)
}

func (f *fixture) create(t *testing.T, startDay, endDay int) *booking.Booking {
	t.Helper()

	start, end := f.window(startDay, endDay)
	b, err := f.svc.Create(context.Background(), f.item.ID, f.booker, start, end)
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}
