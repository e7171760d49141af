package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNearest(t *testing.T) {
	now := base
	booker := uuid.New()

	a := bookingAt(booker, now.AddDate(0, 0, -3), now.AddDate(0, 0, -2), StatusApproved)
	b := bookingAt(booker, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1), StatusApproved)
	c := bookingAt(booker, now.AddDate(0, 0, 2), now.AddDate(0, 0, 3), StatusWaiting)

	got := ResolveNearest([]Booking{c, a, b}, now)
	require.NotNil(t, got.Last)
	require.NotNil(t, got.Next)
	assert.Equal(t, b.ID, got.Last.ID)
	assert.Equal(t, c.ID, got.Next.ID)
}

func TestResolveNearestEmpty(t *testing.T) {
	got := ResolveNearest(nil, base)
	assert.Nil(t, got.Last)
	assert.Nil(t, got.Next)
}

func TestResolveNearestSkipsRejectedAndCanceled(t *testing.T) {
	booker := uuid.New()
	rejected := bookingAt(booker, base.Add(-time.Hour), base, StatusRejected)
	canceled := bookingAt(booker, base.Add(time.Hour), base.Add(2*time.Hour), StatusCanceled)
	older := bookingAt(booker, base.Add(-5*time.Hour), base.Add(-4*time.Hour), StatusApproved)

	got := ResolveNearest([]Booking{rejected, canceled, older}, base)
	require.NotNil(t, got.Last)
	assert.Equal(t, older.ID, got.Last.ID)
	assert.Nil(t, got.Next)
}

func TestResolveNearestStartAtNowIsNeither(t *testing.T) {
	b := bookingAt(uuid.New(), base, base.Add(time.Hour), StatusApproved)

	got := ResolveNearest([]Booking{b}, base)
	assert.Nil(t, got.Last)
	assert.Nil(t, got.Next)
}

func TestResolveNearestTieGoesToLowerID(t *testing.T) {
	booker := uuid.New()
	low := bookingAt(booker, base.Add(time.Hour), base.Add(2*time.Hour), StatusWaiting)
	high := bookingAt(booker, base.Add(time.Hour), base.Add(3*time.Hour), StatusWaiting)
	low.ID = uuid.MustParse("10000000-0000-0000-0000-000000000000")
	high.ID = uuid.MustParse("20000000-0000-0000-0000-000000000000")

	got := ResolveNearest([]Booking{high, low}, base)
	require.NotNil(t, got.Next)
	assert.Equal(t, low.ID, got.Next.ID)

	got = ResolveNearest([]Booking{low, high}, base)
	assert.Equal(t, low.ID, got.Next.ID)
}

func TestResolveNearestReturnsCopies(t *testing.T) {
	b := bookingAt(uuid.New(), base.Add(-time.Hour), base, StatusApproved)
	input := []Booking{b}

	got := ResolveNearest(input, base)
	got.Last.Status = StatusCanceled
	assert.Equal(t, StatusApproved, input[0].Status)
}
