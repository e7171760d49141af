package booking

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGuards(t *testing.T) {
	owner, booker, stranger := uuid.New(), uuid.New(), uuid.New()
	item := &Item{ID: uuid.New(), OwnerID: owner, Available: true}
	b := &Booking{ID: uuid.New(), ItemID: item.ID, BookerID: booker, OwnerID: owner}

	assert.NoError(t, RequireOwner(item, owner))
	assert.ErrorIs(t, RequireOwner(item, booker), ErrForbidden)

	assert.NoError(t, RequireItemOwner(b, owner))
	assert.ErrorIs(t, RequireItemOwner(b, booker), ErrForbidden)

	assert.NoError(t, RequireParticipant(b, owner))
	assert.NoError(t, RequireParticipant(b, booker))
	assert.ErrorIs(t, RequireParticipant(b, stranger), ErrForbidden)

	assert.NoError(t, RequireBooker(b, booker))
	assert.ErrorIs(t, RequireBooker(b, owner), ErrForbidden)
}
