package booking_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shareit/internal/booking"
	"shareit/internal/idempotency"
)

const adminToken = "s3cret-admin-token"

type api struct {
	*fixture
	srv   *httptest.Server
	admin *httptest.Server
}

func newAPI(t *testing.T, options ...booking.HandlerOption) *api {
	t.Helper()

	f := newFixture(t)
	options = append([]booking.HandlerOption{booking.WithAdminToken(adminToken)}, options...)
	h := booking.NewHandler(f.svc, options...)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	admin := httptest.NewServer(h.AdminRoutes())
	t.Cleanup(admin.Close)

	return &api{fixture: f, srv: srv, admin: admin}
}

func (a *api) doAdmin(t *testing.T, method, path, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, a.admin.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(booking.HeaderAdminToken, token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *api) do(t *testing.T, method, path string, actor uuid.UUID, body string, headers ...string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if actor != uuid.Nil {
		req.Header.Set(booking.HeaderUserID, actor.String())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *api) createBody(startDay, endDay int) string {
	start, end := a.window(startDay, endDay)
	return fmt.Sprintf(`{"itemId":%q,"start":%q,"end":%q}`, a.item.ID, start.Format(time.RFC3339), end.Format(time.RFC3339))
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func errorOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decode[map[string]string](t, resp)["error"]
}

func TestHandlerCreateAndGet(t *testing.T) {
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/bookings", a.booker, a.createBody(1, 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[booking.Booking](t, resp)
	assert.Equal(t, booking.StatusWaiting, created.Status)
	assert.Equal(t, a.item.ID, created.ItemID)

	resp = a.do(t, http.MethodGet, "/bookings/"+created.ID.String(), a.owner, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[booking.Booking](t, resp).ID)

	resp = a.do(t, http.MethodGet, "/bookings/"+created.ID.String(), a.stranger, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotEmpty(t, errorOf(t, resp))

	resp = a.do(t, http.MethodGet, "/bookings/"+uuid.NewString(), a.booker, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerCreateBadRequests(t *testing.T) {
	a := newAPI(t)
	start, end := a.window(1, 2)

	cases := map[string]struct {
		actor uuid.UUID
		body  string
		want  int
	}{
		"missing user header": {uuid.Nil, a.createBody(1, 2), http.StatusBadRequest},
		"malformed json":      {a.booker, `{"itemId":`, http.StatusBadRequest},
		"missing item":        {a.booker, fmt.Sprintf(`{"start":%q,"end":%q}`, start.Format(time.RFC3339), end.Format(time.RFC3339)), http.StatusBadRequest},
		"end before start":    {a.booker, a.createBody(2, 1), http.StatusBadRequest},
		"past window":         {a.booker, a.createBody(-2, -1), http.StatusBadRequest},
		"unknown item":        {a.booker, fmt.Sprintf(`{"itemId":%q,"start":%q,"end":%q}`, uuid.New(), start.Format(time.RFC3339), end.Format(time.RFC3339)), http.StatusNotFound},
		"owner books own":     {a.owner, a.createBody(1, 2), http.StatusNotFound},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := a.do(t, http.MethodPost, "/bookings", tc.actor, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
			assert.NotEmpty(t, errorOf(t, resp))
		})
	}
	assert.Equal(t, 0, a.store.Len())
}

func TestHandlerApproveAndCancel(t *testing.T) {
	a := newAPI(t)
	b := a.create(t, 1, 2)
	path := "/bookings/" + b.ID.String()

	resp := a.do(t, http.MethodPatch, path+"?approved=maybe", a.owner, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodPatch, path+"?approved=true", a.booker, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodPatch, path+"?approved=true", a.owner, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, booking.StatusApproved, decode[booking.Booking](t, resp).Status)

	resp = a.do(t, http.MethodPatch, path+"?approved=false", a.owner, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.do(t, http.MethodPatch, path+"/cancel", a.owner, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodPatch, path+"/cancel", a.booker, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, booking.StatusCanceled, decode[booking.Booking](t, resp).Status)

	resp = a.do(t, http.MethodGet, path+"/history", a.booker, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]map[string]interface{}](t, resp)
	require.Len(t, events, 3)
	assert.Equal(t, "BookingCanceled", events[2]["kind"])
}

func TestHandlerOverlapIsConflict(t *testing.T) {
	a := newAPI(t)
	b := a.create(t, 1, 3)
	_ = a.do(t, http.MethodPatch, "/bookings/"+b.ID.String()+"?approved=true", a.owner, "")

	resp := a.do(t, http.MethodPost, "/bookings", a.booker, a.createBody(2, 4))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandlerLists(t *testing.T) {
	a := newAPI(t)
	for day := 1; day <= 9; day++ {
		a.create(t, day, day+1)
	}

	resp := a.do(t, http.MethodGet, "/bookings?state=ALL&from=3&size=2", a.booker, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[[]booking.Booking](t, resp)
	require.Len(t, page, 2)
	assert.True(t, a.now.AddDate(0, 0, 6).Equal(page[0].Start))
	assert.True(t, a.now.AddDate(0, 0, 5).Equal(page[1].Start))

	resp = a.do(t, http.MethodGet, "/bookings", a.booker, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]booking.Booking](t, resp), booking.DefaultPageSize-1)

	resp = a.do(t, http.MethodGet, "/bookings/owner?state=waiting&size=100", a.owner, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]booking.Booking](t, resp), 9)

	resp = a.do(t, http.MethodGet, "/bookings/owner?state=PAST", a.booker, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]booking.Booking](t, resp))

	resp = a.do(t, http.MethodGet, "/bookings?state=UNSUPPORTED_STATUS", a.booker, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorOf(t, resp), "UNSUPPORTED_STATUS")

	resp = a.do(t, http.MethodGet, "/bookings?from=-1", a.booker, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/bookings?size=ten", a.booker, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerDeleteIsNotPublic(t *testing.T) {
	a := newAPI(t)
	b := a.create(t, 1, 2)
	path := "/bookings/" + b.ID.String()

	for _, actor := range []uuid.UUID{a.stranger, a.booker, a.owner, uuid.Nil} {
		resp := a.do(t, http.MethodDelete, path, actor, "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	}

	resp := a.do(t, http.MethodGet, path, a.booker, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, a.store.Len())
}

func TestHandlerAdminDelete(t *testing.T) {
	a := newAPI(t)
	b := a.create(t, 1, 2)
	path := "/bookings/" + b.ID.String()

	resp := a.doAdmin(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = a.doAdmin(t, http.MethodDelete, path, "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, a.store.Len())

	resp = a.doAdmin(t, http.MethodDelete, path, adminToken)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, a.store.Len())

	resp = a.doAdmin(t, http.MethodDelete, path, adminToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.doAdmin(t, http.MethodDelete, "/bookings/not-an-id", adminToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerAdminWithoutTokenRefusesAll(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, 1, 2)
	admin := httptest.NewServer(booking.NewHandler(f.svc).AdminRoutes())
	t.Cleanup(admin.Close)

	req, err := http.NewRequest(http.MethodDelete, admin.URL+"/bookings/"+b.ID.String(), nil)
	require.NoError(t, err)
	req.Header.Set(booking.HeaderAdminToken, "")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, f.store.Len())
}

func TestHandlerNearest(t *testing.T) {
	a := newAPI(t)
	next := a.create(t, 1, 2)
	path := "/items/" + a.item.ID.String() + "/nearest"

	resp := a.do(t, http.MethodGet, path, a.owner, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nearest := decode[booking.Nearest](t, resp)
	assert.Nil(t, nearest.Last)
	require.NotNil(t, nearest.Next)
	assert.Equal(t, next.ID, nearest.Next.ID)

	resp = a.do(t, http.MethodGet, path, a.booker, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nearest = decode[booking.Nearest](t, resp)
	assert.Nil(t, nearest.Last)
	assert.Nil(t, nearest.Next)
}

func TestHandlerIdempotencyKey(t *testing.T) {
	a := newAPI(t, booking.WithIdempotency(idempotency.NewMemoryGuard(time.Hour)))
	body := a.createBody(1, 2)

	first := a.do(t, http.MethodPost, "/bookings", a.booker, body, booking.HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusCreated, first.StatusCode)
	created := decode[booking.Booking](t, first)

	second := a.do(t, http.MethodPost, "/bookings", a.booker, body, booking.HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, created.ID, decode[booking.Booking](t, second).ID)
	assert.Equal(t, 1, a.store.Len())

	// a failed create releases the key
	bad := a.do(t, http.MethodPost, "/bookings", a.booker, a.createBody(-2, -1), booking.HeaderIdempotencyKey, "def")
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
	retry := a.do(t, http.MethodPost, "/bookings", a.booker, a.createBody(3, 4), booking.HeaderIdempotencyKey, "def")
	assert.Equal(t, http.StatusCreated, retry.StatusCode)
}

func TestHandlerIdempotencyKeyInFlight(t *testing.T) {
	guard := idempotency.NewMemoryGuard(time.Hour)
	a := newAPI(t, booking.WithIdempotency(guard))

	_, claimed, err := guard.Begin(t.Context(), a.booker.String()+":busy")
	require.NoError(t, err)
	require.True(t, claimed)

	resp := a.do(t, http.MethodPost, "/bookings", a.booker, a.createBody(1, 2), booking.HeaderIdempotencyKey, "busy")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandlerRateLimit(t *testing.T) {
	a := newAPI(t, booking.WithCreateRate(1))

	resp := a.do(t, http.MethodPost, "/bookings", a.booker, a.createBody(1, 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/bookings", a.booker, a.createBody(3, 4))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// limits are per user
	other := uuid.New()
	resp = a.do(t, http.MethodPost, "/bookings", other, a.createBody(3, 4))
	assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHandlerRateLimitIgnoresInvalidActors(t *testing.T) {
	a := newAPI(t, booking.WithCreateRate(1))

	for i := 0; i < 3; i++ {
		resp := a.do(t, http.MethodPost, "/bookings", uuid.Nil, a.createBody(1, 2), booking.HeaderUserID, fmt.Sprintf("junk-%d", i))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	resp := a.do(t, http.MethodPost, "/bookings", a.booker, a.createBody(1, 2))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestStatusCode(t *testing.T) {
	cases := map[error]int{
		booking.ErrNotFound:        http.StatusNotFound,
		booking.ErrForbidden:       http.StatusForbidden,
		booking.ErrItemUnavailable: http.StatusBadRequest,
		booking.ErrValidation:      http.StatusBadRequest,
		booking.ErrStatusConflict:  http.StatusConflict,
		booking.ErrOverlap:         http.StatusConflict,
		errors.New("boom"):         http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, booking.StatusCode(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}
