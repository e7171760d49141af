// internal/booking/handler.go
package booking

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"shareit/internal/idempotency"
)

const (
	HeaderUserID         = "X-Sharer-User-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderAdminToken     = "X-Admin-Token"
	headerReplayed       = "Idempotent-Replayed"

	logMsgRequestFailed     = "request failed"
	logMsgIdempotencyFailed = "idempotency store failed"
	logAttrPath             = "path"
)

// IdempotencyGuard is the subset of idempotency.Guard the handler needs.
type IdempotencyGuard interface {
	Begin(ctx context.Context, key string) (string, bool, error)
	Complete(ctx context.Context, key, result string) error
	Release(ctx context.Context, key string) error
}

// HandlerOption configures the HTTP handler.
type HandlerOption func(*Handler)

// WithIdempotency enables Idempotency-Key handling on POST /bookings.
func WithIdempotency(g IdempotencyGuard) HandlerOption {
	return func(h *Handler) {
		h.guard = g
	}
}

// WithCreateRate limits booking requests per user per minute. Zero disables it.
func WithCreateRate(perMinute int) HandlerOption {
	return func(h *Handler) {
		h.limits = newLimiterSet(perMinute)
	}
}

// WithAdminToken sets the token AdminRoutes demands. Without one every admin
// request is refused.
func WithAdminToken(token string) HandlerOption {
	return func(h *Handler) {
		h.adminToken = token
	}
}

// WithHandlerLogger sets the logger used for 5xx responses.
func WithHandlerLogger(logger Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

type Handler struct {
	service    Service
	guard      IdempotencyGuard
	limits     *limiterSet
	validate   *validator.Validate
	logger     Logger
	adminToken string
}

func NewHandler(service Service, options ...HandlerOption) *Handler {
	h := &Handler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Routes mounts the booking API on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/bookings", func(r chi.Router) {
		r.With(h.rateLimit).Post("/", h.handleCreate)
		r.Get("/", h.handleListByBooker)
		r.Get("/owner", h.handleListByOwner)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handleApprove)
		r.Patch("/{id}/cancel", h.handleCancel)
		r.Get("/{id}/history", h.handleHistory)
	})
	r.Get("/items/{itemId}/nearest", h.handleNearest)

	return r
}

// AdminRoutes mounts the administrative operations. They are meant for a
// separate listener and require the X-Admin-Token header.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requireAdmin)

	r.Delete("/bookings/{id}", h.handleDelete)

	return r
}

type createRequest struct {
	ItemID string    `json:"itemId" validate:"required,uuid"`
	Start  time.Time `json:"start" validate:"required"`
	End    time.Time `json:"end" validate:"required,gtfield=Start"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	itemID := uuid.MustParse(req.ItemID)

	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" || h.guard == nil {
		b, err := h.service.Create(r.Context(), itemID, actorID, req.Start, req.End)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, b)
		return
	}

	scoped := actorID.String() + ":" + key
	previous, claimed, err := h.guard.Begin(r.Context(), scoped)
	if errors.Is(err, idempotency.ErrInFlight) {
		h.writeMessage(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logError(logMsgIdempotencyFailed, logAttrError, err.Error())
		h.writeMessage(w, http.StatusServiceUnavailable, "idempotency store unavailable")
		return
	}

	if !claimed {
		h.replay(w, r, previous, actorID)
		return
	}

	b, err := h.service.Create(r.Context(), itemID, actorID, req.Start, req.End)
	if err != nil {
		if relErr := h.guard.Release(r.Context(), scoped); relErr != nil {
			h.logError(logMsgIdempotencyFailed, logAttrError, relErr.Error())
		}
		h.writeError(w, r, err)
		return
	}
	if err := h.guard.Complete(r.Context(), scoped, b.ID.String()); err != nil {
		h.logError(logMsgIdempotencyFailed, logAttrError, err.Error())
	}

	h.writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, previous string, actorID uuid.UUID) {
	id, err := uuid.Parse(previous)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.service.GetByID(r.Context(), id, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set(headerReplayed, "true")
	h.writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	b, err := h.service.GetByID(r.Context(), id, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleListByBooker(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, h.service.ListByBooker)
}

func (h *Handler) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, h.service.ListByOwner)
}

type listFunc func(ctx context.Context, partyID uuid.UUID, view View, offset, limit int) ([]Booking, error)

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, list listFunc) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	offset, err := intParam(q.Get("from"), 0)
	if err != nil {
		h.writeMessage(w, http.StatusBadRequest, "from must be an integer")
		return
	}
	limit, err := intParam(q.Get("size"), DefaultPageSize)
	if err != nil {
		h.writeMessage(w, http.StatusBadRequest, "size must be an integer")
		return
	}

	bookings, err := list(r.Context(), actorID, View(q.Get("state")), offset, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookings)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	approved, err := strconv.ParseBool(r.URL.Query().Get("approved"))
	if err != nil {
		h.writeMessage(w, http.StatusBadRequest, "approved must be true or false")
		return
	}

	b, err := h.service.Approve(r.Context(), id, actorID, approved)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	b, err := h.service.Cancel(r.Context(), id, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), id, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNearest(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemId")
	if !ok {
		return
	}

	nearest, err := h.service.NearestForViewer(r.Context(), itemID, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, nearest)
}

// rateLimit only counts requests with a valid actor; the rest are rejected by
// the handler itself.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limits != nil {
			if actorID, err := uuid.Parse(r.Header.Get(HeaderUserID)); err == nil && !h.limits.allow(actorID) {
				h.writeMessage(w, http.StatusTooManyRequests, "too many booking requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(HeaderAdminToken)
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			h.writeMessage(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeMessage(w, http.StatusBadRequest, "missing or invalid "+HeaderUserID+" header")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeMessage(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// StatusCode maps a service error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrItemUnavailable), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrOverlap):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		h.logError(logMsgRequestFailed, logAttrPath, r.URL.Path, logAttrError, err.Error())
		h.writeMessage(w, status, "internal error")
		return
	}
	h.writeMessage(w, status, err.Error())
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logError(logMsgRequestFailed, logAttrError, err.Error())
	}
}

func (h *Handler) logError(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Error(msg, args...)
	}
}

func intParam(value string, defaultValue int) (int, error) {
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

// limiterSet keeps one token bucket per user. A bucket idle for a full
// refill period is dropped: it would be full again anyway.
type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[uuid.UUID]*userLimiter
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterSet(perMinute int) *limiterSet {
	if perMinute <= 0 {
		return nil
	}
	return &limiterSet{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idle:     time.Minute,
		now:      time.Now,
		limiters: make(map[uuid.UUID]*userLimiter),
	}
}

func (l *limiterSet) allow(actorID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		for id, u := range l.limiters {
			if now.Sub(u.lastSeen) >= l.idle {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}

	u, ok := l.limiters[actorID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[actorID] = u
	}
	u.lastSeen = now

	return u.limiter.AllowN(now, 1)
}
