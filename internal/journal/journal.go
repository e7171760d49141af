// internal/journal/journal.go
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrConcurrencyConflict is returned when concurrent writers kept taking the
// next sequence number of a booking.
var ErrConcurrencyConflict = errors.New("concurrency conflict: sequence taken")

const (
	defaultTableName = "booking_events"
	uniqueViolation  = "23505"
	appendAttempts   = 3
)

// Entry is one recorded change of a booking. Seq numbers a booking's entries
// from 1 without gaps; Version is the booking version the change produced, so
// a missing version shows a change that could not be recorded.
type Entry struct {
	Seq        int             `json:"seq"`
	BookingID  uuid.UUID       `json:"bookingId"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	Version    int             `json:"version"`
	Data       json.RawMessage `json:"data"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Journal keeps booking history in Postgres.
type Journal struct {
	db     *sql.DB
	table  string
	tracer trace.Tracer
}

func New(db *sql.DB) *Journal {
	return &Journal{
		db:     db,
		table:  defaultTableName,
		tracer: otel.Tracer("shareit/journal"),
	}
}

// Migrate creates the events table if it does not exist.
func (j *Journal) Migrate(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			booking_id UUID NOT NULL,
			seq INT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			version INT NOT NULL,
			data JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (booking_id, seq)
		)
	`, pq.QuoteIdentifier(j.table)))
	if err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	return nil
}

// Append records e under the next free sequence number of its booking and
// returns that number. The sequence is taken inside the insert, so an earlier
// failed append leaves no hole for later ones to trip over.
func (j *Journal) Append(ctx context.Context, e Entry) (int, error) {
	ctx, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("booking.id", e.BookingID.String()),
			attribute.String("entry.kind", e.Kind),
			attribute.Int("booking.version", e.Version),
		),
	)
	defer span.End()

	data := []byte(e.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (booking_id, seq, kind, status, version, data, recorded_at)
		SELECT $1::uuid, COALESCE(MAX(seq), 0) + 1, $2::text, $3::text, $4::int, $5::jsonb, $6::timestamptz
		FROM %[1]s
		WHERE booking_id = $1::uuid
		RETURNING seq
	`, pq.QuoteIdentifier(j.table))

	for attempt := 1; ; attempt++ {
		var seq int
		err := j.db.QueryRowContext(ctx, query,
			e.BookingID, e.Kind, e.Status, e.Version, string(data), time.Now().UTC(),
		).Scan(&seq)
		if err == nil {
			span.SetAttributes(attribute.Int("entry.seq", seq))
			return seq, nil
		}

		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
			return 0, fmt.Errorf("insert entry: %w", err)
		}
		span.AddEvent("sequence.taken", trace.WithAttributes(attribute.Int("attempt", attempt)))
		if attempt == appendAttempts {
			return 0, ErrConcurrencyConflict
		}
	}
}

// Load returns a booking's entries in sequence order.
func (j *Journal) Load(ctx context.Context, bookingID uuid.UUID) ([]Entry, error) {
	ctx, span := j.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(attribute.String("booking.id", bookingID.String())),
	)
	defer span.End()

	rows, err := j.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT seq, booking_id, kind, status, version, data, recorded_at
		FROM %s
		WHERE booking_id = $1
		ORDER BY seq ASC
	`, pq.QuoteIdentifier(j.table)), bookingID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e    Entry
			data []byte
		)
		if err := rows.Scan(&e.Seq, &e.BookingID, &e.Kind, &e.Status, &e.Version, &data, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Data = json.RawMessage(data)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	span.SetAttributes(attribute.Int("entries.loaded", len(entries)))
	return entries, nil
}
