// internal/store/sqlstore/store.go
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"shareit/internal/booking"
	"shareit/internal/store/adapters"
)

const (
	defaultTableName = "bookings"

	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"

	// mysql with DATETIME(6) literals
	dialectMySQLMicro = "mysql-micro"

	colID        = "id"
	colItemID    = "item_id"
	colBookerID  = "booker_id"
	colOwnerID   = "owner_id"
	colStartAt   = "start_at"
	colEndAt     = "end_at"
	colStatus    = "status"
	colVersion   = "version"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"

	exclusionViolation = "23P01"

	logMsgSQLExecuted        = "executed sql for: "
	logMsgBuildQueryFailed   = "failed to build query"
	logMsgDBQueryFailed      = "database query execution failed"
	logMsgDBExecFailed       = "database execution failed"
	logMsgCloseRowsFailed    = "failed to close database rows"
	logMsgStatusSwapRejected = "status swap matched no row"
	logAttrError             = "error"
	logAttrQuery             = "query"
	logAttrDurationMS        = "duration_ms"
	logAttrBookingID         = "booking_id"
)

var (
	ErrEmptyTableName        = errors.New("table name must not be empty")
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrUnsupportedDialect    = errors.New("unsupported sql dialect")
	ErrBuildingQueryFailed   = errors.New("building query failed")
	ErrQueryingFailed        = errors.New("querying bookings failed")
	ErrScanningRowFailed     = errors.New("scanning booking row failed")
	ErrExecutingFailed       = errors.New("executing booking statement failed")
)

func init() {
	opts := mysql.DialectOptions()
	opts.TimeFormat = "2006-01-02 15:04:05.000000"
	goqu.RegisterDialect(dialectMySQLMicro, opts)
}

var selectColumns = []interface{}{
	colID, colItemID, colBookerID, colOwnerID, colStartAt, colEndAt, colStatus, colVersion, colCreatedAt, colUpdatedAt,
}

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store is a booking.Repository over Postgres or MySQL. Statements are built
// with goqu and rendered with interpolated values.
type Store struct {
	db          adapters.DBAdapter
	dialectName string
	dialect     goqu.DialectWrapper
	table       string
	logger      Logger
	noExclusion bool
}

// Option defines a functional option for configuring Store.
type Option func(*Store) error

// WithTableName sets the bookings table name.
func WithTableName(table string) Option {
	return func(s *Store) error {
		if table == "" {
			return ErrEmptyTableName
		}
		s.table = table
		return nil
	}
}

// WithLogger sets the logger. SQL goes to Debug, failures to Error.
func WithLogger(logger Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithoutOverlapConstraint makes Migrate skip the Postgres exclusion
// constraint that keeps approved windows of an item disjoint.
func WithoutOverlapConstraint() Option {
	return func(s *Store) error {
		s.noExclusion = true
		return nil
	}
}

// NewFromPGXPool creates a Postgres store on a pgx pool.
func NewFromPGXPool(pool *pgxpool.Pool, options ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrNilDatabaseConnection
	}
	return newStore(adapters.NewPGXAdapter(pool), DialectPostgres, options)
}

// NewFromSQLX creates a store on a sqlx connection opened with the
// "postgres" (lib/pq) or "mysql" driver.
func NewFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}
	adapter := adapters.NewSQLXAdapter(db)
	return newStore(adapter, adapter.DriverName(), options)
}

func newStore(db adapters.DBAdapter, dialectName string, options []Option) (*Store, error) {
	if dialectName != DialectPostgres && dialectName != DialectMySQL {
		return nil, fmt.Errorf("%s: %w", dialectName, ErrUnsupportedDialect)
	}

	dialect := goqu.Dialect(dialectName)
	if dialectName == DialectMySQL {
		dialect = goqu.Dialect(dialectMySQLMicro)
	}

	s := &Store{
		db:          db,
		dialectName: dialectName,
		dialect:     dialect,
		table:       defaultTableName,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Dialect returns "postgres" or "mysql".
func (s *Store) Dialect() string {
	return s.dialectName
}

// Save inserts a new booking row.
func (s *Store) Save(ctx context.Context, b booking.Booking) error {
	query, _, err := s.dialect.Insert(s.table).Rows(goqu.Record{
		colID:        b.ID.String(),
		colItemID:    b.ItemID.String(),
		colBookerID:  b.BookerID.String(),
		colOwnerID:   b.OwnerID.String(),
		colStartAt:   b.Start.UTC(),
		colEndAt:     b.End.UTC(),
		colStatus:    string(b.Status),
		colVersion:   b.Version,
		colCreatedAt: b.CreatedAt.UTC(),
		colUpdatedAt: b.UpdatedAt.UTC(),
	}).ToSQL()
	if err != nil {
		return s.buildFailed(err)
	}

	_, err = s.exec(ctx, query, "save")
	return err
}

// FindByID loads one booking.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	query, _, err := s.dialect.From(s.table).
		Select(selectColumns...).
		Where(goqu.C(colID).Eq(id.String())).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, s.buildFailed(err)
	}

	bookings, err := s.query(ctx, query, "find_by_id")
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, fmt.Errorf("booking %s: %w", id, booking.ErrNotFound)
	}
	return &bookings[0], nil
}

// ListByParty returns one page of a party's bookings for a view, newest start first.
func (s *Store) ListByParty(ctx context.Context, partyID uuid.UUID, role booking.Role, view booking.View, now time.Time, page booking.Page) ([]booking.Booking, error) {
	partyColumn := colBookerID
	if role == booking.RoleOwner {
		partyColumn = colOwnerID
	}

	conditions := []exp.Expression{goqu.C(partyColumn).Eq(partyID.String())}
	conditions = append(conditions, viewConditions(view, now.UTC())...)

	query, _, err := s.dialect.From(s.table).
		Select(selectColumns...).
		Where(conditions...).
		Order(goqu.C(colStartAt).Desc(), goqu.C(colID).Asc()).
		Offset(uint(page.Offset)).
		Limit(uint(page.Limit)).
		ToSQL()
	if err != nil {
		return nil, s.buildFailed(err)
	}

	return s.query(ctx, query, "list_by_party")
}

// viewConditions translates a view into WHERE conditions with the same
// semantics as booking.Matches.
func viewConditions(view booking.View, now time.Time) []exp.Expression {
	switch view {
	case booking.ViewCurrent:
		return []exp.Expression{goqu.C(colStartAt).Lte(now), goqu.C(colEndAt).Gt(now)}
	case booking.ViewPast:
		return []exp.Expression{goqu.C(colEndAt).Lte(now)}
	case booking.ViewFuture:
		return []exp.Expression{goqu.C(colStartAt).Gt(now)}
	}
	if status, ok := view.StatusOf(); ok {
		return []exp.Expression{goqu.C(colStatus).Eq(string(status))}
	}
	return nil
}

// ListByItem returns every booking of an item.
func (s *Store) ListByItem(ctx context.Context, itemID uuid.UUID) ([]booking.Booking, error) {
	query, _, err := s.dialect.From(s.table).
		Select(selectColumns...).
		Where(goqu.C(colItemID).Eq(itemID.String())).
		ToSQL()
	if err != nil {
		return nil, s.buildFailed(err)
	}

	return s.query(ctx, query, "list_by_item")
}

// HasApprovedOverlap reports whether an approved booking other than exclude intersects [start, end).
func (s *Store) HasApprovedOverlap(ctx context.Context, itemID uuid.UUID, start, end time.Time, exclude uuid.UUID) (bool, error) {
	query, _, err := s.dialect.From(s.table).
		Select(goqu.COUNT("*")).
		Where(
			goqu.C(colItemID).Eq(itemID.String()),
			goqu.C(colStatus).Eq(string(booking.StatusApproved)),
			goqu.C(colStartAt).Lt(end.UTC()),
			goqu.C(colEndAt).Gt(start.UTC()),
			goqu.C(colID).Neq(exclude.String()),
		).
		ToSQL()
	if err != nil {
		return false, s.buildFailed(err)
	}

	rows, err := s.run(ctx, query, "has_approved_overlap")
	if err != nil {
		return false, err
	}
	defer s.closeRows(rows)

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return false, errors.Join(ErrScanningRowFailed, err)
		}
	}
	if err := rows.Err(); err != nil {
		return false, errors.Join(ErrQueryingFailed, err)
	}

	return count > 0, nil
}

// CompareAndSetStatus is a single conditional UPDATE; zero affected rows means
// the booking is gone or no longer in `from`.
func (s *Store) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to booking.Status, at time.Time) (bool, error) {
	query, _, err := s.dialect.Update(s.table).
		Set(goqu.Record{
			colStatus:    string(to),
			colVersion:   goqu.L(colVersion + " + 1"),
			colUpdatedAt: at.UTC(),
		}).
		Where(
			goqu.C(colID).Eq(id.String()),
			goqu.C(colStatus).Eq(string(from)),
		).
		ToSQL()
	if err != nil {
		return false, s.buildFailed(err)
	}

	affected, err := s.exec(ctx, query, "compare_and_set_status")
	if err != nil {
		if isExclusionViolation(err) {
			return false, fmt.Errorf("booking %s: %w", id, booking.ErrOverlap)
		}
		return false, err
	}

	if affected == 0 && s.logger != nil {
		s.logger.Info(logMsgStatusSwapRejected, logAttrBookingID, id.String())
	}
	return affected == 1, nil
}

// Delete removes a booking row.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	query, _, err := s.dialect.Delete(s.table).
		Where(goqu.C(colID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return false, s.buildFailed(err)
	}

	affected, err := s.exec(ctx, query, "delete")
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) query(ctx context.Context, query, action string) ([]booking.Booking, error) {
	rows, err := s.run(ctx, query, action)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	bookings := make([]booking.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			if s.logger != nil {
				s.logger.Error(ErrScanningRowFailed.Error(), logAttrError, err.Error())
			}
			return nil, errors.Join(ErrScanningRowFailed, err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrQueryingFailed, err)
	}

	return bookings, nil
}

func (s *Store) run(ctx context.Context, query, action string) (adapters.DBRows, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx, query)
	s.logQueryWithDuration(query, action, time.Since(start))

	if err != nil {
		if s.logger != nil {
			s.logger.Error(logMsgDBQueryFailed, logAttrError, err.Error(), logAttrQuery, query)
		}
		return nil, errors.Join(ErrQueryingFailed, err)
	}
	return rows, nil
}

func (s *Store) exec(ctx context.Context, query, action string) (int64, error) {
	start := time.Now()
	result, err := s.db.Exec(ctx, query)
	s.logQueryWithDuration(query, action, time.Since(start))

	if err != nil {
		if s.logger != nil {
			s.logger.Error(logMsgDBExecFailed, logAttrError, err.Error(), logAttrQuery, query)
		}
		return 0, errors.Join(ErrExecutingFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Join(ErrExecutingFailed, err)
	}
	return affected, nil
}

func (s *Store) closeRows(rows adapters.DBRows) {
	if err := rows.Close(); err != nil && s.logger != nil {
		s.logger.Warn(logMsgCloseRowsFailed, logAttrError, err.Error())
	}
}

func (s *Store) buildFailed(err error) error {
	if s.logger != nil {
		s.logger.Error(logMsgBuildQueryFailed, logAttrError, err.Error())
	}
	return errors.Join(ErrBuildingQueryFailed, err)
}

func (s *Store) logQueryWithDuration(query, action string, d time.Duration) {
	if s.logger != nil {
		s.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, math.Round(float64(d.Nanoseconds())/1e6*1000)/1000, logAttrQuery, query)
	}
}

func scanBooking(rows adapters.DBRows) (booking.Booking, error) {
	var (
		b                             booking.Booking
		id, itemID, bookerID, ownerID string
		status                        string
	)

	if err := rows.Scan(&id, &itemID, &bookerID, &ownerID, &b.Start, &b.End, &status, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return booking.Booking{}, err
	}

	var err error
	if b.ID, err = uuid.Parse(id); err != nil {
		return booking.Booking{}, fmt.Errorf("booking id %q: %w", id, err)
	}
	if b.ItemID, err = uuid.Parse(itemID); err != nil {
		return booking.Booking{}, fmt.Errorf("item id %q: %w", itemID, err)
	}
	if b.BookerID, err = uuid.Parse(bookerID); err != nil {
		return booking.Booking{}, fmt.Errorf("booker id %q: %w", bookerID, err)
	}
	if b.OwnerID, err = uuid.Parse(ownerID); err != nil {
		return booking.Booking{}, fmt.Errorf("owner id %q: %w", ownerID, err)
	}

	b.Status = booking.Status(status)
	if !b.Status.Valid() {
		return booking.Booking{}, fmt.Errorf("unknown status %q", status)
	}

	b.Start, b.End = b.Start.UTC(), b.End.UTC()
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	return b, nil
}

func isExclusionViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == exclusionViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == exclusionViolation
	}
	return false
}
