// internal/store/sqlstore/schema.go
package sqlstore

import (
	"context"
	"fmt"
)

// Migrate creates the bookings table and its indexes if they are missing.
// On Postgres an exclusion constraint keeps approved windows of one item
// disjoint, so two concurrent approvals cannot both commit. An existing
// table is not altered.
func (s *Store) Migrate(ctx context.Context) error {
	var statements []string
	switch s.dialectName {
	case DialectPostgres:
		statements = postgresSchema(s.table, !s.noExclusion)
	case DialectMySQL:
		statements = mysqlSchema(s.table)
	}

	for _, stmt := range statements {
		if _, err := s.exec(ctx, stmt, "migrate"); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

func postgresSchema(table string, exclusive bool) []string {
	exclusion := ""
	if exclusive {
		exclusion = fmt.Sprintf(`,
				CONSTRAINT %[1]s_no_approved_overlap EXCLUDE USING gist (
					item_id WITH =,
					tstzrange(start_at, end_at) WITH &&
				) WHERE (status = 'APPROVED')`, table)
	}

	return []string{
		`CREATE EXTENSION IF NOT EXISTS btree_gist`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id UUID PRIMARY KEY,
				item_id UUID NOT NULL,
				booker_id UUID NOT NULL,
				owner_id UUID NOT NULL,
				start_at TIMESTAMPTZ NOT NULL,
				end_at TIMESTAMPTZ NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('WAITING', 'APPROVED', 'REJECTED', 'CANCELED')),
				version INT NOT NULL DEFAULT 1,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT %[1]s_window_check CHECK (start_at < end_at)%[2]s
			)`, table, exclusion),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_booker_start_idx ON %[1]s (booker_id, start_at DESC)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_owner_start_idx ON %[1]s (owner_id, start_at DESC)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_item_idx ON %[1]s (item_id)`, table),
	}
}

// MySQL has no exclusion constraints; overlap is only checked by the service.
func mysqlSchema(table string) []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id CHAR(36) PRIMARY KEY,
				item_id CHAR(36) NOT NULL,
				booker_id CHAR(36) NOT NULL,
				owner_id CHAR(36) NOT NULL,
				start_at DATETIME(6) NOT NULL,
				end_at DATETIME(6) NOT NULL,
				status VARCHAR(16) NOT NULL,
				version INT NOT NULL DEFAULT 1,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				INDEX %[1]s_booker_start_idx (booker_id, start_at),
				INDEX %[1]s_owner_start_idx (owner_id, start_at),
				INDEX %[1]s_item_idx (item_id),
				CONSTRAINT %[1]s_window_check CHECK (start_at < end_at)
			)`, table),
	}
}
