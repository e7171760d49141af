// Package adapters hides the concrete database client behind the two calls
// the SQL store needs. Statements arrive fully rendered, so no arguments are passed.
package adapters

import "context"

// DBAdapter runs rendered SQL against a database.
type DBAdapter interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBRows is the subset of a row cursor the store uses.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult reports the outcome of an Exec.
type DBResult interface {
	RowsAffected() (int64, error)
}
