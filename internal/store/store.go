package store

import (
	"context"
	"database/sql"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx. Entity methods accept a
// Queryer so callers can run a handful of related writes inside one
// transaction (via Store.WithTx) or issue a single statement directly
// against the open connection.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB returns the Store's connection as a Queryer, for callers that don't
// need an explicit transaction.
func (s *Store) DB() Queryer {
	return s.conn
}
