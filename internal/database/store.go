package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/trust-engine/internal/ports"
)

// Store is the sqlite-backed ports.Store. Direct (non-transactional)
// reads run against the shared *sql.DB; every mutation goes through
// WithTx so a Facade operation commits all-or-nothing (spec §4.3).
type Store struct {
	conn *conn
	queries
}

var _ ports.Store = (*Store)(nil)

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.conn.Close() }

// Conn exposes the raw *sql.DB for maintenance queries (PRAGMA checks,
// WAL monitoring) that fall outside the ports.Store surface.
func (s *Store) Conn() *sql.DB { return s.conn.db }

// WithTx opens a sqlite transaction, hands fn a Tx scoped to it, and
// commits on success or rolls back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx ports.Tx) error) (err error) {
	sqlTx, err := s.conn.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		err = sqlTx.Commit()
	}()

	err = fn(queries{exec: sqlTx})
	return err
}
