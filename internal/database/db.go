// Package database is the sqlite implementation of ports.Store (spec
// §4.3): schema, transactional queries, and the journal table backing
// the "pending submissions" crash-recovery protocol of spec §5.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// conn wraps the raw *sql.DB handle shared by Store and every Tx it opens.
type conn struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (or attaches to) the sqlite database at path, enables WAL
// mode and foreign keys, and applies the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// sqlite supports one writer at a time; keep the pool small so writers
	// serialize through the driver instead of piling up SQLITE_BUSY errors.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	c := &conn{db: db, log: log.With().Str("component", "database").Logger()}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{conn: c, queries: queries{exec: db}}, nil
}

// Close releases the underlying connection pool.
func (c *conn) Close() error { return c.db.Close() }

func (c *conn) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	c.log.Info().Int("statements", len(schemaStatements)).Msg("schema migration applied")
	return nil
}
