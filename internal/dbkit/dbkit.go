// Package dbkit opens and migrates each service's SQLite store per
// spec.md §6.3: WAL journaling, a busy_timeout, foreign keys enforced, and a
// single process-wide writer serializing all mutations (spec.md §4.2,
// §5 "a single writer mutex per service suffices for a single-node store").
//
// Modeled on the teacher's database/sql + blank-import driver pattern in
// cmd/server/main.go ("_ github.com/lib/pq"); swapped to modernc.org/sqlite
// because spec.md mandates SQLite specifically (see DESIGN.md).
package dbkit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB with the single-writer-mutex discipline spec.md
// requires: readers proceed concurrently under WAL, every mutation takes
// Writer.Lock() and issues "BEGIN IMMEDIATE" before any statement.
type DB struct {
	SQL    *sql.DB
	Writer sync.Mutex
}

// Open creates the parent directory if needed, opens the SQLite file, and
// applies the required pragmas. schema is a sequence of CREATE TABLE/INDEX
// statements (idempotent via IF NOT EXISTS) run once at startup.
func Open(path string, schema string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("dbkit: create db dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbkit: open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("dbkit: apply %q: %w", p, err)
		}
	}

	// Writes are serialized application-side by DB.Writer (spec.md §5); the
	// connection pool allows up to 8 open connections so reads proceed
	// concurrently under WAL, per spec.md §5 ("readers may proceed in
	// parallel under WAL").
	sqlDB.SetMaxOpenConns(8)

	if schema != "" {
		if _, err := sqlDB.Exec(schema); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("dbkit: migrate schema: %w", err)
		}
	}

	return &DB{SQL: sqlDB}, nil
}

// Mutate runs fn inside a literal "BEGIN IMMEDIATE" transaction while
// holding the writer mutex, committing on success and rolling back on any
// error or panic before re-raising — spec.md §4.2's transactional
// discipline. fn receives the dedicated *sql.Conn so every statement lands
// on the same connection the transaction was opened on.
func (db *DB) Mutate(ctx context.Context, fn func(conn *sql.Conn) error) error {
	db.Writer.Lock()
	defer db.Writer.Unlock()

	conn, err := db.SQL.Conn(ctx)
	if err != nil {
		return fmt.Errorf("dbkit: acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("dbkit: begin immediate: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("dbkit: commit: %w", err)
	}
	committed = true
	return nil
}

// Close closes the underlying database handle.
func (db *DB) Close() error {
	return db.SQL.Close()
}

// IsUniqueViolation recognizes SQLite's UNIQUE constraint error text. The
// driver does not expose a typed sentinel for it, so callers match on
// message content — the same pattern the teacher's Supabase layer used for
// Postgres error strings.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
