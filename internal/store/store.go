// Package store implements the on-device SQLite store that is the single
// source of truth for all survey data.
//
// The store mirrors the server's tables and adds local-only sync control
// columns (_dirty, _deleted, _retry_count) plus a sync_metadata table
// holding per-table pull/push watermarks and pending counts.
//
// The database runs in WAL mode so UI reads do not block on sync writes.
// All mutating access, from the sync engine and from UI-initiated writes
// alike, goes through the same transactional interface.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Epoch is the watermark used for tables that have never been pulled.
const Epoch = "1970-01-01T00:00:00Z"

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = sql.ErrNoRows

// Row is a single table row keyed by snake_case column name.
type Row map[string]any

// Store wraps the embedded SQLite connection holding the local mirror.
type Store struct {
	conn *sql.DB
	path string
}

// identPattern guards table names interpolated into SQL. Column names come
// from PRAGMA table_info or the descriptor registry, never from the server.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open creates or opens the local database at path.
//
// The database is opened in WAL mode with a 5 second busy timeout. The
// caller must call Close (or Destroy on sign-out) when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Destroy closes the store and deletes the database files.
//
// Used on sign-out so no data leaks to the next authenticated user on a
// shared device. The sync engine must be stopped before calling this.
func (s *Store) Destroy() error {
	path := s.path
	if err := s.Close(); err != nil {
		return err
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path+suffix, err)
		}
	}
	return nil
}

// InitSchema creates all tables and indexes if absent and applies additive
// migrations. Idempotent; safe to call on every app start.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	for _, stmt := range migrations {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration %q failed: %w", stmt, err)
		}
	}

	return nil
}

// WithTx runs fn inside a transaction. Any error (or panic) rolls back
// every statement in the batch.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Columns returns the set of column names present in the local table.
// Pull uses this to skip server columns the client doesn't know about yet.
func (s *Store) Columns(ctx context.Context, table string) (map[string]bool, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	rows, err := s.conn.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	return cols, nil
}
