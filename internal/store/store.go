// Package store provides the durable SQLite store backing the offline
// cache and the mutation queue.
//
// The store is the single local replica of the user's AniList library.
// It runs in embedded mode with WAL for concurrent reads.
//
// Two tables:
//   - library_cache: local mirror of remote list rows, unique on
//     (media_id, user_id)
//   - sync_queue: append-only log of remote-bound mutations, with an
//     autoincrement id and a partial index on pending rows
//
// The store is exclusively owned by this process; serialization of
// overlapping drains is the sync manager's job, not the store's.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrEntryNotFound is returned by PatchEntry when the target cache row
// does not exist. Patching never creates rows.
var ErrEntryNotFound = errors.New("cache entry not found")

// ErrItemNotFound is returned by queue operations addressing an id that
// is not in the sync_queue table.
var ErrItemNotFound = errors.New("queue item not found")

// Store wraps the SQLite connection with cache and queue functionality.
type Store struct {
	conn *sql.DB
	path string

	// now is the clock used for cached_at / synced_at stamps.
	// Overridable in tests.
	now func() time.Time
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// first use.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dataDir, "shokai.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single logical process, modest pool
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	// Enable WAL mode for concurrent reads
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
// Useful for integrating with libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// SetClock overrides the store's clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This creates the library_cache and sync_queue tables along with indexes
// for pending-queue scans. Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS library_cache (
		media_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0,
		started_at TEXT,
		completed_at TEXT,
		updated_at TEXT NOT NULL,
		media TEXT,  -- denormalized metadata blob (JSON)
		cached_at TEXT NOT NULL,
		PRIMARY KEY (media_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_cache_user ON library_cache(user_id);
	CREATE INDEX IF NOT EXISTS idx_cache_user_updated
	    ON library_cache(user_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		synced_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_queue_user ON sync_queue(user_id);
	CREATE INDEX IF NOT EXISTS idx_queue_pending
	    ON sync_queue(user_id, created_at) WHERE synced_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_queue_synced ON sync_queue(synced_at)
	    WHERE synced_at IS NOT NULL;
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
