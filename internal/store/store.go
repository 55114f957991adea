// Package store provides the durable SQLite persistence layer for
// synchronized entities.
//
// The database runs embedded with WAL mode so the sync engine, the
// consent machine, and status queries can share one file concurrently.
// Upserts are idempotent; conflict resolution happens above this layer
// in the sync engine.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema to
// create tables.
//
// The caller MUST call Close() when done.
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

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
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

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		family_name TEXT NOT NULL,
		owner_email TEXT NOT NULL,
		timezone TEXT,
		subscription_tier TEXT NOT NULL DEFAULT 'free',
		subscription_expires_at TEXT,
		consent_authority INTEGER NOT NULL DEFAULT 0,
		profile_limit INTEGER NOT NULL DEFAULT 5,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		relation TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		consent_state TEXT NOT NULL DEFAULT 'pending',
		consent_changed_at TEXT NOT NULL,
		can_receive_messages INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		title TEXT NOT NULL,
		notes TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		scheduled_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		profile_id TEXT,
		task_id TEXT,
		from_number TEXT NOT NULL,
		body TEXT NOT NULL,
		received_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS timeline_events (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		payload TEXT NOT NULL,  -- JSON snapshot
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	-- Well-known keys: last_synced_at
	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Durable marker guaranteeing one profile-created timeline event
	-- per profile across restarts.
	CREATE TABLE IF NOT EXISTS timeline_markers (
		profile_id TEXT PRIMARY KEY,
		recorded_at TEXT NOT NULL
	);

	-- Append-only audit of consent transitions.
	CREATE TABLE IF NOT EXISTS consent_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		method TEXT NOT NULL,   -- keyword, dispatch, manual, rollback
		keyword TEXT,
		occurred_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_account ON profiles(account_id);
	CREATE INDEX IF NOT EXISTS idx_profiles_phone ON profiles(phone_number);
	CREATE INDEX IF NOT EXISTS idx_profiles_consent ON profiles(consent_state);
	CREATE INDEX IF NOT EXISTS idx_tasks_account ON tasks(account_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_profile ON tasks(profile_id);
	CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account_id);
	CREATE INDEX IF NOT EXISTS idx_messages_profile ON messages(profile_id);
	CREATE INDEX IF NOT EXISTS idx_timeline_profile ON timeline_events(profile_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_consent_log_profile ON consent_log(profile_id, seq);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// ErrNotFound is returned by point reads when no row matches.
var ErrNotFound = errors.New("not found")

// IsTransient reports whether err is a retryable persistence error,
// such as a busy or locked database. Transient failures are retried by
// the next sync cycle rather than surfaced as permanent.
func IsTransient(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.BUSY, sqlite3.LOCKED, sqlite3.INTERRUPT:
			return true
		}
	}
	return false
}
