// Package store provides SQLite-backed persistence for pacer.
//
// A DSN starting with libsql://, https:// or http:// opens a libsql server
// instead of a local file. Both drivers share one schema; timestamps are
// stored as RFC 3339 text so they scan the same way on either.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateRoutine is returned when a routine name is already taken.
	ErrDuplicateRoutine = errors.New("routine name already exists")
)

const timeLayout = time.RFC3339Nano

// Store provides access to the pacer database.
type Store struct {
	db     *sql.DB
	driver string
}

// New opens the database at dsn and runs migrations.
func New(dsn string) (*Store, error) {
	driver, source, err := resolveDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite" {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func resolveDSN(dsn string) (driver, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", fmt.Errorf("open db: empty dsn")
	}
	for _, prefix := range []string{"libsql://", "https://", "http://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "libsql", dsn, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return "", "", fmt.Errorf("create db directory: %w", err)
	}
	return "sqlite", dsn + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", nil
}

// Driver returns the database/sql driver in use.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS routines (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workouts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE,
			routine_name TEXT NOT NULL DEFAULT '',
			rounds INTEGER NOT NULL,
			intervals INTEGER NOT NULL,
			duration_millis INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			inputs_hash TEXT NOT NULL,
			outcome TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			frame TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plan_cache (
			key TEXT PRIMARY KEY,
			plan TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workouts_completed_at ON workouts(completed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_session_id ON session_events(session_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
