// Package sqlite is a durable es.EventLog backed by a single SQLite file,
// using the CGO-free modernc.org/sqlite driver.
//
// The store does not implement es.Stream: a process that needs live
// subscriptions on top of a sqlite log tails AllEvents or fronts the log
// with an in-process one.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id     TEXT    NOT NULL UNIQUE,
	aggregate_id TEXT    NOT NULL,
	version      INTEGER NOT NULL,
	event_type   TEXT    NOT NULL,
	occurred_at  INTEGER NOT NULL,
	payload      BLOB    NOT NULL,
	checksum     BLOB    NOT NULL,
	UNIQUE (aggregate_id, version)
);
CREATE INDEX IF NOT EXISTS idx_events_aggregate_id ON events (aggregate_id);
`

type Config struct {
	// Path is the database file, created on first open. Required.
	Path string
	// Log for diagnostics (optional).
	Log *slog.Logger
}

// EventLog stores envelopes in an append-only events table. The global
// sequence is the table's AUTOINCREMENT rowid, the per-aggregate version is
// guarded by a UNIQUE(aggregate_id, version) constraint.
type EventLog struct {
	db  *sql.DB
	log *slog.Logger
}

// NewEventLog opens the database at cfg.Path and ensures the schema.
// Transactions start in immediate mode, so the version check and the
// inserts of one append run under the same write lock.
func NewEventLog(cfg Config) (*EventLog, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	cleanPath := filepath.Clean(cfg.Path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &EventLog{
		db:  db,
		log: log.With(slog.String("event_log", "sqlite"), slog.String("path", cleanPath)),
	}, nil
}

// Close releases the database handle. Nil-safe so callers can defer it on
// all startup paths.
func (l *EventLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
