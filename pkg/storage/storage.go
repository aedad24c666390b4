// Package storage persists snapshots, changelog entries, notification tasks
// and the target registry in SQLite.
package storage

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

const defaultRetention = 20

type DB struct {
	sql *sql.DB

	// retention is the number of snapshots kept per target. Never below 2.
	retention int
}

func Open(path string) (*DB, error) {
	return OpenWithRetention(path, defaultRetention)
}

func OpenWithRetention(path string, retention int) (*DB, error) {
	if retention < 2 {
		retention = 2
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS targets (
  id               INTEGER PRIMARY KEY,
  name             TEXT NOT NULL,
  url              TEXT NOT NULL UNIQUE,
  interval_seconds INTEGER NOT NULL DEFAULT 3600,
  active           INTEGER NOT NULL DEFAULT 1 CHECK (active IN (0,1)),
  created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS subscribers (
  id     INTEGER PRIMARY KEY,
  handle TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS subscriptions (
  target_id     INTEGER NOT NULL REFERENCES targets(id),
  subscriber_id INTEGER NOT NULL REFERENCES subscribers(id),
  UNIQUE(target_id, subscriber_id)
);
CREATE TABLE IF NOT EXISTS preferences (
  subscriber_id INTEGER PRIMARY KEY REFERENCES subscribers(id),
  muted         INTEGER NOT NULL DEFAULT 0 CHECK (muted IN (0,1)),
  breaking_only INTEGER NOT NULL DEFAULT 0 CHECK (breaking_only IN (0,1)),
  min_severity  TEXT NOT NULL DEFAULT '',
  inapp         INTEGER NOT NULL DEFAULT 1 CHECK (inapp IN (0,1)),
  push          INTEGER NOT NULL DEFAULT 0 CHECK (push IN (0,1)),
  email         INTEGER NOT NULL DEFAULT 0 CHECK (email IN (0,1))
);
CREATE TABLE IF NOT EXISTS snapshots (
  id          INTEGER PRIMARY KEY,
  target_id   INTEGER NOT NULL REFERENCES targets(id),
  captured_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  doc_hash    TEXT NOT NULL,
  doc         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_target ON snapshots(target_id, id);
CREATE TABLE IF NOT EXISTS changelog_entries (
  id            TEXT PRIMARY KEY,
  target_id     INTEGER NOT NULL REFERENCES targets(id),
  from_snapshot INTEGER NOT NULL REFERENCES snapshots(id),
  to_snapshot   INTEGER NOT NULL REFERENCES snapshots(id),
  severity      TEXT NOT NULL,
  breaking      INTEGER NOT NULL CHECK (breaking IN (0,1)),
  created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  dispatched_at DATETIME,
  UNIQUE(target_id, from_snapshot, to_snapshot)
);
CREATE INDEX IF NOT EXISTS idx_entries_target_time ON changelog_entries(target_id, created_at);
CREATE TABLE IF NOT EXISTS change_records (
  id        INTEGER PRIMARY KEY,
  entry_id  TEXT NOT NULL REFERENCES changelog_entries(id),
  position  INTEGER NOT NULL,
  kind      TEXT NOT NULL CHECK (kind IN ('added','removed','modified')),
  path      TEXT NOT NULL,
  old_value TEXT,
  new_value TEXT,
  severity  TEXT NOT NULL,
  breaking  INTEGER NOT NULL CHECK (breaking IN (0,1))
);
CREATE INDEX IF NOT EXISTS idx_records_entry ON change_records(entry_id, position);
CREATE TABLE IF NOT EXISTS notification_tasks (
  id            INTEGER PRIMARY KEY,
  entry_id      TEXT NOT NULL REFERENCES changelog_entries(id),
  subscriber_id INTEGER NOT NULL REFERENCES subscribers(id),
  channel       TEXT NOT NULL,
  status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','delivered','failed')),
  attempts      INTEGER NOT NULL DEFAULT 0,
  updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(entry_id, subscriber_id, channel)
);
CREATE TABLE IF NOT EXISTS inapp_feed (
  id            INTEGER PRIMARY KEY,
  subscriber_id INTEGER NOT NULL REFERENCES subscribers(id),
  entry_id      TEXT NOT NULL REFERENCES changelog_entries(id),
  created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(subscriber_id, entry_id)
);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db, retention: retention}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SQLite stores CURRENT_TIMESTAMP in this layout; storing our own writes
// the same way keeps comparisons and ORDER BY purely lexicographic.
const timeLayout = "2006-01-02 15:04:05"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
