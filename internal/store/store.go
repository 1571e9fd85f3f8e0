// Package store provides the SQLite-backed persistence layer: sessions,
// dedup records, the cost ledger, and the audit log.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/agentgate/internal/types"
)

// Compile-time interface compliance checks.
var _ types.SessionStore = (*Store)(nil)
var _ types.DedupStore = (*Store)(nil)
var _ types.CostLedger = (*Store)(nil)
var _ types.AuditLog = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	owner_id TEXT NOT NULL,
	context_key TEXT NOT NULL,
	backend_session_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	last_active_at TEXT NOT NULL,
	total_cost REAL NOT NULL DEFAULT 0,
	turn_count INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (owner_id, context_key)
);

CREATE TABLE IF NOT EXISTS dedup_records (
	source TEXT NOT NULL,
	event_id TEXT NOT NULL,
	first_seen_at TEXT NOT NULL,
	PRIMARY KEY (source, event_id)
);

CREATE TABLE IF NOT EXISTS cost_ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	amount REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_owner ON cost_ledger(owner_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	context_key TEXT NOT NULL,
	tool TEXT NOT NULL,
	decision TEXT NOT NULL,
	reason TEXT NOT NULL,
	request TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_owner ON audit_log(owner_id);
`

// Store wraps a SQLite database implementing all four persistence
// interfaces. Mechanics stay here; policy lives with the callers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
