package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/user/agentgate/internal/types"
)

// ResolveOrCreate returns the session for the pair, inserting a fresh row if
// none exists. The insert is conditional so concurrent calls converge on the
// same row.
func (s *Store) ResolveOrCreate(ctx context.Context, ownerID, contextKey string) (*types.Session, error) {
	now := fmtTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (owner_id, context_key, created_at, last_active_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, context_key) DO NOTHING`,
		ownerID, contextKey, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.Get(ctx, ownerID, contextKey)
}

// Get returns the session for the pair, or a conflict-free not-found error.
func (s *Store) Get(ctx context.Context, ownerID, contextKey string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, context_key, backend_session_id, created_at, last_active_at, total_cost, turn_count, version
		FROM sessions WHERE owner_id = ? AND context_key = ?`,
		ownerID, contextKey)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s/%s", ownerID, contextKey)
	}
	return sess, err
}

// List returns all sessions.
func (s *Store) List(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, context_key, backend_session_id, created_at, last_active_at, total_cost, turn_count, version
		FROM sessions ORDER BY last_active_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListIdle returns sessions whose last activity predates the cutoff.
func (s *Store) ListIdle(ctx context.Context, cutoff time.Time) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, context_key, backend_session_id, created_at, last_active_at, total_cost, turn_count, version
		FROM sessions WHERE last_active_at < ?`,
		fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// Update persists the session, guarded by its Version. A stale version
// surfaces as a conflict error; on success the in-memory Version is bumped.
func (s *Store) Update(ctx context.Context, session *types.Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET backend_session_id = ?, last_active_at = ?, total_cost = ?, turn_count = ?, version = version + 1
		WHERE owner_id = ? AND context_key = ? AND version = ?`,
		session.BackendSessionID, fmtTime(session.LastActiveAt), session.TotalCost, session.TurnCount,
		session.OwnerID, session.ContextKey, session.Version)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return types.E(types.KindConflict, "session %s/%s modified concurrently", session.OwnerID, session.ContextKey)
	}
	session.Version++
	return nil
}

// CompleteExchange persists the post-exchange session state and the ledger
// entry in one transaction, so a crash cannot leave the turn counted without
// its cost or backend handle.
func (s *Store) CompleteExchange(ctx context.Context, session *types.Session, cost float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin exchange txn: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET backend_session_id = ?, last_active_at = ?, total_cost = ?, turn_count = ?, version = version + 1
		WHERE owner_id = ? AND context_key = ? AND version = ?`,
		session.BackendSessionID, fmtTime(session.LastActiveAt), session.TotalCost, session.TurnCount,
		session.OwnerID, session.ContextKey, session.Version)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return types.E(types.KindConflict, "session %s/%s modified concurrently", session.OwnerID, session.ContextKey)
	}

	if cost != 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cost_ledger (owner_id, occurred_at, amount) VALUES (?, ?, ?)`,
			session.OwnerID, fmtTime(session.LastActiveAt), cost); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exchange txn: %w", err)
	}
	session.Version++
	return nil
}

// ClearBackendSession drops only the backend resume handle; turn count,
// cost, and timestamps survive. Used when the backend no longer recognizes
// the handle and the conversation record must carry over to a fresh one.
func (s *Store) ClearBackendSession(ctx context.Context, ownerID, contextKey string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET backend_session_id = '', version = version + 1
		WHERE owner_id = ? AND context_key = ?`,
		ownerID, contextKey)
	if err != nil {
		return fmt.Errorf("clear backend session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear backend session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session not found: %s/%s", ownerID, contextKey)
	}
	return nil
}

// Reset clears the backend session handle and restarts the logical session:
// turn count and materialized cost start over, the owner's ledger history is
// untouched.
func (s *Store) Reset(ctx context.Context, ownerID, contextKey string) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET backend_session_id = '', created_at = ?, last_active_at = ?, total_cost = 0, turn_count = 0, version = version + 1
		WHERE owner_id = ? AND context_key = ?`,
		now, now, ownerID, contextKey)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session not found: %s/%s", ownerID, contextKey)
	}
	return nil
}

// Delete removes the session row. Used by explicit expiry only.
func (s *Store) Delete(ctx context.Context, ownerID, contextKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE owner_id = ? AND context_key = ?`,
		ownerID, contextKey)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var createdAt, lastActiveAt string
	err := row.Scan(&sess.OwnerID, &sess.ContextKey, &sess.BackendSessionID,
		&createdAt, &lastActiveAt, &sess.TotalCost, &sess.TurnCount, &sess.Version)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.LastActiveAt = parseTime(lastActiveAt)
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*types.Session, error) {
	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
