package types

import (
	"context"
	"time"
)

type SessionStore interface {
	// ResolveOrCreate returns the session for the pair, creating a fresh row
	// if none exists.
	ResolveOrCreate(ctx context.Context, ownerID, contextKey string) (*Session, error)
	Get(ctx context.Context, ownerID, contextKey string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	// Update persists the session guarded by its Version; a concurrent writer
	// surfaces as a conflict error rather than a lost update.
	Update(ctx context.Context, session *Session) error
	// CompleteExchange persists the post-exchange session state and the cost
	// ledger entry in a single transaction: all fields or none.
	CompleteExchange(ctx context.Context, session *Session, cost float64) error
	// ClearBackendSession drops only the backend resume handle, preserving
	// turn count and cost. For recovery when the backend lost the session.
	ClearBackendSession(ctx context.Context, ownerID, contextKey string) error
	// Reset clears the backend session handle and starts a new logical
	// session row for the pair.
	Reset(ctx context.Context, ownerID, contextKey string) error
	Delete(ctx context.Context, ownerID, contextKey string) error
	// ListIdle returns sessions with no activity since the cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]*Session, error)
}

type DedupStore interface {
	// Insert atomically claims (source, eventID). A second insert for the
	// same key fails with a duplicate-event error, distinct from any other
	// failure.
	Insert(ctx context.Context, source, eventID string) error
}

type CostLedger interface {
	Append(ctx context.Context, entry *LedgerEntry) error
	// Sum returns the cumulative spend for the owner across all sessions.
	Sum(ctx context.Context, ownerID string) (float64, error)
}

type AuditLog interface {
	Record(ctx context.Context, entry *AuditEntry) error
	Tail(ctx context.Context, ownerID string, limit int) ([]*AuditEntry, error)
}
