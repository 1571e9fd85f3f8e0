// Package types defines the gateway's shared data model, the persistence
// contracts, and the kinded error taxonomy.
package types

import (
	"encoding/json"
	"time"
)

// Session identifies one resumable conversation for an (owner, context) pair.
// BackendSessionID is empty until the first successful exchange and is only
// cleared again by an explicit reset.
type Session struct {
	OwnerID          string    `json:"owner_id"`
	ContextKey       string    `json:"context_key"`
	BackendSessionID string    `json:"backend_session_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastActiveAt     time.Time `json:"last_active_at"`
	TotalCost        float64   `json:"total_cost"`
	TurnCount        int64     `json:"turn_count"`
	Version          int64     `json:"version"`
}

// Key returns the serialization key for this session.
func (s *Session) Key() SessionKey {
	return NewSessionKey(s.OwnerID, s.ContextKey)
}

// TriggerEvent is the normalized unit every trigger source publishes.
// EventID is unique per source and doubles as the deduplication key.
type TriggerEvent struct {
	EventID    string          `json:"event_id"`
	Source     string          `json:"source"`
	OwnerID    string          `json:"owner_id"`
	ContextKey string          `json:"context_key"`
	Payload    string          `json:"payload"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	At         time.Time       `json:"at"`
}

// ResponseEvent is published after an exchange finishes, on every outcome.
type ResponseEvent struct {
	EventID    EventID   `json:"event_id"`
	TriggerID  string    `json:"trigger_id"`
	Source     string    `json:"source"`
	OwnerID    string    `json:"owner_id"`
	ContextKey string    `json:"context_key"`
	Text       string    `json:"text,omitempty"`
	Notice     string    `json:"notice,omitempty"`
	Outcome    string    `json:"outcome"`
	Cost       float64   `json:"cost"`
	At         time.Time `json:"at"`
}

// ResponseEvent outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
)

// ToolRequest is one proposed action by the backend during an exchange.
// It lives only for the duration of pipeline evaluation; the decision is
// written to the audit log.
type ToolRequest struct {
	Tool        string          `json:"tool"`
	Input       json.RawMessage `json:"input"`
	RequestedAt time.Time       `json:"requested_at"`
}

// LedgerEntry is one append-only cost record. Session.TotalCost is a
// materialized running sum, always reconcilable from these entries.
type LedgerEntry struct {
	OwnerID    string    `json:"owner_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Amount     float64   `json:"amount"`
}

// AuditEntry records one permission decision, allowed or denied.
type AuditEntry struct {
	OccurredAt time.Time       `json:"occurred_at"`
	OwnerID    string          `json:"owner_id"`
	ContextKey string          `json:"context_key"`
	Tool       string          `json:"tool"`
	Decision   string          `json:"decision"`
	Reason     string          `json:"reason"`
	Request    json.RawMessage `json:"request,omitempty"`
}

// Audit decisions.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)
