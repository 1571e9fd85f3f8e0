package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/user/agentgate/internal/types"
)

// Record appends one permission decision to the audit log.
func (s *Store) Record(ctx context.Context, entry *types.AuditEntry) error {
	var request any
	if len(entry.Request) > 0 {
		request = string(entry.Request)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (occurred_at, owner_id, context_key, tool, decision, reason, request)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fmtTime(entry.OccurredAt), entry.OwnerID, entry.ContextKey, entry.Tool,
		entry.Decision, entry.Reason, request)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Tail returns the owner's most recent audit entries, newest first.
func (s *Store) Tail(ctx context.Context, ownerID string, limit int) ([]*types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, owner_id, context_key, tool, decision, reason, request
		FROM audit_log WHERE owner_id = ? ORDER BY id DESC LIMIT ?`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("tail audit log: %w", err)
	}
	defer rows.Close()

	var entries []*types.AuditEntry
	for rows.Next() {
		var entry types.AuditEntry
		var occurredAt string
		var request sql.NullString
		if err := rows.Scan(&occurredAt, &entry.OwnerID, &entry.ContextKey,
			&entry.Tool, &entry.Decision, &entry.Reason, &request); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.OccurredAt = parseTime(occurredAt)
		if request.Valid {
			entry.Request = []byte(request.String)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
