package store

import (
	"context"
	"fmt"

	"github.com/user/agentgate/internal/types"
)

// Append adds one cost record. The ledger is append-only; there is no update
// or delete path.
func (s *Store) Append(ctx context.Context, entry *types.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_ledger (owner_id, occurred_at, amount) VALUES (?, ?, ?)`,
		entry.OwnerID, fmtTime(entry.OccurredAt), entry.Amount)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Sum returns the owner's cumulative spend across all sessions. This is the
// authoritative figure; any in-memory total is a read-through cache.
func (s *Store) Sum(ctx context.Context, ownerID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM cost_ledger WHERE owner_id = ?`,
		ownerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return total, nil
}
