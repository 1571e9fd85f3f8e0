package store

import (
	"context"
	"fmt"
	"time"

	"github.com/user/agentgate/internal/types"
)

// Insert atomically claims (source, eventID). The conditional insert is a
// single statement, so concurrent deliveries of the same key race safely:
// exactly one wins, the rest get a duplicate-event error.
func (s *Store) Insert(ctx context.Context, source, eventID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dedup_records (source, event_id, first_seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT (source, event_id) DO NOTHING`,
		source, eventID, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert dedup record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert dedup record: %w", err)
	}
	if n == 0 {
		return types.E(types.KindDuplicateEvent, "event %s already seen from %s", eventID, source)
	}
	return nil
}
