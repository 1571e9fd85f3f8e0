package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	defer o.wg.Done()
	if o.cfg.IdleExpiry <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepOnce(ctx)
		}
	}
}

// sweepOnce enqueues an expiry task for every idle session. The task goes
// through the session's lane, so expiry serializes with any exchange
// already in flight for the same key.
func (o *Orchestrator) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.IdleExpiry)
	idle, err := o.sessions.ListIdle(ctx, cutoff)
	if err != nil {
		slog.Error("idle session sweep failed", "error", err)
		return
	}
	for _, s := range idle {
		t := &task{key: s.Key(), ownerID: s.OwnerID, contextKey: s.ContextKey}
		if err := o.queue.enqueue(t); err != nil {
			// Lane is full of real work; the next sweep will retry.
			continue
		}
	}
}
