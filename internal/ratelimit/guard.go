package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/agentgate/internal/types"
)

// Guard rejects triggers whose estimated cost would push an owner's
// cumulative spend past the configured ceiling. The ledger is the single
// source of truth; the in-memory sums are a read-through cache only and are
// invalidated whenever an exchange settles.
type Guard struct {
	ledger  types.CostLedger
	ceiling float64

	mu    sync.Mutex
	cache map[string]cachedSum
	ttl   time.Duration
}

type cachedSum struct {
	sum float64
	at  time.Time
}

// NewGuard creates a guard enforcing a per-owner spend ceiling. A ceiling of
// zero or below disables the check.
func NewGuard(ledger types.CostLedger, ceiling float64) *Guard {
	return &Guard{
		ledger:  ledger,
		ceiling: ceiling,
		cache:   make(map[string]cachedSum),
		ttl:     30 * time.Second,
	}
}

// Check returns a BudgetExceeded error when spent + estimated would cross
// the ceiling. The ceiling governs admission of the next trigger; an
// in-flight exchange is never terminated for crossing it.
func (g *Guard) Check(ctx context.Context, ownerID string, estimated float64) error {
	if g.ceiling <= 0 {
		return nil
	}
	spent, err := g.spent(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("read cost ledger: %w", err)
	}
	if spent+estimated > g.ceiling {
		return types.E(types.KindBudgetExceeded,
			"owner %s spent %.4f of %.4f ceiling, estimated %.4f more", ownerID, spent, g.ceiling, estimated)
	}
	return nil
}

// Invalidate drops the cached sum for an owner. Called after every ledger
// append so the next Check reads through to the ledger.
func (g *Guard) Invalidate(ownerID string) {
	g.mu.Lock()
	delete(g.cache, ownerID)
	g.mu.Unlock()
}

func (g *Guard) spent(ctx context.Context, ownerID string) (float64, error) {
	g.mu.Lock()
	c, ok := g.cache[ownerID]
	g.mu.Unlock()
	if ok && time.Since(c.at) < g.ttl {
		return c.sum, nil
	}

	sum, err := g.ledger.Sum(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	g.cache[ownerID] = cachedSum{sum: sum, at: time.Now()}
	g.mu.Unlock()
	return sum, nil
}
