package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/agentgate/internal/types"
)

func TestLimiterExhaustsAtCapacity(t *testing.T) {
	l := NewLimiter(5, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if err := l.Take("alice"); err != nil {
			t.Fatalf("admit %d: %v", i+1, err)
		}
	}
	err := l.Take("alice")
	if err == nil {
		t.Fatal("6th admit with zero elapsed time succeeded")
	}
	if types.KindOf(err) != types.KindThrottled {
		t.Errorf("kind = %s, want throttled", types.KindOf(err))
	}
}

func TestLimiterRefillClampedToCapacity(t *testing.T) {
	l := NewLimiter(5, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if err := l.Take("alice"); err != nil {
			t.Fatal(err)
		}
	}

	// Ten full windows elapse. Capacity is restored, not accumulated.
	now = now.Add(10 * time.Minute)
	if got := l.Remaining("alice"); got != 5 {
		t.Fatalf("remaining after long idle = %d, want 5", got)
	}
	for i := 0; i < 5; i++ {
		if err := l.Take("alice"); err != nil {
			t.Fatalf("admit %d after refill: %v", i+1, err)
		}
	}
	if err := l.Take("alice"); err == nil {
		t.Error("refill accumulated beyond capacity")
	}
}

func TestLimiterPartialRefill(t *testing.T) {
	l := NewLimiter(10, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		if err := l.Take("alice"); err != nil {
			t.Fatal(err)
		}
	}

	// 30s into a 60s window restores half the capacity.
	now = now.Add(30 * time.Second)
	if got := l.Remaining("alice"); got != 5 {
		t.Errorf("remaining after half window = %d, want 5", got)
	}
}

func TestLimiterOwnersIndependent(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	if err := l.Take("alice"); err != nil {
		t.Fatal(err)
	}
	if err := l.Take("bob"); err != nil {
		t.Errorf("bob throttled by alice's bucket: %v", err)
	}
}

// memLedger is an in-memory CostLedger for guard tests.
type memLedger struct {
	mu   sync.Mutex
	sums map[string]float64
}

func newMemLedger() *memLedger {
	return &memLedger{sums: make(map[string]float64)}
}

func (m *memLedger) Append(_ context.Context, entry *types.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sums[entry.OwnerID] += entry.Amount
	return nil
}

func (m *memLedger) Sum(_ context.Context, ownerID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sums[ownerID], nil
}

func TestGuardRejectsOverCeiling(t *testing.T) {
	ledger := newMemLedger()
	ledger.sums["alice"] = 9.50
	g := NewGuard(ledger, 10.0)
	ctx := context.Background()

	if err := g.Check(ctx, "alice", 0.25); err != nil {
		t.Errorf("under ceiling rejected: %v", err)
	}
	err := g.Check(ctx, "alice", 0.75)
	if err == nil {
		t.Fatal("over-ceiling estimate admitted")
	}
	if types.KindOf(err) != types.KindBudgetExceeded {
		t.Errorf("kind = %s, want budget_exceeded", types.KindOf(err))
	}
}

func TestGuardCacheInvalidatedOnSettle(t *testing.T) {
	ledger := newMemLedger()
	g := NewGuard(ledger, 10.0)
	ctx := context.Background()

	// Prime the cache at zero spend.
	if err := g.Check(ctx, "alice", 1.0); err != nil {
		t.Fatal(err)
	}

	ledger.sums["alice"] = 9.8
	// Stale cache still admits; the cache is a read-through accelerator,
	// not the source of truth, so settling must drop it.
	g.Invalidate("alice")
	if err := g.Check(ctx, "alice", 1.0); err == nil {
		t.Error("check after invalidation missed the new ledger sum")
	}
}

func TestGuardDisabledCeiling(t *testing.T) {
	ledger := newMemLedger()
	ledger.sums["alice"] = 1e9
	g := NewGuard(ledger, 0)

	if err := g.Check(context.Background(), "alice", 1e9); err != nil {
		t.Errorf("zero ceiling should disable the guard: %v", err)
	}
}

func TestAdmissionBothGatesApply(t *testing.T) {
	ledger := newMemLedger()
	ledger.sums["broke"] = 100
	limiter := NewLimiter(2, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	a := NewAdmission(limiter, NewGuard(ledger, 10.0))
	ctx := context.Background()

	if err := a.Admit(ctx, "broke", 0.1); types.KindOf(err) != types.KindBudgetExceeded {
		t.Errorf("expected budget_exceeded, got %v", err)
	}
	if err := a.Admit(ctx, "alice", 0.1); err != nil {
		t.Fatal(err)
	}
	if err := a.Admit(ctx, "alice", 0.1); err != nil {
		t.Fatal(err)
	}
	if err := a.Admit(ctx, "alice", 0.1); types.KindOf(err) != types.KindThrottled {
		t.Errorf("expected throttled, got %v", err)
	}
}
