package ratelimit

import "context"

// Admission is the combined gate applied before any backend resource is
// consumed. The rate-limit and cost-ceiling checks are independent; both
// must pass, in no particular order.
type Admission struct {
	limiter *Limiter
	guard   *Guard
}

func NewAdmission(limiter *Limiter, guard *Guard) *Admission {
	return &Admission{limiter: limiter, guard: guard}
}

// Admit consumes one rate-limit token and checks the spend ceiling for the
// owner. Returns a Throttled or BudgetExceeded error, or nil when admitted.
func (a *Admission) Admit(ctx context.Context, ownerID string, estimated float64) error {
	if err := a.limiter.Take(ownerID); err != nil {
		return err
	}
	return a.guard.Check(ctx, ownerID, estimated)
}

// Settle invalidates the owner's cached spend after an exchange's actual
// cost lands in the ledger.
func (a *Admission) Settle(ownerID string) {
	a.guard.Invalidate(ownerID)
}
