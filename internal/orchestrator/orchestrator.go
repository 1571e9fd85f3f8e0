// Package orchestrator owns the lifecycle of agent sessions: it consumes
// trigger events from the bus, serializes exchanges per session, drives the
// backend with a pre-execution tool gate, and publishes a response event on
// every outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/user/agentgate/internal/bus"
	"github.com/user/agentgate/internal/permission"
	"github.com/user/agentgate/internal/ratelimit"
	"github.com/user/agentgate/internal/types"
	"github.com/user/agentgate/pkg/agent"
)

// Estimator produces an admission-time cost estimate for a prompt.
type Estimator interface {
	EstimateCost(prompt string) float64
}

// Config bounds the orchestrator's concurrency and timing.
type Config struct {
	MaxConcurrent int64
	QueueDepth    int
	// TriggerTimeout cancels an exchange that runs too long; the session is
	// left in its last persisted state.
	TriggerTimeout time.Duration
	// IdleExpiry is the inactivity age after which the sweep deletes a
	// session. Zero disables expiry.
	IdleExpiry    time.Duration
	SweepInterval time.Duration
	// CostCap is the hard per-exchange spend limit passed to the backend.
	CostCap float64
}

// Orchestrator wires admission control, the session store, the permission
// pipeline, and the backend together behind per-session execution lanes.
type Orchestrator struct {
	cfg       Config
	sessions  types.SessionStore
	backend   agent.Backend
	pipeline  *permission.Pipeline
	admission *ratelimit.Admission
	estimator Estimator
	ledger    types.CostLedger
	bus       *bus.Bus
	queue     *queue

	sub    *bus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. Start must be called before it consumes
// anything.
func New(
	cfg Config,
	sessions types.SessionStore,
	backend agent.Backend,
	pipeline *permission.Pipeline,
	admission *ratelimit.Admission,
	estimator Estimator,
	ledger types.CostLedger,
	b *bus.Bus,
) *Orchestrator {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	o := &Orchestrator{
		cfg:       cfg,
		sessions:  sessions,
		backend:   backend,
		pipeline:  pipeline,
		admission: admission,
		estimator: estimator,
		ledger:    ledger,
		bus:       b,
		queue:     newQueue(cfg.MaxConcurrent, cfg.QueueDepth),
	}
	o.queue.processor = o.process
	return o
}

// Start subscribes to trigger events and launches the lane processors and
// the idle-session sweep.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.queue.start(ctx)

	o.sub = o.bus.Subscribe(func(event any) bool {
		_, ok := event.(*types.TriggerEvent)
		return ok
	}, bus.WithBlockTimeout(5*time.Second))

	o.wg.Add(2)
	go o.consume(ctx)
	go o.sweepLoop(ctx)
}

// Stop drains in-flight work and returns once every lane has finished.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	if o.sub != nil {
		o.sub.Close()
	}
	o.queue.stop()
	o.wg.Wait()
}

func (o *Orchestrator) consume(ctx context.Context) {
	defer o.wg.Done()
	for event := range o.sub.C() {
		trigger, ok := event.(*types.TriggerEvent)
		if !ok {
			continue
		}
		if err := o.Handle(ctx, trigger); err != nil {
			slog.Warn("trigger rejected",
				"event_id", trigger.EventID, "source", trigger.Source,
				"owner_id", trigger.OwnerID, "error", err)
			o.publishFailure(trigger, err)
		}
	}
}

// Handle admits a trigger and enqueues it on its session lane. Admission
// (rate limit and spend ceiling) runs here, before any backend resource is
// consumed; a full lane returns a Busy error.
func (o *Orchestrator) Handle(ctx context.Context, trigger *types.TriggerEvent) error {
	estimated := o.estimator.EstimateCost(trigger.Payload)
	if err := o.admission.Admit(ctx, trigger.OwnerID, estimated); err != nil {
		return err
	}
	if _, err := o.sessions.ResolveOrCreate(ctx, trigger.OwnerID, trigger.ContextKey); err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	return o.queue.enqueue(&task{
		key:        types.NewSessionKey(trigger.OwnerID, trigger.ContextKey),
		ownerID:    trigger.OwnerID,
		contextKey: trigger.ContextKey,
		trigger:    trigger,
	})
}

// process runs one lane task under the per-trigger timeout. It is never
// invoked concurrently for the same session key.
func (o *Orchestrator) process(ctx context.Context, t *task) {
	if t.trigger == nil {
		o.expire(ctx, t)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TriggerTimeout)
	defer cancel()

	trigger := t.trigger
	session, err := o.sessions.Get(ctx, t.ownerID, t.contextKey)
	if err != nil {
		o.publishFailure(trigger, fmt.Errorf("load session: %w", err))
		return
	}

	result, notice, err := o.exchange(ctx, session, trigger)
	if err != nil {
		slog.Error("exchange failed",
			"event_id", trigger.EventID, "owner_id", t.ownerID,
			"context_key", t.contextKey, "error", err)
		o.publishFailure(trigger, err)
		return
	}

	session.BackendSessionID = result.SessionID
	session.TurnCount++
	session.TotalCost += result.Cost
	session.LastActiveAt = time.Now().UTC()
	if err := o.sessions.CompleteExchange(ctx, session, result.Cost); err != nil {
		slog.Error("persist exchange failed",
			"owner_id", t.ownerID, "context_key", t.contextKey, "error", err)
		// The turn counter lost the persistence race, but the spend is
		// real; record it so the ceiling still sees it.
		if result.Cost != 0 {
			if err := o.ledger.Append(ctx, &types.LedgerEntry{
				OwnerID:    t.ownerID,
				OccurredAt: time.Now().UTC(),
				Amount:     result.Cost,
			}); err != nil {
				slog.Error("ledger append failed",
					"owner_id", t.ownerID, "error", err)
			}
		}
	}
	o.admission.Settle(t.ownerID)

	o.publishResponse(trigger, types.OutcomeCompleted, result.Text, notice, result.Cost)
}

// exchange drives one backend exchange. A stale resume hint is recovered
// exactly once: the backend handle is cleared, the exchange retried fresh,
// and the caller gets an explanatory notice. The session's turn history is
// untouched by recovery.
func (o *Orchestrator) exchange(ctx context.Context, session *types.Session, trigger *types.TriggerEvent) (*agent.Result, string, error) {
	result, err := o.attempt(ctx, session.BackendSessionID, trigger)
	if err == nil {
		return result, "", nil
	}
	if agent.KindOf(err) != agent.ErrorKindStaleSession || session.BackendSessionID == "" {
		return nil, "", err
	}

	slog.Warn("backend lost session, retrying fresh",
		"owner_id", session.OwnerID, "context_key", session.ContextKey,
		"backend_session_id", session.BackendSessionID)
	// Only the handle is dropped; turn count and cost carry over to the
	// replacement backend session. A full Reset is the owner's call, not
	// the recovery path's.
	if err := o.sessions.ClearBackendSession(ctx, session.OwnerID, session.ContextKey); err != nil {
		return nil, "", fmt.Errorf("clear stale backend session: %w", err)
	}
	fresh, err := o.sessions.Get(ctx, session.OwnerID, session.ContextKey)
	if err != nil {
		return nil, "", fmt.Errorf("reload session after reset: %w", err)
	}
	*session = *fresh

	result, err = o.attempt(ctx, "", trigger)
	if err != nil {
		return nil, "", err
	}
	return result, "Previous conversation could not be resumed; started a new session.", nil
}

// attempt opens one exchange and drains its stream, gating every tool
// request through the permission pipeline before the backend may run it.
func (o *Orchestrator) attempt(ctx context.Context, resumeID string, trigger *types.TriggerEvent) (*agent.Result, error) {
	ex, err := o.backend.Open(ctx, agent.ExchangeRequest{
		SessionID:  resumeID,
		OwnerID:    trigger.OwnerID,
		ContextKey: trigger.ContextKey,
		Prompt:     trigger.Payload,
		CostCap:    o.cfg.CostCap,
	})
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	for {
		event, err := ex.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil, &agent.Error{Kind: agent.ErrorKindProtocol, Message: "stream ended without a result"}
		}
		if err != nil {
			return nil, err
		}
		switch event.Type {
		case agent.EventToolRequest:
			if err := o.gate(ctx, trigger, ex, event.Tool); err != nil {
				return nil, err
			}
		case agent.EventResult:
			return event.Result, nil
		}
	}
}

// gate evaluates a pending tool call and sends the decision back before the
// backend proceeds. An exchange-fatal denial aborts the whole exchange.
func (o *Orchestrator) gate(ctx context.Context, trigger *types.TriggerEvent, ex agent.Exchange, call *agent.ToolCall) error {
	req := &types.ToolRequest{Tool: call.Name, Input: call.Input, RequestedAt: time.Now().UTC()}
	d := o.pipeline.Evaluate(ctx, trigger.OwnerID, trigger.ContextKey, req)
	if err := ex.Decide(ctx, call.CallID, agent.Decision{
		Allow:        d.Allow,
		Reason:       d.Reason,
		UpdatedInput: d.UpdatedInput,
	}); err != nil {
		return fmt.Errorf("send tool decision: %w", err)
	}
	if !d.Allow && d.Fatal {
		return types.E(types.KindPermissionDenied, "tool %s: %s", call.Name, d.Reason)
	}
	return nil
}

// expire deletes an idle session. Running on the session's lane means it
// can never race an in-flight exchange; the age re-check guards against an
// exchange that ran between the sweep listing and this task.
func (o *Orchestrator) expire(ctx context.Context, t *task) {
	session, err := o.sessions.Get(ctx, t.ownerID, t.contextKey)
	if err != nil {
		return
	}
	if time.Since(session.LastActiveAt) < o.cfg.IdleExpiry {
		return
	}
	if err := o.sessions.Delete(ctx, t.ownerID, t.contextKey); err != nil {
		slog.Error("expire session failed",
			"owner_id", t.ownerID, "context_key", t.contextKey, "error", err)
		return
	}
	slog.Info("expired idle session",
		"owner_id", t.ownerID, "context_key", t.contextKey,
		"last_active_at", session.LastActiveAt)
}

func (o *Orchestrator) publishResponse(trigger *types.TriggerEvent, outcome, text, notice string, cost float64) {
	o.bus.Publish(&types.ResponseEvent{
		EventID:    types.NewEventID(),
		TriggerID:  trigger.EventID,
		Source:     trigger.Source,
		OwnerID:    trigger.OwnerID,
		ContextKey: trigger.ContextKey,
		Text:       text,
		Notice:     notice,
		Outcome:    outcome,
		Cost:       cost,
		At:         time.Now().UTC(),
	})
}

func (o *Orchestrator) publishFailure(trigger *types.TriggerEvent, err error) {
	outcome := types.OutcomeFailed
	if isTimeout(err) {
		outcome = types.OutcomeTimeout
	}
	o.publishResponse(trigger, outcome, "", noticeFor(err), 0)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		types.IsKind(err, types.KindTimeout) ||
		agent.KindOf(err) == agent.ErrorKindTimeout
}

// noticeFor maps an internal failure to the message shown to the trigger
// source.
func noticeFor(err error) string {
	if isTimeout(err) {
		return "The request timed out before the agent finished. Please try again."
	}
	switch types.KindOf(err) {
	case types.KindBusy:
		return "Too many requests are queued for this session. Please retry shortly."
	case types.KindThrottled:
		return "Rate limit reached. Please wait a moment before retrying."
	case types.KindBudgetExceeded:
		return "The spending budget for this account has been reached."
	case types.KindPermissionDenied:
		return "The agent requested an action that is blocked by policy."
	}
	if agent.KindOf(err) == agent.ErrorKindUnavailable {
		return "The agent backend is unavailable right now. Please retry."
	}
	return "Sorry, something went wrong processing your request."
}
