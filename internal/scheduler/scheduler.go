// Package scheduler fires trigger events on cron schedules from the job
// store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/agentgate/internal/bus"
	"github.com/user/agentgate/internal/state"
	"github.com/user/agentgate/internal/types"
)

const source = "scheduler"

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler registers enabled jobs as cron entries and publishes a trigger
// event each time one fires. Fire event IDs are derived from the job name
// and the fire minute, so a restarted process replaying a fire is caught by
// the shared dedup gate instead of running the job twice.
type Scheduler struct {
	store *state.JobStore
	dedup types.DedupStore
	bus   *bus.Bus
	cron  *cron.Cron
}

// New creates a Scheduler backed by the given job store.
func New(store *state.JobStore, dedup types.DedupStore, b *bus.Bus) *Scheduler {
	return &Scheduler{
		store: store,
		dedup: dedup,
		bus:   b,
		cron:  cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads jobs from the store, registers the enabled ones, and starts
// the cron ticker.
func (s *Scheduler) Start() error {
	jobs, err := s.store.List()
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.Schedule == "" || !job.Enabled {
			continue
		}

		job := job
		_, err := s.cron.AddFunc(job.Schedule, func() {
			s.fire(job)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

// fire publishes one trigger for a job, gated through dedup.
func (s *Scheduler) fire(job *state.Job) {
	eventID := FireID(job.Name, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.dedup.Insert(ctx, source, eventID); err != nil {
		if types.IsKind(err, types.KindDuplicateEvent) {
			slog.Info("job fire already claimed", "name", job.Name, "event_id", eventID)
			return
		}
		slog.Error("job fire dedup failed", "name", job.Name, "error", err)
		return
	}

	slog.Info("cron firing job", "name", job.Name, "owner_id", job.OwnerID, "context_key", job.ContextKey)
	s.bus.Publish(&types.TriggerEvent{
		EventID:    eventID,
		Source:     source,
		OwnerID:    job.OwnerID,
		ContextKey: job.ContextKey,
		Payload:    job.Prompt,
		At:         time.Now().UTC(),
	})
}

// FireID is the deterministic event ID for one job fire, stable to minute
// granularity.
func FireID(name string, at time.Time) string {
	return fmt.Sprintf("job:%s:%d", name, at.Unix()/60)
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
