package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/agentgate/internal/types"
)

// task is one unit of lane work: an exchange for a trigger, or an
// idle-expiry check when trigger is nil.
type task struct {
	key        types.SessionKey
	ownerID    string
	contextKey string
	trigger    *types.TriggerEvent
}

// queue manages per-session-key lanes with a global concurrency semaphore.
// Each (owner, context) pair gets its own FIFO channel so exchanges on one
// session run strictly in arrival order, while the semaphore bounds total
// parallelism across sessions.
type queue struct {
	lanes     map[types.SessionKey]chan *task
	depth     int
	semaphore *semaphore.Weighted
	processor func(context.Context, *task)
	pending   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func newQueue(maxConcurrent int64, depth int) *queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if depth <= 0 {
		depth = 8
	}
	return &queue{
		lanes:     make(map[types.SessionKey]chan *task),
		depth:     depth,
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// start initialises the queue's context. Must be called before enqueue.
func (q *queue) start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *queue) stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.lanes = make(map[types.SessionKey]chan *task)
	q.mu.Unlock()
	q.wg.Wait()
}

// enqueue adds a task to its session lane, creating the lane (and its
// goroutine) on first use. A full lane surfaces as a Busy error so the
// trigger source can retry instead of blocking.
func (q *queue) enqueue(t *task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[t.key]
	if !exists {
		lane = make(chan *task, q.depth)
		q.lanes[t.key] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- t:
		q.pending.Add(1)
		return nil
	default:
		return types.E(types.KindBusy, "execution queue full for %s/%s", t.ownerID, t.contextKey)
	}
}

// processLane drains one session lane, acquiring a semaphore slot before
// running the processor synchronously. FIFO order within the lane holds
// because the processor is never invoked concurrently for the same lane.
func (q *queue) processLane(lane chan *task) {
	defer q.wg.Done()
	for {
		select {
		case t, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				// Shutdown raced the dequeue; the task will not run but
				// must still come off the pending count.
				q.pending.Add(-1)
				return
			}
			q.processor(q.ctx, t)
			q.semaphore.Release(1)
			q.pending.Add(-1)
		case <-q.ctx.Done():
			return
		}
	}
}

// waitIdle blocks until every enqueued task has been processed, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *queue) waitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
