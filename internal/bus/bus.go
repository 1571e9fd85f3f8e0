// Package bus provides the in-process async publish/subscribe fabric that
// decouples trigger ingestion from orchestration and delivery.
package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Policy controls how a full subscriber buffer is handled. A slow or stuck
// subscriber must never block publishers indefinitely.
type Policy int

const (
	// DropOldest evicts the oldest buffered event to make room. For
	// subscribers where freshness beats completeness (delivery fan-out).
	DropOldest Policy = iota
	// BlockWithTimeout blocks the publisher up to the subscription's timeout,
	// then drops the event. For subscribers that should see every event
	// (orchestration).
	BlockWithTimeout
)

// Bus is a single-process asynchronous event bus. Delivery is at-least-once
// per subscriber; ordering is preserved within a single publisher's stream,
// with no guarantee across publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription is one subscriber's view of the bus. Events arrive on C();
// resubscribing restarts the stream from the next published event.
type Subscription struct {
	bus     *Bus
	pred    func(event any) bool
	ch      chan any
	policy  Policy
	timeout time.Duration
	dropped atomic.Int64
}

// SubOption configures a subscription.
type SubOption func(*Subscription)

// WithBuffer sets the subscription's buffered channel size.
func WithBuffer(n int) SubOption {
	return func(s *Subscription) {
		if n > 0 {
			s.ch = make(chan any, n)
		}
	}
}

// WithBlockTimeout switches the subscription to the BlockWithTimeout policy.
func WithBlockTimeout(d time.Duration) SubOption {
	return func(s *Subscription) {
		s.policy = BlockWithTimeout
		s.timeout = d
	}
}

// Subscribe registers a subscriber for events matching pred. The default
// policy is DropOldest with a 64-event buffer.
func (b *Bus) Subscribe(pred func(event any) bool, opts ...SubOption) *Subscription {
	sub := &Subscription{
		bus:    b,
		pred:   pred,
		ch:     make(chan any, 64),
		policy: DropOldest,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.subs[sub] = struct{}{}
	}
	return sub
}

// Publish delivers event to every matching subscriber according to its
// policy. Called from the publishing source's goroutine, so one source's
// events stay ordered on every subscriber channel.
func (b *Bus) Publish(event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for sub := range b.subs {
		if sub.pred != nil && !sub.pred(event) {
			continue
		}
		sub.deliver(event)
	}
}

func (s *Subscription) deliver(event any) {
	switch s.policy {
	case BlockWithTimeout:
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		select {
		case s.ch <- event:
		case <-timer.C:
			s.dropped.Add(1)
		}
	default:
		for {
			select {
			case s.ch <- event:
				return
			default:
			}
			// Buffer full: evict the oldest and retry.
			select {
			case <-s.ch:
				s.dropped.Add(1)
			default:
			}
		}
	}
}

// C returns the subscription's event channel.
func (s *Subscription) C() <-chan any {
	return s.ch
}

// Dropped reports how many events this subscription has lost to its policy.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close removes the subscription. Buffered events remain readable; the
// channel is closed so ranging subscribers terminate.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; !ok {
		return
	}
	delete(s.bus.subs, s)
	close(s.ch)
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = map[*Subscription]struct{}{}
}
