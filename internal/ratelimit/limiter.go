// Package ratelimit gates trigger admission: a per-owner token bucket plus
// a cumulative cost ceiling checked against the ledger.
package ratelimit

import (
	"sync"
	"time"

	"github.com/user/agentgate/internal/types"
)

// Limiter is a per-owner token bucket. Refill is lazy: tokens are credited
// on access from the elapsed time since the last refill, never by a
// background timer, and the count is clamped to capacity.
type Limiter struct {
	mu       sync.Mutex
	capacity float64
	window   time.Duration
	buckets  map[string]*bucket

	now func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewLimiter creates a limiter allowing capacity admissions per window for
// each owner.
func NewLimiter(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: float64(capacity),
		window:   window,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Take consumes one token for the owner, returning a Throttled error when
// the bucket is empty.
func (l *Limiter) Take(ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ownerID]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[ownerID] = b
	} else {
		elapsed := now.Sub(b.lastRefill)
		b.tokens += elapsed.Seconds() / l.window.Seconds() * l.capacity
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return types.E(types.KindThrottled, "rate limit exceeded for owner %s", ownerID)
	}
	b.tokens--
	return nil
}

// Remaining reports the whole tokens currently available, after lazy refill.
func (l *Limiter) Remaining(ownerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ownerID]
	if !ok {
		return int(l.capacity)
	}
	tokens := b.tokens + l.now().Sub(b.lastRefill).Seconds()/l.window.Seconds()*l.capacity
	if tokens > l.capacity {
		tokens = l.capacity
	}
	return int(tokens)
}
