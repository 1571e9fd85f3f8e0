// Package delivery routes response events back to the trigger source that
// asked for them.
package delivery

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/user/agentgate/internal/bus"
	"github.com/user/agentgate/internal/types"
)

// Handler delivers one response event to its trigger source.
type Handler func(event *types.ResponseEvent) error

// Registry routes response events to the appropriate handler based on
// source prefix (e.g. "chat:", "webhook:"). It runs as a bus subscriber
// with the drop-oldest policy: a stuck delivery sink loses stale responses
// rather than stalling the orchestrator.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	bus *bus.Bus
	sub *bus.Subscription
	wg  sync.WaitGroup
}

// NewRegistry creates an empty delivery registry over the bus.
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		bus:      b,
	}
}

// Register adds a handler for sources starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Start subscribes to response events and dispatches them until Stop.
func (r *Registry) Start() {
	r.sub = r.bus.Subscribe(func(event any) bool {
		_, ok := event.(*types.ResponseEvent)
		return ok
	})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for event := range r.sub.C() {
			resp, ok := event.(*types.ResponseEvent)
			if !ok {
				continue
			}
			if err := r.Deliver(resp); err != nil {
				slog.Warn("response delivery failed",
					"source", resp.Source, "owner_id", resp.OwnerID, "error", err)
			}
		}
	}()
}

// Stop unsubscribes and waits for the dispatch loop to drain.
func (r *Registry) Stop() {
	if r.sub != nil {
		r.sub.Close()
	}
	r.wg.Wait()
}

// Deliver finds the handler matching the event's source prefix and calls
// it. Returns an error if no handler is registered for the prefix.
func (r *Registry) Deliver(event *types.ResponseEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(event.Source, prefix) {
			return handler(event)
		}
	}
	return fmt.Errorf("no delivery handler for source: %s", event.Source)
}
