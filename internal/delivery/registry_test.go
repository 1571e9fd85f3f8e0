package delivery

import (
	"sync"
	"testing"
	"time"

	"github.com/user/agentgate/internal/bus"
	"github.com/user/agentgate/internal/types"
)

func response(source, text string) *types.ResponseEvent {
	return &types.ResponseEvent{
		EventID: types.NewEventID(),
		Source:  source,
		OwnerID: "alice",
		Text:    text,
		Outcome: types.OutcomeCompleted,
		At:      time.Now(),
	}
}

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry(bus.New())

	var got *types.ResponseEvent
	reg.Register("webhook:", func(event *types.ResponseEvent) error {
		got = event
		return nil
	})

	if err := reg.Deliver(response("webhook:github", "hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Text != "hello" {
		t.Errorf("delivered event = %+v", got)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry(bus.New())

	if err := reg.Deliver(response("unknown:source", "hello")); err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryMultiplePrefixes(t *testing.T) {
	reg := NewRegistry(bus.New())

	var chatCalls, webhookCalls int
	reg.Register("chat:", func(event *types.ResponseEvent) error {
		chatCalls++
		return nil
	})
	reg.Register("webhook:", func(event *types.ResponseEvent) error {
		webhookCalls++
		return nil
	})

	if err := reg.Deliver(response("chat:telegram", "msg1")); err != nil {
		t.Fatalf("chat deliver error: %v", err)
	}
	if err := reg.Deliver(response("webhook:generic", "msg2")); err != nil {
		t.Fatalf("webhook deliver error: %v", err)
	}

	if chatCalls != 1 || webhookCalls != 1 {
		t.Errorf("chat = %d, webhook = %d, want 1 each", chatCalls, webhookCalls)
	}
}

func TestRegistryConsumesBus(t *testing.T) {
	b := bus.New()
	reg := NewRegistry(b)

	var mu sync.Mutex
	var texts []string
	reg.Register("chat:", func(event *types.ResponseEvent) error {
		mu.Lock()
		texts = append(texts, event.Text)
		mu.Unlock()
		return nil
	})
	reg.Start()
	defer reg.Stop()

	b.Publish(response("chat:telegram", "first"))
	b.Publish(response("chat:telegram", "second"))
	// Trigger events on the bus must not reach delivery handlers.
	b.Publish(&types.TriggerEvent{EventID: "ev-1", Source: "chat:telegram"})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(texts)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("delivered %d responses, want 2", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if texts[0] != "first" || texts[1] != "second" {
		t.Errorf("delivery order = %v", texts)
	}
}
