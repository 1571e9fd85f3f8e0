package telegram

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentgate/internal/bus"
	"github.com/user/agentgate/internal/store"
	"github.com/user/agentgate/internal/types"
)

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestHandleMessageDedups(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "gate.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	b := bus.New()
	triggers := b.Subscribe(func(event any) bool {
		_, ok := event.(*types.TriggerEvent)
		return ok
	})

	a := &Adapter{
		bus:        b,
		dedup:      st,
		sessions:   st,
		contextKey: "chat",
		chats:      make(map[string]int64),
	}

	msg := &tgbotapi.Message{
		Text: "hello agent",
		From: &tgbotapi.User{ID: 12345},
		Chat: &tgbotapi.Chat{ID: 67890},
	}
	ctx := context.Background()
	a.handleMessage(ctx, 42, msg)
	// Same update redelivered after a reconnect.
	a.handleMessage(ctx, 42, msg)

	var published []*types.TriggerEvent
	for {
		select {
		case ev := <-triggers.C():
			published = append(published, ev.(*types.TriggerEvent))
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}

	if len(published) != 1 {
		t.Fatalf("published %d trigger events, want 1", len(published))
	}
	ev := published[0]
	if ev.EventID != "42" || ev.Source != Source {
		t.Errorf("trigger = %+v", ev)
	}
	if ev.OwnerID != "12345" || ev.ContextKey != "chat" || ev.Payload != "hello agent" {
		t.Errorf("trigger = %+v", ev)
	}
}

func TestDeliverRequiresKnownChat(t *testing.T) {
	a := &Adapter{chats: make(map[string]int64)}

	err := a.deliver(&types.ResponseEvent{OwnerID: "12345", Text: "hi"})
	if err == nil {
		t.Fatal("expected error for owner with no known chat")
	}
}
