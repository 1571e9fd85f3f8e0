// Package telegram bridges Telegram chats onto the trigger bus.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentgate/internal/bus"
	"github.com/user/agentgate/internal/delivery"
	"github.com/user/agentgate/internal/types"
)

const (
	maxTelegramMessage = 4096

	// Source identifies telegram triggers and responses on the bus.
	Source = "chat:telegram"
)

// Adapter long-polls Telegram updates, publishes trigger events, and
// delivers response events back to the originating chat.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	bus      *bus.Bus
	dedup    types.DedupStore
	sessions types.SessionStore
	// contextKey maps every chat onto one approved working context.
	contextKey string

	// chats remembers which chat each owner spoke from, for response
	// routing.
	mu    sync.Mutex
	chats map[string]int64
}

// New creates a Telegram adapter and registers its delivery handler.
func New(token, contextKey string, b *bus.Bus, dedup types.DedupStore, sessions types.SessionStore, registry *delivery.Registry) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := &Adapter{
		bot:        bot,
		bus:        b,
		dedup:      dedup,
		sessions:   sessions,
		contextKey: contextKey,
		chats:      make(map[string]int64),
	}
	registry.Register(Source, a.deliver)
	return a, nil
}

// Start begins long-polling for Telegram updates until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.UpdateID, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// handleMessage claims the update through dedup and publishes a trigger.
// Telegram redelivers updates after restarts; the dedup gate makes those
// redeliveries no-ops.
func (a *Adapter) handleMessage(ctx context.Context, updateID int, msg *tgbotapi.Message) {
	owner := strconv.FormatInt(msg.From.ID, 10)
	a.mu.Lock()
	a.chats[owner] = msg.Chat.ID
	a.mu.Unlock()

	if msg.IsCommand() {
		a.handleCommand(ctx, owner, msg)
		return
	}

	eventID := strconv.Itoa(updateID)
	if err := a.dedup.Insert(ctx, Source, eventID); err != nil {
		if !types.IsKind(err, types.KindDuplicateEvent) {
			slog.Error("telegram dedup failed", "update_id", updateID, "error", err)
		}
		return
	}

	a.bus.Publish(&types.TriggerEvent{
		EventID:    eventID,
		Source:     Source,
		OwnerID:    owner,
		ContextKey: a.contextKey,
		Payload:    msg.Text,
		At:         time.Now().UTC(),
	})
}

func (a *Adapter) handleCommand(ctx context.Context, owner string, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.send(chatID, "Hello! Send me a message and I will route it to the agent.")

	case "new":
		if err := a.sessions.Reset(ctx, owner, a.contextKey); err != nil {
			slog.Error("session reset failed", "owner_id", owner, "error", err)
			a.send(chatID, "Could not reset the session.")
			return
		}
		a.send(chatID, "Started a new session. The previous conversation is closed.")

	case "status":
		session, err := a.sessions.Get(ctx, owner, a.contextKey)
		if err != nil {
			a.send(chatID, "No session yet. Send a message to start one.")
			return
		}
		a.send(chatID, fmt.Sprintf(
			"Session: %s\nTurns: %d\nTotal cost: $%.4f\nLast active: %s",
			orFresh(session.BackendSessionID), session.TurnCount, session.TotalCost,
			session.LastActiveAt.Format(time.RFC3339)))

	default:
		a.send(chatID, "Unknown command. Available: /start, /new, /status")
	}
}

// deliver routes a response event back to the chat its owner last used.
func (a *Adapter) deliver(event *types.ResponseEvent) error {
	a.mu.Lock()
	chatID, ok := a.chats[event.OwnerID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no known chat for owner %s", event.OwnerID)
	}

	text := event.Text
	if event.Notice != "" {
		if text != "" {
			text = event.Notice + "\n\n" + text
		} else {
			text = event.Notice
		}
	}
	if text == "" {
		text = "The agent finished without producing output."
	}
	a.send(chatID, text)
	return nil
}

func (a *Adapter) send(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown; agent output often breaks it.
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("telegram send failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func orFresh(backendSessionID string) string {
	if backendSessionID == "" {
		return "(not started)"
	}
	return backendSessionID
}
