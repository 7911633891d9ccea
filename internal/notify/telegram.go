// Package notify forwards operational alerts to Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	backlog           = 32
	syncErrorInterval = 15 * time.Minute
)

// TelegramNotifier sends alerts for dropped offline actions and failed
// sync cycles. Sync errors are throttled; a dropped action always alerts.
type TelegramNotifier struct {
	bot     domain.TelegramSender
	chatIDs []int64
	room    string
	logger  *zerolog.Logger

	syncErrors *rate.Limiter
	outbox     chan string
}

func NewTelegramNotifier(bot domain.TelegramSender, chatIDs []int64, room string, logger *zerolog.Logger) *TelegramNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramNotifier{
		bot:        bot,
		chatIDs:    chatIDs,
		room:       room,
		logger:     logger,
		syncErrors: rate.NewLimiter(rate.Every(syncErrorInterval), 1),
		outbox:     make(chan string, backlog),
	}
}

// Subscribe hooks the notifier to queueItemFailed and syncError.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventQueueItemFailed, n.onQueueItemFailed)
	bus.Subscribe(events.EventSyncError, n.onSyncError)
}

// Start delivers queued alerts until ctx is done.
func (n *TelegramNotifier) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.outbox:
			if err := n.Notify(ctx, text); err != nil {
				n.logger.Error().Err(err).Msg("Failed to deliver alert")
			}
		}
	}
}

// Notify sends text to every configured chat.
func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send alert")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *TelegramNotifier) onQueueItemFailed(e *events.Event) error {
	var p events.QueuePayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf(`⚠️ Offline action dropped

🏢 Room: %s
📝 Action: %s
🆔 Event: %s
🔁 Attempts: %d
💬 Error: %s
📦 Still queued: %d`,
		n.room, p.ActionType, orDash(p.EventID), p.Attempts, p.LastError, p.QueueLength)
	n.enqueue(text)
	return nil
}

func (n *TelegramNotifier) onSyncError(e *events.Event) error {
	if !n.syncErrors.Allow() {
		return nil
	}
	var p events.SyncPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf(`❌ Sync failed

🏢 Room: %s
💬 Error: %s
📦 Queued actions: %d
🕒 At: %s`,
		n.room, p.Error, p.QueueLength, p.At.Format("02.01.2006 15:04:05"))
	n.enqueue(text)
	return nil
}

// enqueue never blocks the publisher. Alerts beyond the backlog are dropped.
func (n *TelegramNotifier) enqueue(text string) {
	select {
	case n.outbox <- text:
	default:
		n.logger.Warn().Msg("Alert backlog full, dropping alert")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
