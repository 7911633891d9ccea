package domain

import (
	"context"
	"time"

	"github.com/Lilanga/booking-pal/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// QueueStore persists the offline action queue in insertion order.
type QueueStore interface {
	AppendQueueItem(ctx context.Context, item *models.QueueItem) error
	ListQueueItems(ctx context.Context) ([]models.QueueItem, error)
	DeleteQueueItem(ctx context.Context, id string) error
	IncrementQueueItemAttempts(ctx context.Context, id, lastError string) (int, error)
	CountQueueItems(ctx context.Context) (int, error)
}

// StateStore persists the event cache and the connection state under
// independent keys.
type StateStore interface {
	SaveEvents(ctx context.Context, set models.CachedEventSet) error
	LoadEvents(ctx context.Context) (models.CachedEventSet, error)
	SaveConnectionState(ctx context.Context, state models.ConnectionState) error
	LoadConnectionState(ctx context.Context) (models.ConnectionState, bool, error)
}

// CalendarAPI is the raw calendar transport. It performs exactly one
// network call per method and never retries.
type CalendarAPI interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.Event, error)
	InsertEvent(ctx context.Context, event models.Event) (*models.Event, error)
	PatchEventEnd(ctx context.Context, eventID string, end time.Time) error
}

// RemoteClient is the rate limited, retrying view of the calendar used by
// the sync engine. Mutations return the refreshed event list.
type RemoteClient interface {
	ListEvents(ctx context.Context) ([]models.Event, error)
	CreateReservation(ctx context.Context, durationMinutes int, startTime *time.Time) ([]models.Event, error)
	CreateReservationWithID(ctx context.Context, eventID string, durationMinutes int, startTime *time.Time) ([]models.Event, error)
	EndReservation(ctx context.Context, eventID string) ([]models.Event, error)
	EndReservationAt(ctx context.Context, eventID string, end time.Time) ([]models.Event, error)
}

type OnlineChecker interface {
	IsOnline() bool
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
