package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/events"
	"github.com/Lilanga/booking-pal/internal/metrics"
	"github.com/Lilanga/booking-pal/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrSuspended is returned (wrapped) by a ProcessFunc that did not send
// the item because the service went offline. The drain stops there and
// the item keeps its attempt count.
var ErrSuspended = errors.New("drain suspended")

// ProcessFunc sends one queued action to the remote service.
type ProcessFunc func(ctx context.Context, item models.QueueItem) error

// DrainResult summarises one pass over the queue.
type DrainResult struct {
	Processed int
	Failed    int
	Evicted   int
	Deferred  int
}

// Queue is the durable FIFO of actions recorded while offline. It is the
// only owner of queue items.
type Queue struct {
	store         domain.QueueStore
	bus           domain.EventPublisher
	redis         *redis.Client
	deadLetterKey string
	maxAttempts   int
	logger        *zerolog.Logger
	now           func() time.Time

	// one drain at a time
	drainMu sync.Mutex
}

func New(store domain.QueueStore, bus domain.EventPublisher, redisClient *redis.Client, cfg config.QueueConfig, logger *zerolog.Logger) *Queue {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultQueueMaxAttempts
	}
	deadLetterKey := cfg.DeadLetterKey
	if deadLetterKey == "" {
		deadLetterKey = "booking_pal:offline_queue:deadletter"
	}

	return &Queue{
		store:         store,
		bus:           bus,
		redis:         redisClient,
		deadLetterKey: deadLetterKey,
		maxAttempts:   maxAttempts,
		logger:        logger,
		now:           time.Now,
	}
}

// Enqueue appends action at the tail and returns the new item id.
func (q *Queue) Enqueue(ctx context.Context, action models.Action) (string, error) {
	if err := action.Validate(); err != nil {
		return "", err
	}

	now := q.now()
	item := models.QueueItem{
		ID:       newItemID(now),
		Action:   action,
		QueuedAt: now,
	}
	if err := q.store.AppendQueueItem(ctx, &item); err != nil {
		return "", models.NewStorageError("enqueue", err)
	}

	length := q.lengthOrZero(ctx)
	q.logger.Info().Str("queue_id", item.ID).Str("action", string(action.Type)).Int("queue_length", length).Msg("Action queued")
	q.publish(events.EventActionQueued, events.QueuePayload{
		QueueID:     item.ID,
		ActionType:  string(action.Type),
		EventID:     action.EventID,
		QueueLength: length,
	})
	return item.ID, nil
}

// Drain walks the queue head to tail and waits for each item before
// dispatching the next. A failed item keeps its position and the drain
// moves on; it is evicted once it reaches the attempt cap. A finish that
// targets a reservation whose creation failed in the same pass is deferred.
//
// Cancelling ctx, or a ProcessFunc returning ErrSuspended, stops the drain.
// The item in flight at that moment keeps its attempt count.
func (q *Queue) Drain(ctx context.Context, process ProcessFunc) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var result DrainResult
	items, err := q.store.ListQueueItems(ctx)
	if err != nil {
		return result, models.NewStorageError("list queue", err)
	}
	defer func() { metrics.SetQueueLength(q.lengthOrZero(context.Background())) }()

	blocked := make(map[string]bool)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if item.Action.Type == models.ActionFinishReservation && blocked[item.Action.EventID] {
			result.Deferred++
			continue
		}

		err := q.processItem(ctx, item, process)
		if err == nil {
			if derr := q.store.DeleteQueueItem(ctx, item.ID); derr != nil {
				return result, models.NewStorageError("delete queue item", derr)
			}
			result.Processed++
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if errors.Is(err, ErrSuspended) {
			q.logger.Info().Str("queue_id", item.ID).Int("remaining", len(items)-i).Msg("Drain suspended")
			return result, err
		}

		evicted, serr := q.retryOrFail(ctx, item, err)
		if serr != nil {
			return result, serr
		}
		if evicted {
			result.Evicted++
		} else {
			result.Failed++
			if item.Action.Type == models.ActionQuickReservation && item.Action.EventID != "" {
				blocked[item.Action.EventID] = true
			}
		}
	}
	return result, nil
}

func (q *Queue) processItem(ctx context.Context, item models.QueueItem, process ProcessFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing %s: %v", item.ID, r)
		}
	}()
	return process(ctx, item)
}

// retryOrFail records a failed attempt and evicts the item at the cap.
func (q *Queue) retryOrFail(ctx context.Context, item models.QueueItem, cause error) (bool, error) {
	attempts, err := q.store.IncrementQueueItemAttempts(ctx, item.ID, cause.Error())
	if err != nil {
		return false, models.NewStorageError("increment attempts", err)
	}

	if attempts < q.maxAttempts {
		q.logger.Warn().Err(cause).Str("queue_id", item.ID).Int("attempts", attempts).Msg("Queued action failed, will retry")
		return false, nil
	}

	if err := q.store.DeleteQueueItem(ctx, item.ID); err != nil {
		return false, models.NewStorageError("evict queue item", err)
	}
	item.Attempts = attempts
	msg := cause.Error()
	item.LastError = &msg
	q.failTask(ctx, item)
	return true, nil
}

func (q *Queue) failTask(ctx context.Context, item models.QueueItem) {
	metrics.IncQueueEviction()
	q.logger.Error().Str("queue_id", item.ID).Str("action", string(item.Action.Type)).Int("attempts", item.Attempts).Str("last_error", *item.LastError).Msg("Queued action dropped")

	q.pushDeadLetter(ctx, item)
	q.publish(events.EventQueueItemFailed, events.QueuePayload{
		QueueID:     item.ID,
		ActionType:  string(item.Action.Type),
		EventID:     item.Action.EventID,
		Attempts:    item.Attempts,
		LastError:   *item.LastError,
		QueueLength: q.lengthOrZero(ctx),
	})
}

type deadLetter struct {
	models.QueueItem
	FailedAt time.Time `json:"failed_at"`
}

func (q *Queue) pushDeadLetter(ctx context.Context, item models.QueueItem) {
	if q.redis == nil {
		return
	}
	data, err := json.Marshal(deadLetter{QueueItem: item, FailedAt: q.now()})
	if err != nil {
		q.logger.Error().Err(err).Str("queue_id", item.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := q.redis.LPush(ctx, q.deadLetterKey, data).Err(); err != nil {
		q.logger.Error().Err(err).Str("queue_id", item.ID).Msg("Dead letter push failed")
	}
}

// Peek returns the head item without removing it, nil when empty.
func (q *Queue) Peek(ctx context.Context) (*models.QueueItem, error) {
	items, err := q.store.ListQueueItems(ctx)
	if err != nil {
		return nil, models.NewStorageError("peek", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.store.CountQueueItems(ctx)
	if err != nil {
		return 0, models.NewStorageError("count", err)
	}
	return n, nil
}

// List returns every queued item in processing order.
func (q *Queue) List(ctx context.Context) ([]models.QueueItem, error) {
	items, err := q.store.ListQueueItems(ctx)
	if err != nil {
		return nil, models.NewStorageError("list", err)
	}
	return items, nil
}

func (q *Queue) lengthOrZero(ctx context.Context) int {
	n, err := q.store.CountQueueItems(ctx)
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) publish(eventType string, payload events.QueuePayload) {
	if q.bus == nil {
		return
	}
	if err := q.bus.PublishJSON(eventType, payload); err != nil {
		q.logger.Error().Err(err).Str("event", eventType).Msg("Failed to publish queue event")
	}
}

func newItemID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("offline_%d_%s", now.UnixMilli(), suffix)
}
