package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/events"
	"github.com/Lilanga/booking-pal/internal/metrics"
	"github.com/Lilanga/booking-pal/internal/models"
	"github.com/Lilanga/booking-pal/internal/queue"
	"github.com/Lilanga/booking-pal/internal/remote"

	"github.com/rs/zerolog"
)

const (
	ReasonStartup  = "startup"
	ReasonOnline   = "online"
	ReasonInterval = "interval"
	ReasonManual   = "manual"
	ReasonVisible  = "visible"
)

// SyncService drains the offline queue and refreshes the event cache. At
// most one cycle runs at a time; the connectivity monitor's sync flag is
// the lock.
type SyncService struct {
	gate       ConnectivityGate
	queue      ActionQueue
	remote     domain.RemoteClient
	cache      EventCache
	bus        domain.EventPublisher
	room       string
	interval   time.Duration
	staleAfter time.Duration
	logger     *zerolog.Logger
	now        func() time.Time

	triggers chan string

	mu        sync.Mutex
	state     string
	lastError string
}

func NewSyncService(
	gate ConnectivityGate,
	q ActionQueue,
	remoteClient domain.RemoteClient,
	cache EventCache,
	bus domain.EventPublisher,
	cfg *config.Config,
	logger *zerolog.Logger,
) *SyncService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	interval := cfg.Sync.Interval
	if interval <= 0 {
		interval = models.DefaultSyncInterval
	}
	staleAfter := cfg.Sync.StaleAfter
	if staleAfter <= 0 {
		staleAfter = models.DefaultStaleAfter
	}

	return &SyncService{
		gate:       gate,
		queue:      q,
		remote:     remoteClient,
		cache:      cache,
		bus:        bus,
		room:       cfg.Calendar.Title,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
		triggers:   make(chan string, 1),
		state:      models.SyncStateIdle,
	}
}

// Subscribe hooks the service to online transitions.
func (s *SyncService) Subscribe(sub Subscriber) {
	sub.Subscribe(events.EventOnline, func(*events.Event) error {
		s.Trigger(ReasonOnline)
		return nil
	})
}

// Trigger requests a cycle from the Start loop. Requests made while one is
// already pending are merged; requests made while a cycle runs are dropped.
func (s *SyncService) Trigger(reason string) {
	if s.gate.Snapshot().SyncInProgress {
		s.logger.Debug().Str("reason", reason).Msg("Sync already running, trigger dropped")
		return
	}
	select {
	case s.triggers <- reason:
	default:
	}
}

// Start runs triggered and periodic cycles until ctx is done.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Sync service started")

	if s.gate.IsOnline() {
		s.Trigger(ReasonStartup)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sync service stopped")
			return
		case reason := <-s.triggers:
			s.runLogged(ctx, reason)
			discardPending(s.triggers, ticker)
		case <-ticker.C:
			if s.gate.IsOnline() {
				s.runLogged(ctx, ReasonInterval)
				discardPending(s.triggers, ticker)
			}
		}
	}
}

// discardPending drops requests that arrived while a cycle was running.
func discardPending(triggers <-chan string, ticker *time.Ticker) {
	for {
		select {
		case <-triggers:
		case <-ticker.C:
		default:
			return
		}
	}
}

func (s *SyncService) runLogged(ctx context.Context, reason string) {
	if _, err := s.Sync(ctx, reason); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("reason", reason).Msg("Sync cycle failed")
	}
}

// Sync runs one cycle unless the service is offline or a cycle is already
// running. It reports whether a cycle ran.
func (s *SyncService) Sync(ctx context.Context, reason string) (bool, error) {
	if !s.gate.TryBeginSync() {
		s.logger.Debug().Str("reason", reason).Bool("online", s.gate.IsOnline()).Msg("Sync skipped")
		return false, nil
	}
	defer s.gate.EndSync()

	return true, s.cycle(ctx, reason)
}

// HandleVisible refreshes a stale cache when the kiosk comes back to the
// foreground.
func (s *SyncService) HandleVisible(ctx context.Context) (bool, error) {
	if !s.gate.IsOnline() {
		return false, nil
	}
	if !s.cache.IsStale(s.now(), s.staleAfter) {
		return false, nil
	}
	return s.Sync(ctx, ReasonVisible)
}

// RefreshCache stores a list fetched outside a cycle, e.g. the result of
// an online mutation.
func (s *SyncService) RefreshCache(ctx context.Context, list []models.Event) error {
	return s.cache.Replace(ctx, list, s.now())
}

func (s *SyncService) Status(ctx context.Context) models.Status {
	conn := s.gate.Snapshot()

	length, err := s.queue.Len(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read queue length")
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	return models.Status{
		Room:           s.room,
		IsOnline:       conn.IsOnline,
		SyncInProgress: conn.SyncInProgress,
		SyncState:      state,
		QueueLength:    length,
		LastSync:       s.cache.LastSync(),
		CacheAgeMs:     s.cache.Age(s.now()).Milliseconds(),
	}
}

// LastError returns the cause of the last failed cycle, empty after a
// successful one.
func (s *SyncService) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *SyncService) cycle(ctx context.Context, reason string) error {
	started := s.now()
	s.setState(models.SyncStateSyncing, "")
	s.publish(events.EventSyncStart, events.SyncPayload{QueueLength: s.queueLength(ctx), At: started})
	s.logger.Info().Str("reason", reason).Msg("Sync started")

	drained, err := s.queue.Drain(ctx, s.process)
	if err != nil {
		return s.fail(ctx, started, fmt.Errorf("drain queue: %w", err))
	}
	if drained.Failed > 0 || drained.Evicted > 0 || drained.Deferred > 0 {
		s.logger.Warn().
			Int("processed", drained.Processed).
			Int("failed", drained.Failed).
			Int("evicted", drained.Evicted).
			Int("deferred", drained.Deferred).
			Msg("Queue drained with leftovers")
	}

	list, err := s.remote.ListEvents(ctx)
	if err != nil {
		return s.fail(ctx, started, fmt.Errorf("refresh events: %w", err))
	}
	if err := s.cache.Replace(ctx, list, s.now()); err != nil {
		return s.fail(ctx, started, fmt.Errorf("refresh events: %w", err))
	}

	s.setState(models.SyncStateIdle, "")
	metrics.IncSyncCycle("success")

	took := s.now().Sub(started)
	s.publish(events.EventSyncSuccess, events.SyncPayload{
		EventCount:   len(list),
		Drained:      drained.Processed,
		QueueLength:  s.queueLength(ctx),
		At:           s.now(),
		DurationMsec: took.Milliseconds(),
	})
	s.logger.Info().
		Str("reason", reason).
		Int("events", len(list)).
		Int("drained", drained.Processed).
		Dur("took", took).
		Msg("Sync finished")
	return nil
}

func (s *SyncService) fail(ctx context.Context, started time.Time, err error) error {
	s.setState(models.SyncStateError, err.Error())
	metrics.IncSyncCycle("error")

	s.publish(events.EventSyncError, events.SyncPayload{
		QueueLength:  s.queueLength(context.WithoutCancel(ctx)),
		Error:        err.Error(),
		At:           s.now(),
		DurationMsec: s.now().Sub(started).Milliseconds(),
	})
	return err
}

// process sends one queued action through the remote client. A finish
// ends the event at the time it was requested, not at replay time.
func (s *SyncService) process(ctx context.Context, item models.QueueItem) error {
	action := item.Action
	var err error
	switch action.Type {
	case models.ActionQuickReservation:
		if action.EventID != "" {
			_, err = s.remote.CreateReservationWithID(ctx, action.EventID, action.DurationMinutes, action.StartTime)
		} else {
			_, err = s.remote.CreateReservation(ctx, action.DurationMinutes, action.StartTime)
		}
	case models.ActionFinishReservation:
		_, err = s.remote.EndReservationAt(ctx, action.EventID, item.QueuedAt)
	default:
		return fmt.Errorf("unknown action type: %q", action.Type)
	}
	if errors.Is(err, remote.ErrNotSent) {
		return fmt.Errorf("%w: %w", queue.ErrSuspended, err)
	}
	return err
}

func (s *SyncService) queueLength(ctx context.Context) int {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}

func (s *SyncService) setState(state, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if state != models.SyncStateSyncing {
		s.lastError = lastError
	}
}

func (s *SyncService) publish(eventType string, payload events.SyncPayload) {
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("Failed to publish sync event")
	}
}
