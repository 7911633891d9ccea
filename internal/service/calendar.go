package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lilanga/booking-pal/internal/dispatch"
	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/models"
	"github.com/Lilanga/booking-pal/internal/remote"

	"github.com/rs/zerolog"
)

// Call kinds used with the dispatcher.
const (
	KindGetEvents         = "getEvents"
	KindCreateReservation = "createReservation"
	KindEndReservation    = "endReservation"
)

var (
	// ErrNoData is returned when no event list was ever obtained.
	ErrNoData = errors.New("no event data available")
	// ErrOffline is returned for requests that need the remote service.
	ErrOffline = errors.New("calendar service unreachable")
)

// EventsView is what the kiosk renders. Stale is set when the list comes
// from the cache instead of the remote service.
type EventsView struct {
	Events   []models.Event `json:"events"`
	Stale    bool           `json:"stale"`
	LastSync *time.Time     `json:"last_sync,omitempty"`
}

// MutationResult is returned by booking and finishing. Queued is set when
// the action was stored for later delivery.
type MutationResult struct {
	EventsView
	Queued  bool   `json:"queued"`
	QueueID string `json:"queue_id,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// CalendarService is the kiosk's entry point. Online it talks to the
// remote service through the dispatcher; offline it serves the cache and
// queues mutations.
type CalendarService struct {
	gate       ConnectivityGate
	queue      ActionQueue
	remote     domain.RemoteClient
	cache      EventCache
	sync       *SyncService
	dispatcher *dispatch.Manager
	logger     *zerolog.Logger
	now        func() time.Time
	newEventID func() string
}

func NewCalendarService(
	gate ConnectivityGate,
	q ActionQueue,
	remoteClient domain.RemoteClient,
	cache EventCache,
	syncService *SyncService,
	dispatcher *dispatch.Manager,
	logger *zerolog.Logger,
) *CalendarService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &CalendarService{
		gate:       gate,
		queue:      q,
		remote:     remoteClient,
		cache:      cache,
		sync:       syncService,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		newEventID: remote.NewEventID,
	}
	s.registerListeners()
	return s
}

// registerListeners keeps the cache in step with successful calls.
func (s *CalendarService) registerListeners() {
	refresh := func(res dispatch.Result) {
		list, ok := res.Value.([]models.Event)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sync.RefreshCache(ctx, list); err != nil {
			s.logger.Warn().Err(err).Str("call", res.Kind).Msg("Failed to refresh cache")
		}
	}
	logFailure := func(res dispatch.Result) {
		s.logger.Warn().Err(res.Err).Str("call", res.Kind).Str("call_id", res.CallID).Msg("Remote call failed")
	}

	for _, kind := range []string{KindGetEvents, KindCreateReservation, KindEndReservation} {
		if _, err := s.dispatcher.AddListener(dispatch.SuccessKind(kind), refresh, "cache-"+kind); err != nil {
			s.logger.Error().Err(err).Str("kind", kind).Msg("Failed to register listener")
		}
		if _, err := s.dispatcher.AddListener(dispatch.FailureKind(kind), logFailure, "log-"+kind); err != nil {
			s.logger.Error().Err(err).Str("kind", kind).Msg("Failed to register listener")
		}
	}
}

// ListEvents returns today's events, from the remote service when online
// and from the cache otherwise.
func (s *CalendarService) ListEvents(ctx context.Context) (EventsView, error) {
	var cause error
	if s.gate.IsOnline() {
		list, err := s.await(ctx, dispatch.Call(ctx, s.dispatcher, KindGetEvents, s.remote.ListEvents))
		if err == nil {
			now := s.now()
			return EventsView{Events: list, LastSync: &now}, nil
		}
		if remote.IsFatal(err) {
			return EventsView{}, err
		}
		s.logger.Warn().Err(err).Msg("Serving cached events")
		cause = err
	}
	return s.cached(cause)
}

// CurrentEvent returns the running or next event and whether the answer
// is based on cached data.
func (s *CalendarService) CurrentEvent(ctx context.Context) (*models.Event, bool, error) {
	view, err := s.ListEvents(ctx)
	if err != nil {
		return nil, false, err
	}
	ev, _ := models.CurrentOrNext(view.Events, s.now())
	return ev, view.Stale, nil
}

// BookQuick reserves the room for minutes starting at start, or now.
func (s *CalendarService) BookQuick(ctx context.Context, minutes int, start *time.Time) (MutationResult, error) {
	if minutes <= 0 {
		return MutationResult{}, models.ErrInvalidDuration
	}

	eventID := s.newEventID()
	if s.gate.IsOnline() {
		list, err := s.await(ctx, dispatch.Call(ctx, s.dispatcher, KindCreateReservation,
			func(ctx context.Context) ([]models.Event, error) {
				return s.remote.CreateReservationWithID(ctx, eventID, minutes, start)
			}))
		if err == nil {
			return s.fresh(list, eventID), nil
		}
		if !errors.Is(err, remote.ErrOffline) {
			return MutationResult{}, err
		}
		s.logger.Info().Str("event_id", eventID).Msg("Went offline while booking, queueing")
	}

	// the start is fixed now so a late replay books the slot that was asked for
	at := s.now()
	if start != nil {
		at = *start
	}
	action := models.QuickReservation(minutes, &at)
	action.EventID = eventID
	return s.enqueue(ctx, action)
}

// Finish ends eventID now.
func (s *CalendarService) Finish(ctx context.Context, eventID string) (MutationResult, error) {
	if eventID == "" {
		return MutationResult{}, models.ErrMissingEventID
	}

	if s.gate.IsOnline() {
		list, err := s.await(ctx, dispatch.Call(ctx, s.dispatcher, KindEndReservation,
			func(ctx context.Context) ([]models.Event, error) {
				return s.remote.EndReservation(ctx, eventID)
			}))
		if err == nil {
			return s.fresh(list, eventID), nil
		}
		if !errors.Is(err, remote.ErrOffline) {
			return MutationResult{}, err
		}
		s.logger.Info().Str("event_id", eventID).Msg("Went offline while finishing, queueing")
	}

	return s.enqueue(ctx, models.FinishReservation(eventID))
}

// ForceSync runs a cycle now. It is a no-op while one is running.
func (s *CalendarService) ForceSync(ctx context.Context) (bool, error) {
	if !s.gate.IsOnline() {
		return false, ErrOffline
	}
	return s.sync.Sync(ctx, ReasonManual)
}

func (s *CalendarService) HandleVisible(ctx context.Context) (bool, error) {
	return s.sync.HandleVisible(ctx)
}

// ReportConnectivity forwards a platform online/offline signal.
func (s *CalendarService) ReportConnectivity(online bool) {
	if online {
		s.gate.ReportNativeOnline()
		return
	}
	s.gate.ReportNativeOffline()
}

func (s *CalendarService) Status(ctx context.Context) models.Status {
	return s.sync.Status(ctx)
}

// Cached returns the cache content without touching the remote service.
func (s *CalendarService) Cached() models.CachedEventSet {
	return s.cache.Snapshot()
}

func (s *CalendarService) DispatchStats() dispatch.Stats {
	return s.dispatcher.Stats()
}

// Close disposes pending calls and waits for running ones.
func (s *CalendarService) Close() {
	s.dispatcher.Destroy()
	s.dispatcher.Wait()
}

// await waits for f and disposes it when ctx ends first.
func (s *CalendarService) await(ctx context.Context, f *dispatch.Future[[]models.Event]) ([]models.Event, error) {
	list, err := f.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		f.Dispose()
	}
	return list, err
}

func (s *CalendarService) enqueue(ctx context.Context, action models.Action) (MutationResult, error) {
	id, err := s.queue.Enqueue(ctx, action)
	if err != nil {
		return MutationResult{}, fmt.Errorf("queue %s: %w", action.Type, err)
	}

	result := MutationResult{Queued: true, QueueID: id, EventID: action.EventID}
	if view, err := s.cached(nil); err == nil {
		result.EventsView = view
	} else {
		result.Stale = true
	}
	return result, nil
}

func (s *CalendarService) fresh(list []models.Event, eventID string) MutationResult {
	now := s.now()
	return MutationResult{EventsView: EventsView{Events: list, LastSync: &now}, EventID: eventID}
}

func (s *CalendarService) cached(cause error) (EventsView, error) {
	set := s.cache.Snapshot()
	if !set.HasData() {
		if cause != nil {
			return EventsView{}, fmt.Errorf("%w: %w", ErrNoData, cause)
		}
		return EventsView{}, ErrNoData
	}
	ts := set.Timestamp
	return EventsView{Events: set.Events, Stale: true, LastSync: &ts}, nil
}
