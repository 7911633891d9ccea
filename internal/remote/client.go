package remote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/metrics"
	"github.com/Lilanga/booking-pal/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	OpListEvents        = "list_events"
	OpCreateReservation = "create_reservation"
	OpEndReservation    = "end_reservation"
)

// Client wraps the calendar transport with call spacing, bounded retries
// and error classification.
type Client struct {
	api     domain.CalendarAPI
	limiter *rate.Limiter
	policy  RetryPolicy
	online  domain.OnlineChecker
	logger  *zerolog.Logger

	location *time.Location
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	rand     func() float64
}

func NewClient(api domain.CalendarAPI, cfg config.RemoteConfig, online domain.OnlineChecker, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = models.DefaultRemoteMinInterval
	}

	return &Client{
		api:      api,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		policy:   PolicyFromConfig(cfg),
		online:   online,
		logger:   logger,
		location: time.Local,
		now:      time.Now,
		sleep:    sleepContext,
		rand:     rand.Float64,
	}
}

// SetLocation sets the zone used to compute "today".
func (c *Client) SetLocation(loc *time.Location) {
	if loc != nil {
		c.location = loc
	}
}

// ListEvents returns today's confirmed events in start order.
func (c *Client) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := c.do(ctx, OpListEvents, func(ctx context.Context, _ int) error {
		dayStart, dayEnd := c.today()
		var err error
		events, err = c.api.ListEvents(ctx, dayStart, dayEnd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// CreateReservation books the room for durationMinutes starting at
// startTime, or now when startTime is nil, and returns the refreshed list.
func (c *Client) CreateReservation(ctx context.Context, durationMinutes int, startTime *time.Time) ([]models.Event, error) {
	return c.CreateReservationWithID(ctx, NewEventID(), durationMinutes, startTime)
}

// CreateReservationWithID is CreateReservation with a caller supplied event
// id. Replaying the same id is a no-op on the calendar side.
func (c *Client) CreateReservationWithID(ctx context.Context, eventID string, durationMinutes int, startTime *time.Time) ([]models.Event, error) {
	if durationMinutes <= 0 {
		return nil, models.ErrInvalidDuration
	}

	start := c.now()
	if startTime != nil {
		start = *startTime
	}
	event := models.Event{
		ID:      eventID,
		Summary: fmt.Sprintf("Quick Reservation %d'", durationMinutes),
		Start:   start,
		End:     start.Add(time.Duration(durationMinutes) * time.Minute),
	}

	err := c.do(ctx, OpCreateReservation, func(ctx context.Context, attempt int) error {
		_, err := c.api.InsertEvent(ctx, event)
		if err != nil && isConflict(err) {
			// an earlier attempt or replay already created it
			c.logger.Info().Str("event_id", eventID).Int("attempt", attempt).Msg("Reservation already exists")
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.ListEvents(ctx)
}

// EndReservation moves the end of eventID to now and returns the refreshed
// list.
func (c *Client) EndReservation(ctx context.Context, eventID string) ([]models.Event, error) {
	return c.EndReservationAt(ctx, eventID, c.now())
}

// EndReservationAt moves the end of eventID to end. An end in the future
// is clamped to now.
func (c *Client) EndReservationAt(ctx context.Context, eventID string, end time.Time) ([]models.Event, error) {
	if eventID == "" {
		return nil, models.ErrMissingEventID
	}
	if now := c.now(); end.IsZero() || end.After(now) {
		end = now
	}

	err := c.do(ctx, OpEndReservation, func(ctx context.Context, _ int) error {
		return c.api.PatchEventEnd(ctx, eventID, end)
	})
	if err != nil {
		return nil, err
	}
	return c.ListEvents(ctx)
}

// StatusEvent returns the running or next event of the day, nil if none.
func (c *Client) StatusEvent(ctx context.Context) (*models.Event, error) {
	events, err := c.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	ev, _ := models.CurrentOrNext(events, c.now())
	return ev, nil
}

func (c *Client) today() (time.Time, time.Time) {
	now := c.now().In(c.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.location)
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, c.location)
	return start, end
}

// do runs fn with spacing and retries. fn receives the 0-based attempt.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := c.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if !c.isOnline() {
		metrics.ObserveRemoteCall(op, "not_sent")
		return fmt.Errorf("%s: %w: %w", op, ErrOffline, ErrNotSent)
	}

	var lastErr *Error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if !c.isOnline() {
				return fmt.Errorf("%s: %w: %w", op, ErrOffline, lastErr)
			}
			delay := c.policy.NextDelay(attempt-1, c.rand())
			metrics.IncRemoteRetry(op)
			c.logger.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt+1).Dur("delay", delay).Msg("Retrying remote call")
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			if !c.isOnline() {
				return fmt.Errorf("%s: %w: %w", op, ErrOffline, lastErr)
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			metrics.ObserveRemoteCall(op, "ok")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil || isContextErr(err) {
			metrics.ObserveRemoteCall(op, "canceled")
			return err
		}

		classified := Classify(op, err)
		if classified.Fatal() {
			metrics.ObserveRemoteCall(op, "fatal")
			c.logger.Error().Err(err).Str("op", op).Str("kind", string(classified.Kind)).Msg("Remote call failed")
			return classified
		}
		metrics.ObserveRemoteCall(op, "transient")
		lastErr = classified
	}

	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetriesExhausted, maxAttempts, lastErr)
}

func (c *Client) isOnline() bool {
	return c.online == nil || c.online.IsOnline()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewEventID returns a calendar-safe event id (base32hex alphabet).
func NewEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsRetriesExhausted reports whether err is the aggregate failure.
func IsRetriesExhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}
