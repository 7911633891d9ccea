package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStateStore writes to the primary store and switches to the
// fallback after the first primary error. Writes always reach the fallback
// so it stays warm for the next failover.
type FailoverStateStore struct {
	primary  domain.StateStore
	fallback domain.StateStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStateStore(primary, fallback domain.StateStore, logger *zerolog.Logger) *FailoverStateStore {
	return &FailoverStateStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStateStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary state store failed, using fallback")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the primary store should be tried.
func (r *FailoverStateStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverStateStore) recovered() {
	if r.isDown.CompareAndSwap(true, false) {
		r.logger.Info().Msg("Primary state store recovered")
	}
}

func (r *FailoverStateStore) SaveEvents(ctx context.Context, set models.CachedEventSet) error {
	if err := r.fallback.SaveEvents(ctx, set); err != nil {
		return err
	}
	if r.usePrimary() {
		if err := r.primary.SaveEvents(ctx, set); err != nil {
			r.markDown(err)
			return nil
		}
		r.recovered()
	}
	return nil
}

func (r *FailoverStateStore) LoadEvents(ctx context.Context) (models.CachedEventSet, error) {
	if r.usePrimary() {
		set, err := r.primary.LoadEvents(ctx)
		if err == nil && set.HasData() {
			r.recovered()
			return set, nil
		}
		if err != nil {
			r.markDown(err)
		}
	}
	return r.fallback.LoadEvents(ctx)
}

func (r *FailoverStateStore) SaveConnectionState(ctx context.Context, state models.ConnectionState) error {
	if err := r.fallback.SaveConnectionState(ctx, state); err != nil {
		return err
	}
	if r.usePrimary() {
		if err := r.primary.SaveConnectionState(ctx, state); err != nil {
			r.markDown(err)
			return nil
		}
		r.recovered()
	}
	return nil
}

func (r *FailoverStateStore) LoadConnectionState(ctx context.Context) (models.ConnectionState, bool, error) {
	if r.usePrimary() {
		state, ok, err := r.primary.LoadConnectionState(ctx)
		if err == nil && ok {
			r.recovered()
			return state, true, nil
		}
		if err != nil {
			r.markDown(err)
		}
	}
	return r.fallback.LoadConnectionState(ctx)
}
