package repository

import (
	"context"
	"sync"

	"github.com/Lilanga/booking-pal/internal/models"
)

// MemoryStateStore keeps state in process memory only.
type MemoryStateStore struct {
	mu       sync.RWMutex
	events   models.CachedEventSet
	state    models.ConnectionState
	hasState bool
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (r *MemoryStateStore) SaveEvents(ctx context.Context, set models.CachedEventSet) error {
	events := make([]models.Event, len(set.Events))
	copy(events, set.Events)

	r.mu.Lock()
	r.events = models.CachedEventSet{Events: events, Timestamp: set.Timestamp}
	r.mu.Unlock()
	return nil
}

func (r *MemoryStateStore) LoadEvents(ctx context.Context) (models.CachedEventSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]models.Event, len(r.events.Events))
	copy(events, r.events.Events)
	return models.CachedEventSet{Events: events, Timestamp: r.events.Timestamp}, nil
}

func (r *MemoryStateStore) SaveConnectionState(ctx context.Context, state models.ConnectionState) error {
	r.mu.Lock()
	r.state = state
	r.hasState = true
	r.mu.Unlock()
	return nil
}

func (r *MemoryStateStore) LoadConnectionState(ctx context.Context) (models.ConnectionState, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, r.hasState, nil
}
