package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/models"

	"github.com/rs/zerolog"
)

// Cache holds the last known event set. Only the sync engine writes to it;
// everything else reads copies.
type Cache struct {
	store  domain.StateStore
	logger *zerolog.Logger

	mu  sync.RWMutex
	set models.CachedEventSet
}

func New(store domain.StateStore, logger *zerolog.Logger) *Cache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Cache{store: store, logger: logger}
}

// Load restores the persisted set. A broken snapshot is logged and the
// cache starts empty.
func (c *Cache) Load(ctx context.Context) error {
	set, err := c.store.LoadEvents(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to restore cached events, starting empty")
		return models.NewStorageError("load events", err)
	}

	c.mu.Lock()
	c.set = set
	c.mu.Unlock()

	c.logger.Info().Int("events", len(set.Events)).Time("synced_at", set.Timestamp).Msg("Cached events restored")
	return nil
}

// Replace persists events as the new snapshot taken at "at" and then swaps
// the in-memory copy. On a storage error the previous snapshot stays.
func (c *Cache) Replace(ctx context.Context, events []models.Event, at time.Time) error {
	owned := make([]models.Event, len(events))
	copy(owned, events)
	set := models.CachedEventSet{Events: owned, Timestamp: at}

	c.mu.Lock()
	defer c.mu.Unlock()

	// timestamps never move backwards
	if set.Timestamp.Before(c.set.Timestamp) {
		set.Timestamp = c.set.Timestamp
	}

	if err := c.store.SaveEvents(ctx, set); err != nil {
		return models.NewStorageError("save events", err)
	}
	c.set = set
	return nil
}

// Snapshot returns a copy of the current set.
func (c *Cache) Snapshot() models.CachedEventSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events := make([]models.Event, len(c.set.Events))
	copy(events, c.set.Events)
	return models.CachedEventSet{Events: events, Timestamp: c.set.Timestamp}
}

// LastSync returns when the cache was last refreshed, nil if never.
func (c *Cache) LastSync() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set.HasData() {
		return nil
	}
	ts := c.set.Timestamp
	return &ts
}

func (c *Cache) Age(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set.Age(now)
}

func (c *Cache) IsStale(now time.Time, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set.IsStale(now, maxAge)
}
