package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lilanga/booking-pal/internal/models"
)

// SaveEvents replaces the persisted event snapshot.
func (db *DB) SaveEvents(ctx context.Context, set models.CachedEventSet) error {
	events, err := json.Marshal(set.Events)
	if err != nil {
		return fmt.Errorf("failed to encode events: %w", err)
	}

	query := `INSERT INTO event_cache (id, events, synced_at) VALUES (1, ?, ?)
              ON CONFLICT(id) DO UPDATE SET events = excluded.events, synced_at = excluded.synced_at`
	if _, err := db.ExecContext(ctx, query, string(events), set.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to save events: %w", err)
	}
	return nil
}

// LoadEvents returns the persisted snapshot. An empty set is returned when
// nothing was ever saved.
func (db *DB) LoadEvents(ctx context.Context) (models.CachedEventSet, error) {
	var (
		raw      string
		syncedAt time.Time
	)
	err := db.QueryRowContext(ctx, `SELECT events, synced_at FROM event_cache WHERE id = 1`).Scan(&raw, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CachedEventSet{}, nil
	}
	if err != nil {
		return models.CachedEventSet{}, fmt.Errorf("failed to load events: %w", err)
	}

	var events []models.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return models.CachedEventSet{}, fmt.Errorf("failed to decode events: %w", err)
	}
	return models.CachedEventSet{Events: events, Timestamp: syncedAt}, nil
}

func (db *DB) SaveConnectionState(ctx context.Context, state models.ConnectionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode connection state: %w", err)
	}

	query := `INSERT INTO connection_state (id, state, updated_at) VALUES (1, ?, ?)
              ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save connection state: %w", err)
	}
	return nil
}

// LoadConnectionState returns the persisted state and whether one existed.
func (db *DB) LoadConnectionState(ctx context.Context) (models.ConnectionState, bool, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT state FROM connection_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConnectionState{}, false, nil
	}
	if err != nil {
		return models.ConnectionState{}, false, fmt.Errorf("failed to load connection state: %w", err)
	}

	var state models.ConnectionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return models.ConnectionState{}, false, fmt.Errorf("failed to decode connection state: %w", err)
	}
	return state, true, nil
}
