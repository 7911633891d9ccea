package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Lilanga/booking-pal/internal/models"
)

// ErrQueueItemNotFound is returned when an operation targets an id that is
// no longer in the offline queue.
var ErrQueueItemNotFound = errors.New("queue item not found")

func (db *DB) AppendQueueItem(ctx context.Context, item *models.QueueItem) error {
	action, err := json.Marshal(item.Action)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}

	query := `INSERT INTO offline_queue (id, action, queued_at, attempts, last_error) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, query, item.ID, string(action), item.QueuedAt.UTC(), item.Attempts, item.LastError); err != nil {
		return fmt.Errorf("failed to append queue item: %w", err)
	}
	return nil
}

// ListQueueItems returns every queued item in insertion order.
func (db *DB) ListQueueItems(ctx context.Context) ([]models.QueueItem, error) {
	query := `SELECT id, action, queued_at, attempts, last_error FROM offline_queue ORDER BY seq ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	items := []models.QueueItem{}
	for rows.Next() {
		var (
			item      models.QueueItem
			action    string
			lastError sql.NullString
		)
		if err := rows.Scan(&item.ID, &action, &item.QueuedAt, &item.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		if err := json.Unmarshal([]byte(action), &item.Action); err != nil {
			return nil, fmt.Errorf("failed to decode action for %s: %w", item.ID, err)
		}
		if lastError.Valid {
			msg := lastError.String
			item.LastError = &msg
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue items: %w", err)
	}
	return items, nil
}

func (db *DB) DeleteQueueItem(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM offline_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

// IncrementQueueItemAttempts bumps the attempt counter, records the error
// and returns the new attempt count.
func (db *DB) IncrementQueueItemAttempts(ctx context.Context, id, lastError string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE offline_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?`, lastError, id)
	if err != nil {
		return 0, fmt.Errorf("failed to update queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrQueueItemNotFound
	}

	var attempts int
	if err := tx.QueryRowContext(ctx, `SELECT attempts FROM offline_queue WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return attempts, nil
}

func (db *DB) CountQueueItems(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return n, nil
}
