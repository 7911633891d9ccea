package models

import (
	"errors"
	"fmt"
	"time"
)

type ActionType string

const (
	ActionQuickReservation  ActionType = "QUICK_RESERVATION"
	ActionFinishReservation ActionType = "FINISH_RESERVATION"
)

var (
	ErrInvalidDuration = errors.New("reservation duration must be positive")
	ErrMissingEventID  = errors.New("event id is required")
)

// Action is a mutating intent recorded while offline. Type selects which of
// the remaining fields are meaningful.
type Action struct {
	Type            ActionType `json:"type"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EventID         string     `json:"event_id,omitempty"`
}

func QuickReservation(durationMinutes int, startTime *time.Time) Action {
	return Action{Type: ActionQuickReservation, DurationMinutes: durationMinutes, StartTime: startTime}
}

func FinishReservation(eventID string) Action {
	return Action{Type: ActionFinishReservation, EventID: eventID}
}

func (a Action) Validate() error {
	switch a.Type {
	case ActionQuickReservation:
		if a.DurationMinutes <= 0 {
			return ErrInvalidDuration
		}
	case ActionFinishReservation:
		if a.EventID == "" {
			return ErrMissingEventID
		}
	default:
		return fmt.Errorf("unknown action type: %q", a.Type)
	}
	return nil
}

// QueueItem is an action waiting in the durable queue.
type QueueItem struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	QueuedAt  time.Time `json:"queued_at"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"last_error,omitempty"`
}
