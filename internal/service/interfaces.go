package service

import (
	"context"
	"time"

	"github.com/Lilanga/booking-pal/internal/events"
	"github.com/Lilanga/booking-pal/internal/models"
	"github.com/Lilanga/booking-pal/internal/queue"
)

// ConnectivityGate is the part of the connectivity monitor the services
// depend on.
type ConnectivityGate interface {
	IsOnline() bool
	Snapshot() models.ConnectionState
	TryBeginSync() bool
	EndSync()
	ReportNativeOnline()
	ReportNativeOffline()
}

type ActionQueue interface {
	Enqueue(ctx context.Context, action models.Action) (string, error)
	Drain(ctx context.Context, process queue.ProcessFunc) (queue.DrainResult, error)
	Len(ctx context.Context) (int, error)
}

type EventCache interface {
	Replace(ctx context.Context, events []models.Event, at time.Time) error
	Snapshot() models.CachedEventSet
	LastSync() *time.Time
	Age(now time.Time) time.Duration
	IsStale(now time.Time, maxAge time.Duration) bool
}

type Subscriber interface {
	Subscribe(eventType string, handler events.EventHandler)
}
