package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Notification types emitted towards the kiosk front-end.
const (
	EventOnline          = "online"
	EventOffline         = "offline"
	EventSyncStart       = "syncStart"
	EventSyncSuccess     = "syncSuccess"
	EventSyncError       = "syncError"
	EventActionQueued    = "actionQueued"
	EventQueueItemFailed = "queueItemFailed"
)

// ConnectivityPayload accompanies online and offline.
type ConnectivityPayload struct {
	IsOnline bool      `json:"is_online"`
	At       time.Time `json:"at"`
	Source   string    `json:"source"` // probe, native, restore
}

// SyncPayload accompanies syncStart, syncSuccess and syncError.
type SyncPayload struct {
	EventCount   int       `json:"event_count,omitempty"`
	Drained      int       `json:"drained,omitempty"`
	QueueLength  int       `json:"queue_length"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
	DurationMsec int64     `json:"duration_ms,omitempty"`
}

// QueuePayload accompanies actionQueued and queueItemFailed.
type QueuePayload struct {
	QueueID     string `json:"queue_id"`
	ActionType  string `json:"action_type"`
	EventID     string `json:"event_id,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	QueueLength int    `json:"queue_length"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	any         []EventHandler
	mu          sync.RWMutex
	seq         int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.any = append(b.any, handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.Lock()
	b.seq++
	event.ID = b.seq
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.any...)
	b.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
