package models

import (
	"sort"
	"time"
)

// Event is a calendar event as shown on the kiosk.
type Event struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	IsAllDay    bool       `json:"is_all_day"`
	Status      string     `json:"status"` // confirmed, tentative, cancelled
	Organizer   string     `json:"organizer,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	HTMLLink    string     `json:"html_link,omitempty"`
}

type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"display_name,omitempty"`
	ResponseStatus string `json:"response_status,omitempty"`
	Resource       bool   `json:"resource,omitempty"`
}

// IsCurrent reports whether the event is running at now.
func (e Event) IsCurrent(now time.Time) bool {
	return now.After(e.Start) && now.Before(e.End)
}

// IsUpcoming reports whether the event has not started yet.
func (e Event) IsUpcoming(now time.Time) bool {
	return now.Before(e.Start)
}

// Duration returns the scheduled length of the event.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// CurrentOrNext returns the first event that is running at now or starts
// after it. Events are expected in start order.
func CurrentOrNext(events []Event, now time.Time) (*Event, bool) {
	for i := range events {
		if events[i].IsCurrent(now) || events[i].IsUpcoming(now) {
			ev := events[i]
			return &ev, true
		}
	}
	return nil, false
}

// ConfirmedOnly drops events whose status is not confirmed.
func ConfirmedOnly(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Status == EventStatusConfirmed {
			out = append(out, ev)
		}
	}
	return out
}

// SortByStart orders events by start time, keeping the original order for ties.
func SortByStart(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}
