package models

import "time"

// ConnectionState is the persisted view of remote reachability.
type ConnectionState struct {
	IsOnline       bool       `json:"is_online"`
	LastOnlineAt   *time.Time `json:"last_online_at,omitempty"`
	LastOfflineAt  *time.Time `json:"last_offline_at,omitempty"`
	SyncInProgress bool       `json:"sync_in_progress"`
}

// CachedEventSet is the last known event list and when it was fetched.
type CachedEventSet struct {
	Events    []Event   `json:"events"`
	Timestamp time.Time `json:"timestamp"`
}

// HasData reports whether the set was ever filled from the remote service.
func (c CachedEventSet) HasData() bool {
	return !c.Timestamp.IsZero()
}

func (c CachedEventSet) Age(now time.Time) time.Duration {
	if !c.HasData() {
		return 0
	}
	return now.Sub(c.Timestamp)
}

// IsStale reports whether the set is older than maxAge. An empty set is
// always stale.
func (c CachedEventSet) IsStale(now time.Time, maxAge time.Duration) bool {
	if !c.HasData() {
		return true
	}
	return now.Sub(c.Timestamp) > maxAge
}

// Status is the snapshot exposed to the kiosk front-end.
type Status struct {
	Room           string     `json:"room,omitempty"`
	IsOnline       bool       `json:"is_online"`
	SyncInProgress bool       `json:"sync_in_progress"`
	SyncState      string     `json:"sync_state"`
	QueueLength    int        `json:"queue_length"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	CacheAgeMs     int64      `json:"cache_age_ms"`
}
