package models

import "time"

const (
	EventStatusConfirmed = "confirmed"
	EventStatusTentative = "tentative"
	EventStatusCancelled = "cancelled"
)

const (
	SyncStateIdle    = "idle"
	SyncStateSyncing = "syncing"
	SyncStateError   = "error"
)

const (
	// DefaultQueueMaxAttempts attempts after which a queued action is dropped
	DefaultQueueMaxAttempts = 3

	// DefaultStaleAfter age after which cached events are refreshed on resume
	DefaultStaleAfter = 2 * time.Minute

	// DefaultSyncInterval background refresh period while online
	DefaultSyncInterval = 5 * time.Minute

	// DefaultHeartbeatInterval connectivity probe period
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultProbeTimeout upper bound for a single connectivity probe
	DefaultProbeTimeout = 5 * time.Second

	// DefaultProbeURL endpoint probed for reachability
	DefaultProbeURL = "https://www.google.com/"

	// DefaultRemoteMinInterval spacing between two remote calls
	DefaultRemoteMinInterval = 100 * time.Millisecond

	// DefaultRemoteMaxAttempts attempts per remote call
	DefaultRemoteMaxAttempts = 3

	// DefaultRemoteBaseDelay first retry delay
	DefaultRemoteBaseDelay = time.Second

	// DefaultRemoteMaxDelay retry delay cap
	DefaultRemoteMaxDelay = 10 * time.Second

	// DefaultRemoteJitter fraction of the delay added at random
	DefaultRemoteJitter = 0.1

	// DefaultReservationMinutes length of a quick reservation when none is given
	DefaultReservationMinutes = 15
)
