package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/events"
	"github.com/Lilanga/booking-pal/internal/metrics"
	"github.com/Lilanga/booking-pal/internal/models"

	"github.com/rs/zerolog"
)

const (
	sourceProbe   = "probe"
	sourceNative  = "native"
	persistWindow = 2 * time.Second
)

// Monitor is the only writer of ConnectionState. Transitions come from
// probes and native platform signals; the sync engine may only toggle the
// sync flag through TryBeginSync and EndSync.
type Monitor struct {
	prober   Prober
	store    domain.StateStore
	bus      domain.EventPublisher
	logger   *zerolog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	state models.ConnectionState

	persistMu sync.Mutex
}

func NewMonitor(prober Prober, store domain.StateStore, bus domain.EventPublisher, cfg config.ConnectivityConfig, logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = models.DefaultHeartbeatInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = models.DefaultProbeTimeout
	}

	return &Monitor{
		prober:   prober,
		store:    store,
		bus:      bus,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Load restores the persisted state. A sync flag left over from a previous
// process is cleared.
func (m *Monitor) Load(ctx context.Context) error {
	state, ok, err := m.store.LoadConnectionState(ctx)
	if err != nil {
		return models.NewStorageError("load connection state", err)
	}
	if !ok {
		return nil
	}
	state.SyncInProgress = false

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	metrics.SetOnline(state.IsOnline)
	m.logger.Info().Bool("online", state.IsOnline).Msg("Connection state restored")
	return nil
}

// Start probes immediately and then on every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Msg("Connectivity monitor started")

	m.CheckConnectivity(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Connectivity monitor stopped")
			return
		case <-ticker.C:
			m.CheckConnectivity(ctx)
		}
	}
}

// CheckConnectivity runs one probe bounded by the configured timeout and
// applies the result. It returns the reachability observed.
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		// shutting down, not a connectivity signal
		return m.IsOnline()
	}

	reachable := err == nil
	if err != nil {
		m.logger.Debug().Err(err).Msg("Connectivity probe failed")
	}
	m.transition(reachable, sourceProbe)
	return reachable
}

func (m *Monitor) ReportNativeOnline() {
	m.transition(true, sourceNative)
}

func (m *Monitor) ReportNativeOffline() {
	m.transition(false, sourceNative)
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsOnline
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TryBeginSync sets the sync flag if the service is online and no sync is
// running. It reports whether the caller now owns the cycle.
func (m *Monitor) TryBeginSync() bool {
	m.mu.Lock()
	if !m.state.IsOnline || m.state.SyncInProgress {
		m.mu.Unlock()
		return false
	}
	m.state.SyncInProgress = true
	m.mu.Unlock()

	m.persist()
	return true
}

// EndSync clears the sync flag.
func (m *Monitor) EndSync() {
	m.mu.Lock()
	m.state.SyncInProgress = false
	m.mu.Unlock()

	m.persist()
}

func (m *Monitor) transition(online bool, source string) {
	m.mu.Lock()
	if m.state.IsOnline == online {
		m.mu.Unlock()
		return
	}
	now := m.now()
	m.state.IsOnline = online
	if online {
		m.state.LastOnlineAt = &now
	} else {
		m.state.LastOfflineAt = &now
	}
	m.mu.Unlock()

	m.persist()
	metrics.SetOnline(online)

	eventType := events.EventOffline
	if online {
		eventType = events.EventOnline
	}
	m.logger.Info().Str("source", source).Bool("online", online).Msg("Connectivity changed")

	payload := events.ConnectivityPayload{IsOnline: online, At: now, Source: source}
	if err := m.bus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event", eventType).Msg("Failed to publish connectivity event")
	}
}

// persist writes the latest state. Writers are serialised so the stored
// value never lags behind an older snapshot.
func (m *Monitor) persist() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistWindow)
	defer cancel()
	if err := m.store.SaveConnectionState(ctx, m.Snapshot()); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to persist connection state")
	}
}
