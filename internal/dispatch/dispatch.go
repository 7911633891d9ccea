// Package dispatch correlates asynchronous calls with their completions.
//
// Every call returns its own Future that settles exactly once: with the
// call's result, or with ErrDisposed when its owner gives up first. Results
// are also fanned out to listeners registered for "<kind>-success" and
// "<kind>-failure".
package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrDisposed  = errors.New("call disposed")
	ErrDestroyed = errors.New("dispatcher destroyed")
)

// Result is delivered to listeners.
type Result struct {
	CallID string
	Kind   string
	Value  interface{}
	Err    error
}

type Callback func(Result)

type listener struct {
	id        string
	kind      string
	callback  Callback
	createdAt time.Time
}

// Stats is a leak diagnostic snapshot.
type Stats struct {
	Listeners  int            `json:"listeners"`
	Pending    int            `json:"pending"`
	Destroyed  bool           `json:"destroyed"`
	OldestKind string         `json:"oldest_kind,omitempty"`
	OldestAge  time.Duration  `json:"oldest_age"`
	ByKind     map[string]int `json:"by_kind,omitempty"`
}

type pendingCall interface {
	dispose()
}

type Manager struct {
	logger *zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	listeners map[string]*listener
	pending   map[string]pendingCall
	destroyed bool

	inflight sync.WaitGroup
}

func NewManager(logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		logger:    logger,
		now:       time.Now,
		listeners: make(map[string]*listener),
		pending:   make(map[string]pendingCall),
	}
}

func SuccessKind(kind string) string { return kind + "-success" }
func FailureKind(kind string) string { return kind + "-failure" }

// AddListener registers callback for kind and returns its id. Passing an id
// that is already registered replaces that listener.
func (m *Manager) AddListener(kind string, callback Callback, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return "", ErrDestroyed
	}
	if _, exists := m.listeners[id]; exists {
		m.logger.Debug().Str("listener_id", id).Msg("Replacing listener")
	}
	m.listeners[id] = &listener{id: id, kind: kind, callback: callback, createdAt: m.now()}
	return id, nil
}

// RemoveListener unregisters id. It reports whether the listener existed.
func (m *Manager) RemoveListener(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[id]; !ok {
		return false
	}
	delete(m.listeners, id)
	return true
}

// RemoveAll drops every listener. Safe to call repeatedly.
func (m *Manager) RemoveAll() {
	m.mu.Lock()
	n := len(m.listeners)
	m.listeners = make(map[string]*listener)
	m.mu.Unlock()

	if n > 0 {
		m.logger.Debug().Int("count", n).Msg("Removed all listeners")
	}
}

// Destroy drops every listener, disposes every pending call and rejects
// later registrations. Safe to call repeatedly.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.listeners = make(map[string]*listener)
	pending := m.pending
	m.pending = make(map[string]pendingCall)
	m.mu.Unlock()

	for _, call := range pending {
		call.dispose()
	}
	m.logger.Info().Int("disposed_calls", len(pending)).Msg("Dispatcher destroyed")
}

// Wait blocks until every started call function has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		Listeners: len(m.listeners),
		Pending:   len(m.pending),
		Destroyed: m.destroyed,
		ByKind:    make(map[string]int),
	}
	var oldest *listener
	for _, l := range m.listeners {
		st.ByKind[l.kind]++
		if oldest == nil || l.createdAt.Before(oldest.createdAt) {
			oldest = l
		}
	}
	if oldest != nil {
		st.OldestKind = oldest.kind
		st.OldestAge = m.now().Sub(oldest.createdAt)
	}
	return st
}

// register records a pending call and counts it as in flight. Both happen
// under mu so Destroy followed by Wait never races a late Add.
func (m *Manager) register(id string, call pendingCall) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return false
	}
	m.pending[id] = call
	m.inflight.Add(1)
	return true
}

// take removes id from the pending set. Only the caller that removes it
// may settle the future.
func (m *Manager) take(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; !ok {
		return false
	}
	delete(m.pending, id)
	return true
}

func (m *Manager) fanOut(res Result) {
	kind := SuccessKind(res.Kind)
	if res.Err != nil {
		kind = FailureKind(res.Kind)
	}

	m.mu.Lock()
	targets := make([]*listener, 0)
	for _, l := range m.listeners {
		if l.kind == kind {
			targets = append(targets, l)
		}
	}
	m.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].createdAt.Before(targets[j].createdAt) })
	for _, l := range targets {
		if !m.live(l) {
			continue
		}
		l.callback(res)
	}
}

func (m *Manager) live(l *listener) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listeners[l.id] == l
}

// Future is the single completion of one call.
type Future[T any] struct {
	id   string
	kind string
	m    *Manager

	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// Call runs fn asynchronously and returns its future.
func Call[T any](ctx context.Context, m *Manager, kind string, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{id: uuid.NewString(), kind: kind, m: m, done: make(chan struct{})}

	if !m.register(f.id, f) {
		var zero T
		f.settle(zero, ErrDestroyed)
		return f
	}

	go func() {
		defer m.inflight.Done()

		value, err := fn(ctx)
		if !m.take(f.id) {
			// disposed while running, result dropped
			return
		}
		f.settle(value, err)
		m.fanOut(Result{CallID: f.id, Kind: kind, Value: value, Err: err})
	}()
	return f
}

func (f *Future[T]) ID() string { return f.id }

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx is done. A ctx expiry does
// not dispose the call.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Dispose discards the call. Its result is dropped and listeners are not
// notified. No effect once settled.
func (f *Future[T]) Dispose() {
	if f.m.take(f.id) {
		f.dispose()
	}
}

func (f *Future[T]) dispose() {
	var zero T
	f.settle(zero, ErrDisposed)
}

func (f *Future[T]) settle(value T, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
	})
}
