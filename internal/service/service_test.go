package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Lilanga/booking-pal/internal/cache"
	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/connectivity"
	"github.com/Lilanga/booking-pal/internal/database"
	"github.com/Lilanga/booking-pal/internal/dispatch"
	"github.com/Lilanga/booking-pal/internal/domain"
	"github.com/Lilanga/booking-pal/internal/events"
	"github.com/Lilanga/booking-pal/internal/models"
	"github.com/Lilanga/booking-pal/internal/queue"
	"github.com/Lilanga/booking-pal/internal/remote"
	"github.com/Lilanga/booking-pal/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

// fakeCalendar is an in-memory calendar transport.
type fakeCalendar struct {
	mu      sync.Mutex
	events  []models.Event
	inserts int
	lists   int
	errs    map[string][]error

	// when set, ListEvents signals entered and waits for release
	entered chan struct{}
	release chan struct{}

	onInsert func()
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{errs: map[string][]error{}}
}

func (f *fakeCalendar) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

func (f *fakeCalendar) next(op string) error {
	if queued := f.errs[op]; len(queued) > 0 {
		f.errs[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (f *fakeCalendar) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.Event, error) {
	f.mu.Lock()
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if err := f.next("list"); err != nil {
		return nil, err
	}
	return append([]models.Event(nil), f.events...), nil
}

func (f *fakeCalendar) InsertEvent(ctx context.Context, event models.Event) (*models.Event, error) {
	f.mu.Lock()
	hook := f.onInsert
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if err := f.next("insert"); err != nil {
		return nil, err
	}
	event.Status = models.EventStatusConfirmed
	f.events = append(f.events, event)
	return &event, nil
}

func (f *fakeCalendar) PatchEventEnd(ctx context.Context, eventID string, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("patch"); err != nil {
		return err
	}
	for i := range f.events {
		if f.events[i].ID == eventID {
			f.events[i].End = end
			return nil
		}
	}
	return &googleapi.Error{Code: http.StatusNotFound}
}

func (f *fakeCalendar) counts() (inserts, lists int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts, f.lists
}

// recordingRemote counts adapter level calls.
type recordingRemote struct {
	inner domain.RemoteClient

	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recordingRemote) record(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op)
	return r.fail[op]
}

func (r *recordingRemote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingRemote) ListEvents(ctx context.Context) ([]models.Event, error) {
	if err := r.record("listEvents"); err != nil {
		return nil, err
	}
	return r.inner.ListEvents(ctx)
}

func (r *recordingRemote) CreateReservation(ctx context.Context, minutes int, start *time.Time) ([]models.Event, error) {
	if err := r.record("createReservation"); err != nil {
		return nil, err
	}
	return r.inner.CreateReservation(ctx, minutes, start)
}

func (r *recordingRemote) CreateReservationWithID(ctx context.Context, id string, minutes int, start *time.Time) ([]models.Event, error) {
	if err := r.record("createReservation"); err != nil {
		return nil, err
	}
	return r.inner.CreateReservationWithID(ctx, id, minutes, start)
}

func (r *recordingRemote) EndReservation(ctx context.Context, id string) ([]models.Event, error) {
	if err := r.record("endReservation"); err != nil {
		return nil, err
	}
	return r.inner.EndReservation(ctx, id)
}

func (r *recordingRemote) EndReservationAt(ctx context.Context, id string, end time.Time) ([]models.Event, error) {
	if err := r.record("endReservation"); err != nil {
		return nil, err
	}
	return r.inner.EndReservationAt(ctx, id, end)
}

type stubProber struct{}

func (stubProber) Probe(ctx context.Context) error { return nil }

type busRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *busRecorder) handler(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *busRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	cal     *fakeCalendar
	remote  *recordingRemote
	bus     *events.EventBus
	rec     *busRecorder
	monitor *connectivity.Monitor
	queue   *queue.Queue
	cache   *cache.Cache
	sync    *SyncService
	svc     *CalendarService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Calendar.Title = "Room 42"
	cfg.Remote = config.RemoteConfig{
		MinInterval: time.Millisecond,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}

	bus := events.NewEventBus()
	rec := &busRecorder{}
	bus.SubscribeAll(rec.handler)

	store := repository.NewMemoryStateStore()
	mon := connectivity.NewMonitor(stubProber{}, store, bus, config.ConnectivityConfig{}, &logger)
	q := queue.New(db, bus, nil, config.QueueConfig{}, &logger)
	c := cache.New(store, &logger)

	cal := newFakeCalendar()
	rc := &recordingRemote{inner: remote.NewClient(cal, cfg.Remote, mon, &logger), fail: map[string]error{}}

	ss := NewSyncService(mon, q, rc, c, bus, cfg, &logger)
	ss.Subscribe(bus)
	svc := NewCalendarService(mon, q, rc, c, ss, dispatch.NewManager(&logger), &logger)
	t.Cleanup(svc.Close)

	return &harness{cal: cal, remote: rc, bus: bus, rec: rec, monitor: mon, queue: q, cache: c, sync: ss, svc: svc}
}

func (h *harness) queueLen(t *testing.T) int {
	t.Helper()
	n, err := h.queue.Len(context.Background())
	require.NoError(t, err)
	return n
}

func TestOfflineBookingDrainsOnReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Hour)
	require.NoError(t, h.cache.Replace(ctx, nil, before))

	res, err := h.svc.BookQuick(ctx, 30, nil)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.NotEmpty(t, res.QueueID)
	assert.NotEmpty(t, res.EventID)
	assert.True(t, res.Stale)
	assert.Equal(t, 1, h.queueLen(t))
	assert.Empty(t, h.remote.Calls())
	assert.Equal(t, 1, h.rec.count(events.EventActionQueued))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sync.Start(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	h.monitor.ReportNativeOnline()

	require.Eventually(t, func() bool {
		return h.rec.count(events.EventSyncSuccess) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"createReservation", "listEvents"}, h.remote.Calls())
	assert.Equal(t, 0, h.queueLen(t))

	set := h.cache.Snapshot()
	require.Len(t, set.Events, 1)
	assert.Equal(t, res.EventID, set.Events[0].ID)
	assert.Equal(t, "Quick Reservation 30'", set.Events[0].Summary)
	assert.False(t, set.Timestamp.Before(before))
	assert.False(t, h.monitor.Snapshot().SyncInProgress)
}

func TestForceSyncWhileSyncingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.monitor.ReportNativeOnline()

	h.cal.mu.Lock()
	h.cal.entered = make(chan struct{})
	h.cal.release = make(chan struct{})
	h.cal.mu.Unlock()

	type outcome struct {
		ran bool
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		ran, err := h.svc.ForceSync(context.Background())
		first <- outcome{ran, err}
	}()

	<-h.cal.entered
	callsBefore := len(h.remote.Calls())

	ran, err := h.svc.ForceSync(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Len(t, h.remote.Calls(), callsBefore)
	assert.True(t, h.svc.Status(context.Background()).SyncInProgress)

	h.cal.mu.Lock()
	h.cal.entered = nil
	h.cal.mu.Unlock()
	close(h.cal.release)

	got := <-first
	require.NoError(t, got.err)
	assert.True(t, got.ran)
	assert.Equal(t, 1, h.rec.count(events.EventSyncStart))
}

func TestTriggerDuringRunningCycleIsDropped(t *testing.T) {
	h := newHarness(t)

	h.cal.mu.Lock()
	h.cal.entered = make(chan struct{})
	h.cal.release = make(chan struct{})
	h.cal.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sync.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	h.monitor.ReportNativeOnline()
	<-h.cal.entered

	// flap while the cycle is inside ListEvents
	h.monitor.ReportNativeOffline()
	h.monitor.ReportNativeOnline()
	h.sync.Trigger(ReasonManual)

	h.cal.mu.Lock()
	h.cal.entered = nil
	h.cal.mu.Unlock()
	close(h.cal.release)

	require.Eventually(t, func() bool {
		return h.rec.count(events.EventSyncSuccess) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool {
		return h.rec.count(events.EventSyncStart) > 1
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, h.rec.count(events.EventSyncSuccess))
	_, lists := h.cal.counts()
	assert.Equal(t, 1, lists)
}

func TestFlappingDuringDrainKeepsUnsentItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.BookQuick(ctx, 15, nil)
		require.NoError(t, err)
	}

	var sentOffline int
	var mu sync.Mutex
	h.cal.mu.Lock()
	h.cal.onInsert = func() {
		mu.Lock()
		if !h.monitor.IsOnline() {
			sentOffline++
		}
		mu.Unlock()
		h.monitor.ReportNativeOffline()
	}
	h.cal.mu.Unlock()
	for i := 0; i < 3; i++ {
		h.cal.failNext("insert", &googleapi.Error{Code: http.StatusServiceUnavailable})
	}

	for round := 0; round < 3; round++ {
		h.monitor.ReportNativeOnline()
		ran, err := h.sync.Sync(ctx, ReasonOnline)
		assert.True(t, ran)
		assert.ErrorIs(t, err, remote.ErrOffline)
	}

	inserts, _ := h.cal.counts()
	assert.Equal(t, 3, inserts, "only the head item reaches the calendar")
	assert.Zero(t, sentOffline)
	assert.Equal(t, 1, h.rec.count(events.EventQueueItemFailed))

	items, err := h.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, 0, item.Attempts)
	}

	h.cal.mu.Lock()
	h.cal.onInsert = nil
	h.cal.mu.Unlock()
	h.monitor.ReportNativeOnline()
	ran, err := h.sync.Sync(ctx, ReasonOnline)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, h.queueLen(t))
}

func TestReplayedFinishUsesRequestTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	now := time.Now()
	h.cal.mu.Lock()
	h.cal.events = []models.Event{{
		ID:     "evt1",
		Start:  now.Add(-30 * time.Minute),
		End:    now.Add(30 * time.Minute),
		Status: models.EventStatusConfirmed,
	}}
	h.cal.mu.Unlock()

	_, err := h.svc.Finish(ctx, "evt1")
	require.NoError(t, err)
	items, err := h.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	requested := items[0].QueuedAt

	time.Sleep(20 * time.Millisecond)
	h.monitor.ReportNativeOnline()
	_, err = h.sync.Sync(ctx, ReasonOnline)
	require.NoError(t, err)

	h.cal.mu.Lock()
	end := h.cal.events[0].End
	h.cal.mu.Unlock()
	assert.True(t, end.Equal(requested), "end %v, requested %v", end, requested)
}

func TestForceSyncOffline(t *testing.T) {
	h := newHarness(t)

	ran, err := h.svc.ForceSync(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.False(t, ran)
	assert.Empty(t, h.remote.Calls())
}

func TestHandleVisible(t *testing.T) {
	ctx := context.Background()

	t.Run("StaleCacheTriggersSync", func(t *testing.T) {
		h := newHarness(t)
		h.monitor.ReportNativeOnline()
		require.NoError(t, h.cache.Replace(ctx, nil, time.Now().Add(-3*time.Minute)))

		ran, err := h.svc.HandleVisible(ctx)
		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, []string{"listEvents"}, h.remote.Calls())
		assert.Equal(t, 1, h.rec.count(events.EventSyncSuccess))
		assert.Less(t, h.cache.Age(time.Now()), time.Minute)
	})

	t.Run("FreshCacheIsKept", func(t *testing.T) {
		h := newHarness(t)
		h.monitor.ReportNativeOnline()
		require.NoError(t, h.cache.Replace(ctx, nil, time.Now().Add(-time.Minute)))

		ran, err := h.svc.HandleVisible(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
		assert.Empty(t, h.remote.Calls())
	})

	t.Run("OfflineDoesNothing", func(t *testing.T) {
		h := newHarness(t)

		ran, err := h.svc.HandleVisible(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
		assert.Empty(t, h.remote.Calls())
	})
}

func TestSyncErrorLeavesCacheUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.monitor.ReportNativeOnline()

	stamp := time.Now().Add(-10 * time.Minute)
	kept := []models.Event{{ID: "kept", Status: models.EventStatusConfirmed}}
	require.NoError(t, h.cache.Replace(ctx, kept, stamp))

	h.cal.failNext("list", &googleapi.Error{Code: http.StatusForbidden})

	ran, err := h.sync.Sync(ctx, ReasonManual)
	assert.True(t, ran)
	require.Error(t, err)
	assert.True(t, remote.IsFatal(err))

	set := h.cache.Snapshot()
	assert.Equal(t, kept, set.Events)
	assert.True(t, set.Timestamp.Equal(stamp))
	assert.Equal(t, 1, h.rec.count(events.EventSyncError))
	assert.Equal(t, 0, h.rec.count(events.EventSyncSuccess))

	st := h.sync.Status(ctx)
	assert.Equal(t, models.SyncStateError, st.SyncState)
	assert.False(t, st.SyncInProgress)
	assert.NotEmpty(t, h.sync.LastError())

	_, lists := h.cal.counts()
	assert.Equal(t, 1, lists)
}

func TestTransientFailuresRecoverWithinOneDrain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.BookQuick(ctx, 15, nil)
	require.NoError(t, err)

	h.cal.failNext("insert",
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		&googleapi.Error{Code: http.StatusServiceUnavailable},
	)
	h.monitor.ReportNativeOnline()

	ran, err := h.sync.Sync(ctx, ReasonOnline)
	require.NoError(t, err)
	assert.True(t, ran)

	inserts, _ := h.cal.counts()
	assert.Equal(t, 3, inserts)
	assert.Equal(t, 0, h.queueLen(t))
	assert.Equal(t, 0, h.rec.count(events.EventQueueItemFailed))
	assert.Equal(t, 1, h.rec.count(events.EventSyncSuccess))
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("OfflineWithoutDataIsAnError", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.svc.ListEvents(ctx)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("OfflineServesStaleCache", func(t *testing.T) {
		h := newHarness(t)
		stamp := time.Now().Add(-5 * time.Minute)
		require.NoError(t, h.cache.Replace(ctx, []models.Event{{ID: "a"}}, stamp))

		view, err := h.svc.ListEvents(ctx)
		require.NoError(t, err)
		assert.True(t, view.Stale)
		require.NotNil(t, view.LastSync)
		assert.True(t, view.LastSync.Equal(stamp))
		assert.Len(t, view.Events, 1)
		assert.Empty(t, h.remote.Calls())
	})

	t.Run("OnlineRefreshesCache", func(t *testing.T) {
		h := newHarness(t)
		h.cal.events = []models.Event{{ID: "b", Status: models.EventStatusConfirmed}}
		h.monitor.ReportNativeOnline()

		view, err := h.svc.ListEvents(ctx)
		require.NoError(t, err)
		assert.False(t, view.Stale)
		assert.Len(t, view.Events, 1)

		require.Eventually(t, func() bool {
			return len(h.cache.Snapshot().Events) == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("OnlineFailureFallsBackToCache", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.cache.Replace(ctx, []models.Event{{ID: "c"}}, time.Now()))
		h.monitor.ReportNativeOnline()
		h.remote.fail["listEvents"] = errors.New("connection reset")

		view, err := h.svc.ListEvents(ctx)
		require.NoError(t, err)
		assert.True(t, view.Stale)
		assert.Equal(t, "c", view.Events[0].ID)
	})
}

func TestCurrentEvent(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.cal.events = []models.Event{
		{ID: "past", Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour), Status: models.EventStatusConfirmed},
		{ID: "next", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), Status: models.EventStatusConfirmed},
	}
	h.monitor.ReportNativeOnline()

	ev, stale, err := h.svc.CurrentEvent(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)
	require.NotNil(t, ev)
	assert.Equal(t, "next", ev.ID)
}

func TestBookQuickOnline(t *testing.T) {
	h := newHarness(t)
	h.monitor.ReportNativeOnline()

	res, err := h.svc.BookQuick(context.Background(), 15, nil)
	require.NoError(t, err)
	assert.False(t, res.Queued)
	require.Len(t, res.Events, 1)
	assert.Equal(t, res.EventID, res.Events[0].ID)
	assert.Equal(t, []string{"createReservation"}, h.remote.Calls())
	assert.Equal(t, 0, h.queueLen(t))
}

func TestBookQuickRejectsInvalidDuration(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.BookQuick(context.Background(), 0, nil)
	assert.ErrorIs(t, err, models.ErrInvalidDuration)
	assert.Equal(t, 0, h.queueLen(t))
}

func TestBookQuickQueuesWhenConnectionDropsMidCall(t *testing.T) {
	h := newHarness(t)
	h.monitor.ReportNativeOnline()
	h.remote.fail["createReservation"] = remote.ErrOffline

	res, err := h.svc.BookQuick(context.Background(), 15, nil)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, 1, h.queueLen(t))
}

func TestBookQuickFatalErrorIsReturned(t *testing.T) {
	h := newHarness(t)
	h.monitor.ReportNativeOnline()
	h.cal.failNext("insert", &googleapi.Error{Code: http.StatusUnauthorized})

	_, err := h.svc.BookQuick(context.Background(), 15, nil)
	require.Error(t, err)
	assert.Equal(t, remote.KindAuth, remote.KindOf(err))
	assert.Equal(t, 0, h.queueLen(t))
}

func TestFinishOfflineQueues(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Finish(context.Background(), "evt1")
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, "evt1", res.EventID)

	items, err := h.queue.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ActionFinishReservation, items[0].Action.Type)

	_, err = h.svc.Finish(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrMissingEventID)
}

func TestOfflineBookingRecordsStartTime(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return fixed }

	_, err := h.svc.BookQuick(context.Background(), 30, nil)
	require.NoError(t, err)

	items, err := h.queue.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Action.StartTime)
	assert.True(t, items[0].Action.StartTime.Equal(fixed))
	assert.NotEmpty(t, items[0].Action.EventID)
}

func TestReportConnectivity(t *testing.T) {
	h := newHarness(t)

	h.svc.ReportConnectivity(true)
	assert.True(t, h.monitor.IsOnline())
	assert.Equal(t, 1, h.rec.count(events.EventOnline))

	h.svc.ReportConnectivity(false)
	assert.False(t, h.monitor.IsOnline())
	assert.Equal(t, 1, h.rec.count(events.EventOffline))
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.BookQuick(ctx, 15, nil)
	require.NoError(t, err)

	st := h.svc.Status(ctx)
	assert.Equal(t, "Room 42", st.Room)
	assert.False(t, st.IsOnline)
	assert.Equal(t, 1, st.QueueLength)
	assert.Nil(t, st.LastSync)
	assert.Equal(t, models.SyncStateIdle, st.SyncState)
}

func TestCloseDisposesDispatcher(t *testing.T) {
	h := newHarness(t)
	h.svc.Close()

	assert.True(t, h.svc.DispatchStats().Destroyed)
	assert.Equal(t, 0, h.svc.DispatchStats().Listeners)
}
