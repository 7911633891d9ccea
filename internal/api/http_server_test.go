package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/dispatch"
	"github.com/Lilanga/booking-pal/internal/models"
	"github.com/Lilanga/booking-pal/internal/remote"
	"github.com/Lilanga/booking-pal/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type mockKiosk struct {
	mock.Mock
}

func (m *mockKiosk) ListEvents(ctx context.Context) (service.EventsView, error) {
	args := m.Called(ctx)
	return args.Get(0).(service.EventsView), args.Error(1)
}

func (m *mockKiosk) CurrentEvent(ctx context.Context) (*models.Event, bool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Event), args.Bool(1), args.Error(2)
}

func (m *mockKiosk) BookQuick(ctx context.Context, minutes int, start *time.Time) (service.MutationResult, error) {
	args := m.Called(ctx, minutes, start)
	return args.Get(0).(service.MutationResult), args.Error(1)
}

func (m *mockKiosk) Finish(ctx context.Context, eventID string) (service.MutationResult, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(service.MutationResult), args.Error(1)
}

func (m *mockKiosk) ForceSync(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockKiosk) HandleVisible(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockKiosk) ReportConnectivity(online bool) {
	m.Called(online)
}

func (m *mockKiosk) Status(ctx context.Context) models.Status {
	return m.Called(ctx).Get(0).(models.Status)
}

func (m *mockKiosk) Cached() models.CachedEventSet {
	return m.Called().Get(0).(models.CachedEventSet)
}

func (m *mockKiosk) DispatchStats() dispatch.Stats {
	return m.Called().Get(0).(dispatch.Stats)
}

func newTestHTTPServer(t *testing.T, apiCfg config.APIConfig) (*mockKiosk, *httptest.Server) {
	t.Helper()
	kiosk := new(mockKiosk)
	cfg := &config.Config{API: apiCfg}
	cfg.Calendar.Title = "Room 42"

	srv := NewHTTPServer(cfg, kiosk, nil)
	srv.SetLocation(time.UTC)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return kiosk, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
	kiosk.On("Status", mock.Anything).Return(models.Status{Room: "Room 42", IsOnline: true, QueueLength: 2})

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("x-request-id"))

	var st models.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "Room 42", st.Room)
	assert.True(t, st.IsOnline)
	assert.Equal(t, 2, st.QueueLength)
}

func TestEventsEndpoint(t *testing.T) {
	t.Run("Stale", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("ListEvents", mock.Anything).Return(service.EventsView{
			Events: []models.Event{{ID: "a"}},
			Stale:  true,
		}, nil)

		resp, err := http.Get(ts.URL + "/api/v1/events")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var view service.EventsView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
		assert.True(t, view.Stale)
		assert.Len(t, view.Events, 1)
	})

	t.Run("NoData", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("ListEvents", mock.Anything).Return(service.EventsView{}, service.ErrNoData)

		resp, err := http.Get(ts.URL + "/api/v1/events")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		_, ts := newTestHTTPServer(t, config.APIConfig{})

		resp := postJSON(t, ts.URL+"/api/v1/events", map[string]any{})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestCurrentEventEndpoint(t *testing.T) {
	kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
	kiosk.On("CurrentEvent", mock.Anything).Return(&models.Event{ID: "now", Summary: "Standup"}, false, nil)

	resp, err := http.Get(ts.URL + "/api/v1/events/current")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Event *models.Event `json:"event"`
		Stale bool          `json:"stale"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Event)
	assert.Equal(t, "now", body.Event.ID)
	assert.False(t, body.Stale)
}

func TestReservationsEndpoint(t *testing.T) {
	t.Run("Online", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("BookQuick", mock.Anything, 30, (*time.Time)(nil)).Return(service.MutationResult{
			EventsView: service.EventsView{Events: []models.Event{{ID: "e1"}}},
			EventID:    "e1",
		}, nil)

		resp := postJSON(t, ts.URL+"/api/v1/reservations", map[string]any{"duration_minutes": 30})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		kiosk.AssertExpectations(t)
	})

	t.Run("QueuedWhenOffline", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("BookQuick", mock.Anything, models.DefaultReservationMinutes, (*time.Time)(nil)).Return(service.MutationResult{
			Queued:  true,
			QueueID: "offline_1_abc",
		}, nil)

		resp := postJSON(t, ts.URL+"/api/v1/reservations", map[string]any{})
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var res service.MutationResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.True(t, res.Queued)
		assert.Equal(t, "offline_1_abc", res.QueueID)
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("BookQuick", mock.Anything, -5, (*time.Time)(nil)).Return(service.MutationResult{}, models.ErrInvalidDuration)

		resp := postJSON(t, ts.URL+"/api/v1/reservations", map[string]any{"duration_minutes": -5})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("UnknownField", func(t *testing.T) {
		_, ts := newTestHTTPServer(t, config.APIConfig{})

		resp := postJSON(t, ts.URL+"/api/v1/reservations", map[string]any{"minutes": 5})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestFinishEndpoint(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("Finish", mock.Anything, "evt1").Return(service.MutationResult{EventID: "evt1"}, nil)

		resp := postJSON(t, ts.URL+"/api/v1/reservations/evt1/finish", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		kiosk.AssertExpectations(t)
	})

	t.Run("NotFound", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("Finish", mock.Anything, "gone").Return(service.MutationResult{},
			&remote.Error{Kind: remote.KindNotFound, Op: remote.OpEndReservation, Err: fmt.Errorf("404")})

		resp := postJSON(t, ts.URL+"/api/v1/reservations/gone/finish", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("BadPath", func(t *testing.T) {
		_, ts := newTestHTTPServer(t, config.APIConfig{})

		resp := postJSON(t, ts.URL+"/api/v1/reservations/evt1/cancel", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestSyncEndpoint(t *testing.T) {
	t.Run("Offline", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("ForceSync", mock.Anything).Return(false, service.ErrOffline)

		resp := postJSON(t, ts.URL+"/api/v1/sync", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("Started", func(t *testing.T) {
		kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
		kiosk.On("ForceSync", mock.Anything).Return(true, nil)
		kiosk.On("Status", mock.Anything).Return(models.Status{IsOnline: true})

		resp := postJSON(t, ts.URL+"/api/v1/sync", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Started bool `json:"started"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Started)
	})
}

func TestConnectivityEndpoint(t *testing.T) {
	kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
	kiosk.On("ReportConnectivity", false).Return().Once()
	kiosk.On("Status", mock.Anything).Return(models.Status{})

	resp := postJSON(t, ts.URL+"/api/v1/connectivity", map[string]any{"online": false})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	missing := postJSON(t, ts.URL+"/api/v1/connectivity", map[string]any{})
	defer missing.Body.Close()
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)

	kiosk.AssertExpectations(t)
}

func TestVisibilityEndpoint(t *testing.T) {
	kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
	kiosk.On("HandleVisible", mock.Anything).Return(true, nil)

	resp := postJSON(t, ts.URL+"/api/v1/visibility", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Synced bool `json:"synced"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Synced)
}

func TestScheduleEndpoint(t *testing.T) {
	kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	kiosk.On("Cached").Return(models.CachedEventSet{
		Timestamp: base,
		Events:    []models.Event{{ID: "a", Summary: "Standup", Start: base, End: base.Add(15 * time.Minute)}},
	})

	resp, err := http.Get(ts.URL + "/api/v1/schedule.xlsx")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Schedule")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	kiosk, ts := newTestHTTPServer(t, config.APIConfig{})
	kiosk.On("DispatchStats").Return(dispatch.Stats{Listeners: 6})

	resp, err := http.Get(ts.URL + "/api/v1/diagnostics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Dispatcher dispatch.Stats `json:"dispatcher"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 6, body.Dispatcher.Listeners)
}

func TestHTTPAuth(t *testing.T) {
	apiCfg := config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "kiosk", Extra: "secret", Permissions: []string{permReadStatus}},
				{Key: "admin", Extra: "secret"},
			},
		},
	}

	do := func(t *testing.T, url, key, extra string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, url, nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("x-api-key", key)
			req.Header.Set("x-api-extra", extra)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	kiosk, ts := newTestHTTPServer(t, apiCfg)
	kiosk.On("Status", mock.Anything).Return(models.Status{})
	kiosk.On("ListEvents", mock.Anything).Return(service.EventsView{}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(t, ts.URL+"/api/v1/status", "", ""))
	assert.Equal(t, http.StatusUnauthorized, do(t, ts.URL+"/api/v1/status", "nope", "secret"))
	assert.Equal(t, http.StatusUnauthorized, do(t, ts.URL+"/api/v1/status", "kiosk", "wrong"))
	assert.Equal(t, http.StatusOK, do(t, ts.URL+"/api/v1/status", "kiosk", "secret"))
	assert.Equal(t, http.StatusForbidden, do(t, ts.URL+"/api/v1/events", "kiosk", "secret"))
	assert.Equal(t, http.StatusOK, do(t, ts.URL+"/api/v1/events", "admin", "secret"))
}

func TestHTTPRateLimit(t *testing.T) {
	kiosk, ts := newTestHTTPServer(t, config.APIConfig{
		Enabled:   true,
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2},
	})
	kiosk.On("Status", mock.Anything).Return(models.Status{})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/api/v1/status")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
