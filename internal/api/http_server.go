package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/dispatch"
	"github.com/Lilanga/booking-pal/internal/metrics"
	"github.com/Lilanga/booking-pal/internal/models"
	"github.com/Lilanga/booking-pal/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kiosk is what the HTTP API needs from the calendar service.
type Kiosk interface {
	ListEvents(ctx context.Context) (service.EventsView, error)
	CurrentEvent(ctx context.Context) (*models.Event, bool, error)
	BookQuick(ctx context.Context, minutes int, start *time.Time) (service.MutationResult, error)
	Finish(ctx context.Context, eventID string) (service.MutationResult, error)
	ForceSync(ctx context.Context) (bool, error)
	HandleVisible(ctx context.Context) (bool, error)
	ReportConnectivity(online bool)
	Status(ctx context.Context) models.Status
	Cached() models.CachedEventSet
	DispatchStats() dispatch.Stats
}

// HTTPServer exposes the kiosk API.
type HTTPServer struct {
	cfg      config.APIConfig
	kiosk    Kiosk
	room     string
	location *time.Location
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg *config.Config, kiosk Kiosk, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:      cfg.API,
		kiosk:    kiosk,
		room:     cfg.Calendar.Title,
		location: time.Local,
		logger:   &l,
	}
	srv.auth = NewHTTPAuth(cfg.API)

	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/diagnostics", srv.handleDiagnostics)
	mux.HandleFunc("/api/v1/events", srv.handleEvents)
	mux.HandleFunc("/api/v1/events/current", srv.handleCurrentEvent)
	mux.HandleFunc("/api/v1/reservations", srv.handleReservations)
	mux.HandleFunc("/api/v1/reservations/", srv.handleFinish)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/visibility", srv.handleVisibility)
	mux.HandleFunc("/api/v1/connectivity", srv.handleConnectivity)
	mux.HandleFunc("/api/v1/schedule.xlsx", srv.handleSchedule)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// SetLocation sets the zone used for exported times.
func (s *HTTPServer) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
