package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Lilanga/booking-pal/internal/export"
	"github.com/Lilanga/booking-pal/internal/models"
	"github.com/Lilanga/booking-pal/internal/remote"
	"github.com/Lilanga/booking-pal/internal/service"
)

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.kiosk.Status(r.Context()))
}

func (s *HTTPServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatcher": s.kiosk.DispatchStats()})
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	view, err := s.kiosk.ListEvents(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCurrentEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ev, stale, err := s.kiosk.CurrentEvent(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": ev, "stale": stale})
}

func (s *HTTPServer) handleReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		DurationMinutes int        `json:"duration_minutes"`
		StartTime       *time.Time `json:"start_time"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.DurationMinutes == 0 {
		body.DurationMinutes = models.DefaultReservationMinutes
	}

	res, err := s.kiosk.BookQuick(r.Context(), body.DurationMinutes, body.StartTime)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, mutationStatus(res), res)
}

func (s *HTTPServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/reservations/"
	const suffix = "/finish"

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !strings.HasPrefix(r.URL.Path, prefix) || !strings.HasSuffix(r.URL.Path, suffix) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	eventID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), suffix)
	eventID = strings.TrimSpace(eventID)
	if eventID == "" || strings.Contains(eventID, "/") {
		writeError(w, http.StatusBadRequest, "event id is required")
		return
	}

	res, err := s.kiosk.Finish(r.Context(), eventID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, mutationStatus(res), res)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ran, err := s.kiosk.ForceSync(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": ran, "status": s.kiosk.Status(r.Context())})
}

func (s *HTTPServer) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ran, err := s.kiosk.HandleVisible(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": ran})
}

func (s *HTTPServer) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}

	s.kiosk.ReportConnectivity(*body.Online)
	writeJSON(w, http.StatusOK, s.kiosk.Status(r.Context()))
}

func (s *HTTPServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.xlsx"`)
	if err := export.Write(w, s.kiosk.Cached(), s.room, s.location); err != nil {
		s.logger.Error().Err(err).Msg("Failed to export schedule")
	}
}

func mutationStatus(res service.MutationResult) int {
	if res.Queued {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidDuration), errors.Is(err, models.ErrMissingEventID):
		statusCode = http.StatusBadRequest
	case errors.Is(err, service.ErrOffline):
		statusCode = http.StatusConflict
	case errors.Is(err, service.ErrNoData), errors.Is(err, remote.ErrRetriesExhausted), errors.Is(err, remote.ErrOffline):
		statusCode = http.StatusServiceUnavailable
	case remote.KindOf(err) == remote.KindNotFound:
		statusCode = http.StatusNotFound
	case remote.IsFatal(err):
		statusCode = http.StatusBadGateway
	}

	if statusCode >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", statusCode).Msg("Request failed")
	}
	writeError(w, statusCode, err.Error())
}
