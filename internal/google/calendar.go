package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Lilanga/booking-pal/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const dateLayout = "2006-01-02"

// CalendarService talks to a single Google calendar. Every method performs
// one API call and returns the raw error so callers can classify it.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	location   *time.Location
}

func NewCalendarService(ctx context.Context, credentialsFile, calendarID string) (*CalendarService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarEventsScope, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	return NewCalendarServiceWith(srv, calendarID), nil
}

// NewCalendarServiceWith wraps an already configured API client.
func NewCalendarServiceWith(srv *calendar.Service, calendarID string) *CalendarService {
	return &CalendarService{service: srv, calendarID: calendarID, location: time.Local}
}

// SetLocation sets the zone all-day events are anchored in.
func (s *CalendarService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

// TestConnection reads the calendar metadata and returns its title.
func (s *CalendarService) TestConnection(ctx context.Context) (string, error) {
	cal, err := s.service.Calendars.Get(s.calendarID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("connection test failed: %w", err)
	}
	return cal.Summary, nil
}

// ServiceAccountEmail returns the client e-mail of the service account. The
// calendar has to be shared with this address.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	if creds.ClientEmail == "" {
		return "", errors.New("client_email missing in credentials")
	}
	return creds.ClientEmail, nil
}

// ListEvents returns confirmed single events between timeMin and timeMax in
// start order.
func (s *CalendarService) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.Event, error) {
	resp, err := s.service.Events.List(s.calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		ev, err := s.toModel(item)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", item.Id, err)
		}
		events = append(events, ev)
	}
	return models.ConfirmedOnly(events), nil
}

// InsertEvent creates a timed event. A non-empty event.ID is sent as the
// client supplied id so a repeated insert is rejected with 409.
func (s *CalendarService) InsertEvent(ctx context.Context, event models.Event) (*models.Event, error) {
	req := &calendar.Event{
		Id:          event.ID,
		Summary:     event.Summary,
		Description: event.Description,
		Start:       &calendar.EventDateTime{DateTime: event.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: event.End.Format(time.RFC3339)},
	}

	created, err := s.service.Events.Insert(s.calendarID, req).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	ev, err := s.toModel(created)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// PatchEventEnd moves the end of an event, leaving every other field as is.
func (s *CalendarService) PatchEventEnd(ctx context.Context, eventID string, end time.Time) error {
	patch := &calendar.Event{End: &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)}}
	_, err := s.service.Events.Patch(s.calendarID, eventID, patch).Context(ctx).Do()
	return err
}

func (s *CalendarService) toModel(item *calendar.Event) (models.Event, error) {
	ev := models.Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Status:      item.Status,
		HTMLLink:    item.HtmlLink,
	}
	if ev.Status == "" {
		ev.Status = models.EventStatusConfirmed
	}
	if item.Organizer != nil {
		ev.Organizer = item.Organizer.Email
	}
	for _, a := range item.Attendees {
		ev.Attendees = append(ev.Attendees, models.Attendee{
			Email:          a.Email,
			DisplayName:    a.DisplayName,
			ResponseStatus: a.ResponseStatus,
			Resource:       a.Resource,
		})
	}

	start, allDay, err := s.parseDateTime(item.Start)
	if err != nil {
		return ev, fmt.Errorf("start: %w", err)
	}
	end, _, err := s.parseDateTime(item.End)
	if err != nil {
		return ev, fmt.Errorf("end: %w", err)
	}
	ev.Start, ev.End, ev.IsAllDay = start, end, allDay
	return ev, nil
}

// parseDateTime handles both timed and all-day values. All-day dates map to
// local midnight.
func (s *CalendarService) parseDateTime(dt *calendar.EventDateTime) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, errors.New("missing time")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, dt.Date, s.location)
		return t, true, err
	}
	return time.Time{}, false, errors.New("empty time")
}
