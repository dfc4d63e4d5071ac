package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calbuffer/internal/models"
)

// CalendarClient reads and writes events of a single Google calendar.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
}

// NewClient creates a Google Calendar client for calendarID using the token
// saved for accountName by the auth command.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName, calendarID string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenFile(accountName))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	return NewClientWithOptions(ctx, logger, calendarID, option.WithHTTPClient(config.Client(ctx, token)))
}

// NewClientWithOptions creates a client from explicit API options.
func NewClientWithOptions(ctx context.Context, logger *slog.Logger, calendarID string, opts ...option.ClientOption) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger, calendarID: calendarID}, nil
}

// ListEvents returns the timed events overlapping [start, end), following
// every result page. Recurring events are expanded into single instances.
func (c *CalendarClient) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", c.calendarID, "from", start, "to", end)

	var items []*calendar.Event
	err := c.service.Events.List(c.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		OrderBy("startTime").
		Pages(ctx, func(page *calendar.Events) error {
			items = append(items, page.Items...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Debug("Fetched events from Google Calendar", "count", len(items), "calendarID", c.calendarID)
	return toInternalEvents(items), nil
}

// CreateEvent inserts a new event with its color set.
func (c *CalendarClient) CreateEvent(ctx context.Context, ev models.NewEvent) (models.Event, error) {
	item := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.StartTime.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: ev.EndTime.Format(time.RFC3339)},
		ColorId:     string(ev.ColorID),
	}

	created, err := c.service.Events.Insert(c.calendarID, item).Context(ctx).Do()
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to create event: %w", err)
	}

	out, ok := toInternalEvent(created)
	if !ok {
		return models.Event{}, fmt.Errorf("created event %s has no start time", created.Id)
	}
	return out, nil
}

// DeleteEvent deletes an event. An event that is already gone is not an error.
func (c *CalendarClient) DeleteEvent(ctx context.Context, id string) error {
	err := c.service.Events.Delete(c.calendarID, id).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusGone || apiErr.Code == http.StatusNotFound) {
			c.logger.Debug("Event already deleted", "eventID", id)
			return nil
		}
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// toInternalEvents converts Google Calendar events to the internal Event model.
func toInternalEvents(googleEvents []*calendar.Event) []models.Event {
	var internalEvents []models.Event
	for _, item := range googleEvents {
		if ev, ok := toInternalEvent(item); ok {
			internalEvents = append(internalEvents, ev)
		}
	}
	return internalEvents
}

func toInternalEvent(item *calendar.Event) (models.Event, bool) {
	// Skip events without a start time (e.g., all-day events without a specific time)
	if item == nil || item.Start == nil || item.Start.DateTime == "" || item.End == nil || item.End.DateTime == "" {
		return models.Event{}, false
	}

	startTime, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return models.Event{}, false
	}
	endTime, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return models.Event{}, false
	}

	var creator string
	if item.Creator != nil {
		creator = item.Creator.Email
	}
	if creator == "" && item.Organizer != nil {
		creator = item.Organizer.Email
	}

	return models.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		StartTime:   startTime,
		EndTime:     endTime,
		Creator:     strings.TrimSpace(creator),
		ColorID:     models.ColorID(item.ColorId),
	}, true
}
