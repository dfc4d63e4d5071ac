package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"calbuffer/internal/models"
)

const (
	// DefaultEndpoint is the iCloud CalDAV endpoint.
	DefaultEndpoint = "https://caldav.icloud.com/"

	// propColor is the RFC 7986 COLOR property.
	propColor = "COLOR"

	// occurrenceSep joins an object path and an occurrence's original start
	// in the id of one instance of a recurring series.
	occurrenceSep    = "#"
	occurrenceLayout = "20060102T150405Z"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calbuffer/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient reads and writes events of one CalDAV calendar.
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
}

// NewClient connects to endpoint and locates the calendar named calendarName.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	c := &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// ListEvents runs a calendar-query for VEVENTs overlapping [start, end).
func (c *CalDAVClient) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var events []models.Event
	for _, obj := range objects {
		expanded, err := expandCalendarObject(obj.Path, obj.Data, start, end)
		if err != nil {
			c.logger.Warn("Skipping calendar object", "path", obj.Path, "error", err)
			continue
		}
		if len(expanded) == 0 {
			c.logger.Debug("Skipping calendar object without a timed event in range", "path", obj.Path)
		}
		events = append(events, expanded...)
	}
	c.logger.Debug("Fetched events from CalDAV", "count", len(events))
	return events, nil
}

// CreateEvent uploads a new event under a fresh UID.
func (c *CalDAVClient) CreateEvent(ctx context.Context, ne models.NewEvent) (models.Event, error) {
	uid := GenerateUID()
	eventPath := path.Join(c.calendarPath, uid+".ics")

	if _, err := c.caldavClient.PutCalendarObject(ctx, eventPath, toICal(ne, uid, time.Now().UTC())); err != nil {
		return models.Event{}, fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}

	return models.Event{
		ID:          eventPath,
		Title:       ne.Title,
		Description: ne.Description,
		StartTime:   ne.StartTime,
		EndTime:     ne.EndTime,
		ColorID:     ne.ColorID,
	}, nil
}

// DeleteEvent removes the calendar object at id. For one occurrence of a
// recurring series the occurrence is excluded with an EXDATE instead.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, id string) error {
	objPath, occurrence, ok, err := splitOccurrenceID(id)
	if err != nil {
		return err
	}
	if !ok {
		if err := c.webdavClient.RemoveAll(ctx, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		return nil
	}

	obj, err := c.caldavClient.GetCalendarObject(ctx, objPath)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", objPath, err)
	}
	if err := excludeOccurrence(obj.Data, occurrence); err != nil {
		return fmt.Errorf("failed to exclude occurrence %s: %w", id, err)
	}
	if _, err := c.caldavClient.PutCalendarObject(ctx, objPath, obj.Data); err != nil {
		return fmt.Errorf("failed to update %s: %w", objPath, err)
	}
	return nil
}

// toICal builds a VCALENDAR holding one VEVENT for ne.
func toICal(ne models.NewEvent, uid string, stamp time.Time) *ical.Calendar {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, ne.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ve.Props.SetDateTime(ical.PropDateTimeStart, ne.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, ne.EndTime.UTC())

	if ne.Description != "" {
		ve.Props.SetText(ical.PropDescription, ne.Description)
	}
	if name := ne.ColorID.Name(); name != "" {
		ve.Props.SetText(propColor, strings.ToLower(name))
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calbuffer//EN")
	cal.Children = append(cal.Children, ve)
	return cal
}

// expandCalendarObject returns the timed events of a calendar object that
// overlap [start, end). A recurring series yields one event per occurrence,
// with RECURRENCE-ID overrides applied; a single event keeps the object path
// as its id.
func expandCalendarObject(objPath string, cal *ical.Calendar, start, end time.Time) ([]models.Event, error) {
	if cal == nil {
		return nil, nil
	}

	var (
		master    *ical.Event
		overrides = make(map[int64]ical.Event)
	)
	for _, ev := range cal.Events() {
		ev := ev
		if ev.Props.Get(ical.PropRecurrenceID) == nil {
			if master == nil {
				master = &ev
			}
			continue
		}
		rid, err := ev.Props.DateTime(ical.PropRecurrenceID, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad RECURRENCE-ID: %w", err)
		}
		overrides[rid.Unix()] = ev
	}
	if master == nil || !timed(*master) {
		return nil, nil
	}

	set, err := master.RecurrenceSet(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("bad recurrence rule: %w", err)
	}
	if set == nil {
		ev, ok := toEvent(objPath, *master)
		if !ok || !overlaps(ev, start, end) {
			return nil, nil
		}
		return []models.Event{ev}, nil
	}

	base, ok := toEvent(objPath, *master)
	if !ok {
		return nil, nil
	}
	length := base.Duration()

	var events []models.Event
	for _, occ := range set.Between(start.Add(-length), end, true) {
		occ = occ.UTC()
		if _, moved := overrides[occ.Unix()]; moved {
			continue
		}
		ev := base
		ev.ID = occurrenceID(objPath, occ)
		ev.StartTime = occ
		ev.EndTime = occ.Add(length)
		if overlaps(ev, start, end) {
			events = append(events, ev)
		}
	}

	// Overrides are checked on their own so an occurrence moved into the
	// window from outside it is still found.
	for rid, override := range overrides {
		if status, _ := override.Props.Text(ical.PropStatus); strings.EqualFold(status, "CANCELLED") {
			continue
		}
		ev, ok := toEvent(occurrenceID(objPath, time.Unix(rid, 0)), override)
		if !ok || !overlaps(ev, start, end) {
			continue
		}
		if ev.Title == "" {
			ev.Title = base.Title
		}
		if ev.Creator == "" {
			ev.Creator = base.Creator
		}
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].StartTime.Before(events[j].StartTime) })
	return events, nil
}

func timed(ev ical.Event) bool {
	p := ev.Props.Get(ical.PropDateTimeStart)
	return p != nil && p.ValueType() != ical.ValueDate
}

func overlaps(ev models.Event, start, end time.Time) bool {
	return ev.EndTime.After(start) && ev.StartTime.Before(end)
}

// toEvent maps one VEVENT onto an Event with the given id.
func toEvent(id string, ev ical.Event) (models.Event, bool) {
	if !timed(ev) {
		return models.Event{}, false
	}
	start, err := ev.DateTimeStart(time.UTC)
	if err != nil {
		return models.Event{}, false
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil || end.IsZero() || !end.After(start) {
		return models.Event{}, false
	}

	out := models.Event{
		ID:        id,
		StartTime: start,
		EndTime:   end,
	}
	out.Title, _ = ev.Props.Text(ical.PropSummary)
	out.Description, _ = ev.Props.Text(ical.PropDescription)
	if p := ev.Props.Get(ical.PropOrganizer); p != nil {
		out.Creator = stripMailto(p.Value)
	}
	if p := ev.Props.Get(propColor); p != nil {
		if color, ok := models.ColorByName(p.Value); ok {
			out.ColorID = color
		}
	}
	return out, true
}

func occurrenceID(objPath string, occ time.Time) string {
	return objPath + occurrenceSep + occ.UTC().Format(occurrenceLayout)
}

// splitOccurrenceID reports whether id names one occurrence of a series.
func splitOccurrenceID(id string) (objPath string, occ time.Time, ok bool, err error) {
	objPath, stamp, found := strings.Cut(id, occurrenceSep)
	if !found {
		return id, time.Time{}, false, nil
	}
	occ, err = time.Parse(occurrenceLayout, stamp)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("malformed occurrence id %q: %w", id, err)
	}
	return objPath, occ, true, nil
}

// excludeOccurrence adds an EXDATE for occ to the series master and drops
// any override of that occurrence.
func excludeOccurrence(cal *ical.Calendar, occ time.Time) error {
	if cal == nil {
		return fmt.Errorf("calendar object has no data")
	}

	var master *ical.Component
	children := cal.Children[:0]
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			if p := child.Props.Get(ical.PropRecurrenceID); p != nil {
				rid, err := child.Props.DateTime(ical.PropRecurrenceID, time.UTC)
				if err == nil && rid.Equal(occ) {
					continue
				}
			} else if master == nil {
				master = child
			}
		}
		children = append(children, child)
	}
	cal.Children = children

	if master == nil {
		return fmt.Errorf("no recurring event found")
	}
	exdate := ical.NewProp(ical.PropExceptionDates)
	exdate.SetDateTime(occ.UTC())
	master.Props.Add(exdate)
	return nil
}

func stripMailto(v string) string {
	if len(v) >= len("mailto:") && strings.EqualFold(v[:len("mailto:")], "mailto:") {
		v = v[len("mailto:"):]
	}
	return strings.TrimSpace(v)
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
