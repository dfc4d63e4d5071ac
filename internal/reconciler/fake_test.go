package reconciler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"calbuffer/internal/models"
)

// fakeCalendar is an in-memory calendar with the same overlap semantics as
// the Google events.list timeMin/timeMax filter.
type fakeCalendar struct {
	events map[string]models.Event
	nextID int

	created []models.Event
	deleted []string

	listErr   error
	createErr error
	deleteErr error
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]models.Event)}
}

// put inserts or replaces an event directly, bypassing the recorded calls.
func (f *fakeCalendar) put(ev models.Event) models.Event {
	if ev.ID == "" {
		f.nextID++
		ev.ID = fmt.Sprintf("evt-%d", f.nextID)
	}
	f.events[ev.ID] = ev
	return ev
}

// remove deletes an event directly, as a user would in the calendar UI.
func (f *fakeCalendar) remove(id string) {
	delete(f.events, id)
}

func (f *fakeCalendar) ListEvents(_ context.Context, start, end time.Time) ([]models.Event, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Event
	for _, e := range f.events {
		if e.EndTime.After(start) && e.StartTime.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ne models.NewEvent) (models.Event, error) {
	if f.createErr != nil {
		return models.Event{}, f.createErr
	}
	ev := f.put(models.Event{
		Title:       ne.Title,
		Description: ne.Description,
		StartTime:   ne.StartTime,
		EndTime:     ne.EndTime,
		Creator:     "calbuffer@example.com",
		ColorID:     ne.ColorID,
	})
	f.created = append(f.created, ev)
	return ev, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.events[id]; !ok {
		return fmt.Errorf("event %s not found", id)
	}
	delete(f.events, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// byTitle returns every stored event with the given title.
func (f *fakeCalendar) byTitle(title string) []models.Event {
	var out []models.Event
	for _, e := range f.events {
		if e.Title == title {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// resetCalls forgets recorded creates and deletes.
func (f *fakeCalendar) resetCalls() {
	f.created = nil
	f.deleted = nil
}
