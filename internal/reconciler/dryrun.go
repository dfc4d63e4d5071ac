package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"calbuffer/internal/logging"
	"calbuffer/internal/models"
)

// DryRunCalendar logs the creates and deletes it is asked for instead of
// performing them. Reads go to the wrapped calendar with pending changes
// applied, so a cycle sees a consistent picture of what it would have done.
type DryRunCalendar struct {
	cal     Calendar
	logger  *slog.Logger
	created []models.Event
	deleted map[string]bool
}

func NewDryRunCalendar(cal Calendar, logger *slog.Logger) *DryRunCalendar {
	return &DryRunCalendar{cal: cal, logger: logger, deleted: make(map[string]bool)}
}

func (d *DryRunCalendar) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	events, err := d.cal.ListEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	out := events[:0:0]
	for _, e := range events {
		if !d.deleted[e.ID] {
			out = append(out, e)
		}
	}
	w := window{Start: start, End: end}
	for _, e := range d.created {
		if !d.deleted[e.ID] && w.overlaps(e.StartTime, e.EndTime) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (d *DryRunCalendar) CreateEvent(_ context.Context, ne models.NewEvent) (models.Event, error) {
	ev := models.Event{
		ID:          fmt.Sprintf("dry-run-%d", len(d.created)+1),
		Title:       ne.Title,
		Description: ne.Description,
		StartTime:   ne.StartTime,
		EndTime:     ne.EndTime,
		ColorID:     ne.ColorID,
	}
	d.created = append(d.created, ev)
	d.logger.Info("[DRY RUN] Would create event", logging.Title(ne.Title), "start", ne.StartTime, "end", ne.EndTime, "color", ne.ColorID.Name())
	return ev, nil
}

func (d *DryRunCalendar) DeleteEvent(_ context.Context, id string) error {
	d.deleted[id] = true
	d.logger.Info("[DRY RUN] Would delete event", logging.EventID(id))
	return nil
}
