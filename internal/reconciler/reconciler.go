// Package reconciler keeps Pre-Meeting and Post-Meeting buffer events in line
// with the qualifying meetings on a calendar.
//
// Each cycle scans a sliding window, classifies every event as a main event
// or a buffer, creates missing buffers, rebuilds the buffers of meetings that
// moved and deletes buffers whose meeting is gone. A cycle holds no state of
// its own: anything it leaves half done is found and repaired by the next one.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"calbuffer/internal/logging"
	"calbuffer/internal/metrics"
	"calbuffer/internal/models"
	"calbuffer/internal/state"
)

// Calendar is the calendar store the reconciler drives.
type Calendar interface {
	// ListEvents returns every timed event overlapping [start, end).
	ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error)
	// CreateEvent inserts an event, including its color, and returns it.
	CreateEvent(ctx context.Context, ev models.NewEvent) (models.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Options are the fixed rules of the reconciler.
type Options struct {
	AllowedOrganizers []string
	MinDuration       time.Duration
	PreWindow         time.Duration
	PostWindow        time.Duration
	ScanLookback      time.Duration
	ScanLookahead     time.Duration
	PreColor          models.ColorID
	PostColor         models.ColorID
}

// DefaultOptions returns the stock rules with an empty allow-list.
func DefaultOptions() Options {
	return Options{
		MinDuration:   40 * time.Minute,
		PreWindow:     60 * time.Minute,
		PostWindow:    30 * time.Minute,
		ScanLookback:  60 * time.Minute,
		ScanLookahead: 90 * 24 * time.Hour,
		PreColor:      models.ColorTomato,
		PostColor:     models.ColorGrape,
	}
}

// Report summarizes one cycle.
type Report struct {
	Scanned   int // events in the scan window
	Processed int // qualifying main events handled
	Skipped   int // non-buffer events that did not qualify
	Created   int
	Deleted   int
}

// Reconciler runs reconciliation cycles against one calendar.
type Reconciler struct {
	logger  *slog.Logger
	cal     Calendar
	props   state.Store
	opts    Options
	allowed map[string]bool
	metrics *metrics.Metrics
}

// New creates a Reconciler. m may be nil.
func New(logger *slog.Logger, cal Calendar, props state.Store, opts Options, m *metrics.Metrics) *Reconciler {
	allowed := make(map[string]bool, len(opts.AllowedOrganizers))
	for _, o := range opts.AllowedOrganizers {
		allowed[strings.ToLower(strings.TrimSpace(o))] = true
	}
	return &Reconciler{
		logger:  logger,
		cal:     cal,
		props:   props,
		opts:    opts,
		allowed: allowed,
		metrics: m,
	}
}

var bufferKinds = []models.Kind{models.KindPre, models.KindPost}

// window is a half-open time range [Start, End).
type window struct {
	Start, End time.Time
}

func (w window) overlaps(start, end time.Time) bool {
	return end.After(w.Start) && start.Before(w.End)
}

func (r *Reconciler) scanWindow(now time.Time) window {
	return window{Start: now.Add(-r.opts.ScanLookback), End: now.Add(r.opts.ScanLookahead)}
}

// RunCycle performs one reconciliation pass relative to now.
// Any store error aborts the cycle and is returned.
func (r *Reconciler) RunCycle(ctx context.Context, now time.Time) (rep Report, err error) {
	began := time.Now()
	defer func() { r.metrics.ObserveCycle(time.Since(began), err) }()

	scan := r.scanWindow(now)
	logger := logging.WithOperation(r.logger, "run_cycle")
	logger.Debug("Starting cycle.", "from", scan.Start, "to", scan.End)

	events, err := r.cal.ListEvents(ctx, scan.Start, scan.End)
	if err != nil {
		return rep, fmt.Errorf("failed to list events: %w", err)
	}
	rep.Scanned = len(events)

	classified := models.ClassifyAll(events)
	live := make(map[string]bool)
	titles := newTitleIndex(scan)
	for _, c := range classified {
		titles.add(c.Event)
		if !c.IsBuffer() {
			live[c.Title] = true
		}
	}

	for _, c := range classified {
		if c.IsBuffer() {
			continue
		}
		ok, err := r.qualifies(c.Event)
		if err != nil {
			return rep, err
		}
		if !ok {
			rep.Skipped++
			continue
		}
		rep.Processed++
		if err := r.reconcileMain(ctx, c.Event, scan, titles, &rep); err != nil {
			return rep, err
		}
	}

	if err := r.cleanUpOrphans(ctx, live, scan, now, &rep); err != nil {
		return rep, err
	}

	logger.Info("Cycle finished.",
		"scanned", rep.Scanned,
		"processed", rep.Processed,
		"created", rep.Created,
		"deleted", rep.Deleted,
	)
	return rep, nil
}

// qualifies applies the duration, organizer and soft-delete rules.
func (r *Reconciler) qualifies(ev models.Event) (bool, error) {
	if ev.Duration() < r.opts.MinDuration {
		r.logger.Debug("Skipping short event.", logging.EventID(ev.ID), "duration", ev.Duration())
		return false, nil
	}
	if !r.allowed[strings.ToLower(ev.Creator)] {
		r.logger.Debug("Skipping event from organizer not on the allow-list.", logging.EventID(ev.ID), logging.Creator(ev.Creator))
		return false, nil
	}
	ignored, err := state.IsIgnored(r.props, ev.ID)
	if err != nil {
		return false, fmt.Errorf("failed to read soft-delete marker for %s: %w", ev.ID, err)
	}
	if ignored {
		r.logger.Debug("Skipping ignored event.", logging.EventID(ev.ID))
		return false, nil
	}
	return true, nil
}

// reconcileMain brings the buffers of one qualifying main event up to date.
func (r *Reconciler) reconcileMain(ctx context.Context, ev models.Event, scan window, titles *titleIndex, rep *Report) error {
	key := state.StampKey(ev.ID)
	stamp := state.FormatStamp(ev.StartTime, ev.EndTime)

	stored, tracked, err := r.props.Get(key)
	if err != nil {
		return fmt.Errorf("failed to read tracked state for %s: %w", ev.ID, err)
	}

	present := map[models.Kind]bool{
		models.KindPre:  titles.has(models.KindPre.BufferTitle(ev.Title)),
		models.KindPost: titles.has(models.KindPost.BufferTitle(ev.Title)),
	}

	switch {
	case !tracked:
		r.logger.Info("New event found.", logging.EventID(ev.ID), logging.Title(ev.Title))
		for _, kind := range bufferKinds {
			if present[kind] {
				continue
			}
			if err := r.createBuffer(ctx, ev, kind, titles, rep); err != nil {
				return err
			}
		}

	case stored != stamp:
		r.logger.Info("Event moved, rebuilding buffers.", logging.EventID(ev.ID), logging.Title(ev.Title), previousRange(stored), "now_start", ev.StartTime, "now_end", ev.EndTime)
		if err := r.removeOldBuffers(ctx, ev.Title, scan, metrics.ReasonRebuild, titles, rep); err != nil {
			return err
		}
		for _, kind := range bufferKinds {
			if err := r.createBuffer(ctx, ev, kind, titles, rep); err != nil {
				return err
			}
		}

	default:
		if present[models.KindPre] && present[models.KindPost] {
			return nil
		}
		for _, kind := range bufferKinds {
			if present[kind] {
				continue
			}
			r.logger.Info("Buffer missing, recreating.", logging.EventID(ev.ID), logging.Title(ev.Title), logging.Kind(kind.String()))
			if err := r.removeOldBuffers(ctx, ev.Title, scan, metrics.ReasonRepair, titles, rep, kind); err != nil {
				return err
			}
			if err := r.createBuffer(ctx, ev, kind, titles, rep); err != nil {
				return err
			}
		}
		return nil
	}

	if err := r.props.Set(key, stamp); err != nil {
		return fmt.Errorf("failed to save tracked state for %s: %w", ev.ID, err)
	}
	return nil
}

// bufferEvent describes the buffer of the given kind for main.
func (r *Reconciler) bufferEvent(main models.Event, kind models.Kind) models.NewEvent {
	if kind == models.KindPre {
		return models.NewEvent{
			Title:       kind.BufferTitle(main.Title),
			Description: "Preparation time for " + main.Title,
			StartTime:   main.StartTime.Add(-r.opts.PreWindow),
			EndTime:     main.StartTime,
			ColorID:     r.opts.PreColor,
		}
	}
	return models.NewEvent{
		Title:       kind.BufferTitle(main.Title),
		Description: "Wrap-up time for " + main.Title,
		StartTime:   main.EndTime,
		EndTime:     main.EndTime.Add(r.opts.PostWindow),
		ColorID:     r.opts.PostColor,
	}
}

// createBuffer creates the buffer of the given kind unless an event with the
// exact buffer title already sits in the buffer's own window. That narrow
// check is authoritative: if it finds a match, nothing is created even when
// the scan-window check said the buffer was missing.
func (r *Reconciler) createBuffer(ctx context.Context, main models.Event, kind models.Kind, titles *titleIndex, rep *Report) error {
	ne := r.bufferEvent(main, kind)

	existing, err := r.cal.ListEvents(ctx, ne.StartTime, ne.EndTime)
	if err != nil {
		return fmt.Errorf("failed to list events around %q: %w", ne.Title, err)
	}
	for _, e := range existing {
		if e.Title == ne.Title {
			r.logger.Debug("Buffer already present.", logging.Title(ne.Title), logging.EventID(e.ID))
			return nil
		}
	}

	created, err := r.cal.CreateEvent(ctx, ne)
	if err != nil {
		return fmt.Errorf("failed to create %s buffer for %q: %w", kind, main.Title, err)
	}
	titles.add(created)
	rep.Created++
	r.metrics.BufferCreated(kind.String())
	r.logger.Info("Created buffer.", logging.Kind(kind.String()), logging.Title(created.Title), logging.EventID(created.ID),
		"start", created.StartTime, "end", created.EndTime)
	return nil
}

// removeOldBuffers deletes every event in w titled as a buffer of mainTitle.
// With no kinds given both Pre and Post buffers are removed.
func (r *Reconciler) removeOldBuffers(ctx context.Context, mainTitle string, w window, reason string, titles *titleIndex, rep *Report, kinds ...models.Kind) error {
	if len(kinds) == 0 {
		kinds = bufferKinds
	}
	targets := make(map[string]models.Kind, len(kinds))
	for _, k := range kinds {
		targets[k.BufferTitle(mainTitle)] = k
	}

	events, err := r.cal.ListEvents(ctx, w.Start, w.End)
	if err != nil {
		return fmt.Errorf("failed to list buffers of %q: %w", mainTitle, err)
	}
	for _, e := range events {
		kind, ok := targets[e.Title]
		if !ok {
			continue
		}
		if err := r.deleteBuffer(ctx, e, kind, reason, titles, rep); err != nil {
			return err
		}
	}
	return nil
}

// cleanUpOrphans deletes buffers whose main title no longer appears in the
// scan window. Post buffers that have already ended are left alone.
func (r *Reconciler) cleanUpOrphans(ctx context.Context, live map[string]bool, scan window, now time.Time, rep *Report) error {
	events, err := r.cal.ListEvents(ctx, scan.Start, scan.End)
	if err != nil {
		return fmt.Errorf("failed to list events for orphan cleanup: %w", err)
	}
	for _, c := range models.ClassifyAll(events) {
		if !c.IsBuffer() {
			continue
		}
		if c.Kind == models.KindPost && !c.EndTime.After(now) {
			continue
		}
		if live[c.MainTitle] {
			continue
		}
		if err := r.deleteBuffer(ctx, c.Event, c.Kind, metrics.ReasonOrphan, nil, rep); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) deleteBuffer(ctx context.Context, ev models.Event, kind models.Kind, reason string, titles *titleIndex, rep *Report) error {
	if err := r.cal.DeleteEvent(ctx, ev.ID); err != nil {
		return fmt.Errorf("failed to delete %q (%s): %w", ev.Title, ev.ID, err)
	}
	titles.remove(ev)
	rep.Deleted++
	r.metrics.BufferDeleted(kind.String(), reason)
	r.logger.Info("Deleted buffer.", logging.Kind(kind.String()), logging.Title(ev.Title), logging.EventID(ev.ID), "reason", reason)
	return nil
}

// titleIndex counts events per title inside the scan window and is kept
// current as the cycle creates and deletes events.
type titleIndex struct {
	scan   window
	counts map[string]int
	ids    map[string]bool
}

func newTitleIndex(scan window) *titleIndex {
	return &titleIndex{scan: scan, counts: make(map[string]int), ids: make(map[string]bool)}
}

func (t *titleIndex) add(ev models.Event) {
	if t.ids[ev.ID] || !t.scan.overlaps(ev.StartTime, ev.EndTime) {
		return
	}
	t.ids[ev.ID] = true
	t.counts[ev.Title]++
}

func (t *titleIndex) remove(ev models.Event) {
	if t == nil || !t.ids[ev.ID] {
		return
	}
	delete(t.ids, ev.ID)
	t.counts[ev.Title]--
}

func (t *titleIndex) has(title string) bool {
	return t.counts[title] > 0
}

// previousRange renders a stored stamp for logging, falling back to the raw
// value when it does not parse.
func previousRange(stored string) slog.Attr {
	start, end, err := state.ParseStamp(stored)
	if err != nil {
		return slog.String("was", stored)
	}
	return slog.Group("was", slog.Time("start", start.UTC()), slog.Time("end", end.UTC()))
}
