package reconciler

import (
	"context"
	"fmt"
	"time"

	"calbuffer/internal/logging"
	"calbuffer/internal/metrics"
	"calbuffer/internal/models"
	"calbuffer/internal/state"
)

// ClearState wipes every tracked stamp and soft-delete marker.
func (r *Reconciler) ClearState() error {
	if err := r.props.DeleteAll(); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	logging.WithOperation(r.logger, "clear_state").Info("Cleared all tracked state.")
	return nil
}

// ClearBuffers deletes every buffer-titled event between now and the end of
// the lookahead and returns how many were removed.
func (r *Reconciler) ClearBuffers(ctx context.Context, now time.Time) (int, error) {
	events, err := r.cal.ListEvents(ctx, now, now.Add(r.opts.ScanLookahead))
	if err != nil {
		return 0, fmt.Errorf("failed to list events: %w", err)
	}

	var rep Report
	for _, c := range models.ClassifyAll(events) {
		if !c.IsBuffer() {
			continue
		}
		if err := r.deleteBuffer(ctx, c.Event, c.Kind, metrics.ReasonMaintenance, nil, &rep); err != nil {
			return rep.Deleted, err
		}
	}
	logging.WithOperation(r.logger, "clear_buffers").Info("Cleared buffers.", "deleted", rep.Deleted)
	return rep.Deleted, nil
}

// Ignore sets the soft-delete marker so future cycles skip eventID.
func (r *Reconciler) Ignore(eventID string) error {
	if err := r.props.Set(state.DeletedKey(eventID), state.DeletedValue); err != nil {
		return fmt.Errorf("failed to mark %s as ignored: %w", eventID, err)
	}
	logging.WithOperation(r.logger, "ignore").Info("Event ignored.", logging.EventID(eventID))
	return nil
}

// Unignore clears the soft-delete marker of eventID.
func (r *Reconciler) Unignore(eventID string) error {
	if err := r.props.Delete(state.DeletedKey(eventID)); err != nil {
		return fmt.Errorf("failed to clear ignore marker of %s: %w", eventID, err)
	}
	logging.WithOperation(r.logger, "unignore").Info("Event no longer ignored.", logging.EventID(eventID))
	return nil
}
