// Package schedule runs the reconciliation job on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"calbuffer/internal/logging"
)

// Scheduler owns a cron runner holding at most one job.
// Jobs are wrapped with Recover and SkipIfStillRunning, so a slow run is
// never overlapped by the next tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu sync.Mutex
}

func New(logger *slog.Logger) *Scheduler {
	cl := logging.NewCronLogger(logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Ensure replaces every registered job with exactly one job running fn on spec.
func (s *Scheduler) Ensure(spec string, fn func()) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	removed := 0
	for _, e := range s.cron.Entries() {
		s.cron.Remove(e.ID)
		removed++
	}

	id := s.cron.Schedule(sched, cron.FuncJob(fn))
	s.logger.Info("Schedule set.", "spec", spec, "replaced", removed)
	return id, nil
}

// Entries returns the registered jobs.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running job, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
