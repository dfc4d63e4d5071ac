package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbuffer/internal/logging"
)

func TestEnsureKeepsSingleEntry(t *testing.T) {
	s := New(logging.Discard())

	for i := 0; i < 3; i++ {
		_, err := s.Ensure("@every 1m", func() {})
		require.NoError(t, err)
		assert.Len(t, s.Entries(), 1)
	}

	first := s.Entries()[0].ID
	_, err := s.Ensure("*/5 * * * *", func() {})
	require.NoError(t, err)
	require.Len(t, s.Entries(), 1)
	assert.NotEqual(t, first, s.Entries()[0].ID)
}

func TestEnsureRejectsBadSpec(t *testing.T) {
	s := New(logging.Discard())
	_, err := s.Ensure("every minute", func() {})
	assert.Error(t, err)
	assert.Empty(t, s.Entries())
}

func TestSchedulerRunsJob(t *testing.T) {
	s := New(logging.Discard())
	var runs atomic.Int32
	_, err := s.Ensure("@every 1s", func() { runs.Add(1) })
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := New(logging.Discard())
	var running, maxRunning atomic.Int32
	release := make(chan struct{})

	_, err := s.Ensure("@every 1s", func() {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		<-release
		running.Add(-1)
	})
	require.NoError(t, err)

	s.Start()
	// let at least two ticks fire while the first run is blocked
	time.Sleep(2500 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(1), maxRunning.Load())
}
