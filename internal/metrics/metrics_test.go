package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbuffer/internal/logging"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCycle(time.Second, nil)
	m.BufferCreated("pre")
	m.BufferDeleted("post", ReasonOrphan)
	assert.Nil(t, m.Registry())
}

func TestObserveCycle(t *testing.T) {
	m := New()
	m.ObserveCycle(100*time.Millisecond, nil)
	m.ObserveCycle(100*time.Millisecond, nil)
	m.ObserveCycle(100*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues(StatusError)))
	assert.Greater(t, testutil.ToFloat64(m.lastSuccess), 0.0)
}

func TestBufferCounters(t *testing.T) {
	m := New()
	m.BufferCreated("pre")
	m.BufferCreated("pre")
	m.BufferCreated("post")
	m.BufferDeleted("post", ReasonRebuild)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.buffersCreated.WithLabelValues("pre")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.buffersCreated.WithLabelValues("post")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.buffersDeleted.WithLabelValues("post", ReasonRebuild)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.buffersDeleted.WithLabelValues("pre", ReasonOrphan)))
}

func TestNewServer(t *testing.T) {
	_, err := NewServer("", New(), logging.Discard())
	assert.Error(t, err)

	_, err = NewServer(":9090", nil, logging.Discard())
	assert.Error(t, err)

	m := New()
	m.BufferCreated("pre")
	s, err := NewServer(":9090", m, logging.Discard())
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `calbuffer_buffers_created_total{kind="pre"} 1`)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
