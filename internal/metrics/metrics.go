// Package metrics exposes Prometheus counters for reconciliation cycles and
// the buffer events they create and delete.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "calbuffer"

// Cycle statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Deletion reasons.
const (
	ReasonRebuild     = "rebuild"
	ReasonRepair      = "repair"
	ReasonOrphan      = "orphan"
	ReasonMaintenance = "maintenance"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	buffersCreated *prometheus.CounterVec
	buffersDeleted *prometheus.CounterVec
	lastSuccess    prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles run, by status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reconciliation cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		buffersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_created_total",
			Help:      "Buffer events created, by kind.",
		}, []string{"kind"}),
		buffersDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_deleted_total",
			Help:      "Buffer events deleted, by kind and reason.",
		}, []string{"kind", "reason"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
	}
	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.buffersCreated,
		m.buffersDeleted,
		m.lastSuccess,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	if err != nil {
		m.cycles.WithLabelValues(StatusError).Inc()
		return
	}
	m.cycles.WithLabelValues(StatusSuccess).Inc()
	m.lastSuccess.SetToCurrentTime()
}

func (m *Metrics) BufferCreated(kind string) {
	if m == nil {
		return
	}
	m.buffersCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) BufferDeleted(kind, reason string) {
	if m == nil {
		return
	}
	m.buffersDeleted.WithLabelValues(kind, reason).Inc()
}
