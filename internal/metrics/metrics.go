// Package metrics exposes repo counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docsync"

// Metrics holds the collectors a repo updates.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesSent       *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	MessagesDropped    prometheus.Counter
	ProtocolViolations prometheus.Counter
	ChangesCommitted   prometheus.Counter
	ChangesApplied     prometheus.Counter
	StorageErrors      *prometheus.CounterVec
	StorageDuration    *prometheus.HistogramVec
	Peers              prometheus.Gauge
	Handles            *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry, so
// several repos in one process do not collide.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Sync messages queued to peers, by type",
		}, []string{"type"}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Sync messages received from peers, by type",
		}, []string{"type"}),
		MessagesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because a peer's send queue was full",
		}),
		ProtocolViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Malformed or unexpected messages from peers",
		}),
		ChangesCommitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_committed_total",
			Help:      "Changes produced by local edits",
		}),
		ChangesApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "Changes received from peers and applied",
		}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Failed storage operations, by operation",
		}, []string{"op"}),
		StorageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_duration_seconds",
			Help:      "Duration of storage operations",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		Peers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Connected peers",
		}),
		Handles: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handles",
			Help:      "Document handles, by state",
		}, []string{"state"}),
	}
}

// ObserveStorage starts a timer for a storage operation. Call the result
// with the operation's error.
func (m *Metrics) ObserveStorage(op string) func(error) {
	timer := prometheus.NewTimer(m.StorageDuration.WithLabelValues(op))

	return func(err error) {
		timer.ObserveDuration()

		if err != nil {
			m.StorageErrors.WithLabelValues(op).Inc()
		}
	}
}

// Transition moves one handle between state gauges. An empty from counts a
// new handle; an empty to counts a removed one.
func (m *Metrics) Transition(from, to string) {
	if from != "" {
		m.Handles.WithLabelValues(from).Dec()
	}

	if to != "" {
		m.Handles.WithLabelValues(to).Inc()
	}
}
