// Package metrics exposes Prometheus instrumentation for the plugin host.
//
// All methods are safe on a nil *Metrics, so components can be constructed
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omnitak_plugin"

// Metrics holds the host's collectors.
type Metrics struct {
	transitions      *prometheus.CounterVec
	permissionDenied *prometheus.CounterVec
	operations       *prometheus.CounterVec
	networkLatency   prometheus.Histogram
}

// New creates the collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Plugin lifecycle transitions by target state.",
		}, []string{"state"}),
		permissionDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_denied_total",
			Help:      "Manager operations rejected for a missing permission.",
		}, []string{"permission"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Authorized capability manager operations.",
		}, []string{"manager", "operation"}),
		networkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "network_request_seconds",
			Help:      "Latency of plugin network requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.transitions, m.permissionDenied, m.operations, m.networkLatency)
	}
	return m
}

// Transition records a lifecycle transition into state.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// PermissionDenied records a denied operation.
func (m *Metrics) PermissionDenied(permission string) {
	if m == nil {
		return
	}
	m.permissionDenied.WithLabelValues(permission).Inc()
}

// Operation records an authorized manager operation.
func (m *Metrics) Operation(manager, operation string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(manager, operation).Inc()
}

// NetworkRequest records the duration of a network request.
func (m *Metrics) NetworkRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.networkLatency.Observe(d.Seconds())
}

// Handler returns an HTTP handler serving the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
