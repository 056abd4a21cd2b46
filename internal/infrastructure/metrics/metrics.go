// Package metrics holds the Prometheus collectors shared by HiveLink components.
//
// Collectors live on a private registry so tests can create as many
// instances as they need. Every method is safe to call on a nil *Metrics,
// which is how components run with metrics disabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hivelink"

// Metrics bundles the registry and all collectors.
type Metrics struct {
	registry *prometheus.Registry

	queueDepth     prometheus.Gauge
	handled        *prometheus.CounterVec   // action, status
	handleDuration *prometheus.HistogramVec // action
	rejected       prometheus.Counter

	pendingCalls  prometheus.Gauge
	callTimeouts  prometheus.Counter
	lateResponses prometheus.Counter

	subscribers prometheus.Gauge

	bridgeSessions prometheus.Gauge

	httpRequests *prometheus.CounterVec   // method, route, code
	httpDuration *prometheus.HistogramVec // route
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Requests waiting in the dispatch ring",
		}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Requests handled by action and response status",
		}, []string{"action", "status"}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handle_duration_seconds",
			Help:      "Handler latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"action"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "rejected_total",
			Help:      "Requests refused because the engine was stopping",
		}),

		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "pending_calls",
			Help:      "Calls awaiting a response",
		}),
		callTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_timeouts_total",
			Help:      "Calls completed by timeout",
		}),
		lateResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "late_responses_total",
			Help:      "Responses dropped because no call or listener matched",
		}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "subscriptions",
			Help:      "Subscriptions held in the local filter registry",
		}),

		bridgeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "sessions",
			Help:      "Open bridge gateway sessions",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP handler latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.queueDepth, m.handled, m.handleDuration, m.rejected,
		m.pendingCalls, m.callTimeouts, m.lateResponses,
		m.subscribers, m.bridgeSessions,
		m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetQueueDepth records the current dispatch ring occupancy.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveHandled records a completed request.
func (m *Metrics) ObserveHandled(action string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(action, statusLabel(status)).Inc()
	m.handleDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// IncRejected counts a request refused during shutdown.
func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// AddPendingCalls adjusts the pending call gauge by delta.
func (m *Metrics) AddPendingCalls(delta int) {
	if m == nil {
		return
	}
	m.pendingCalls.Add(float64(delta))
}

// IncCallTimeouts counts a call completed by its timer.
func (m *Metrics) IncCallTimeouts() {
	if m == nil {
		return
	}
	m.callTimeouts.Inc()
}

// IncLateResponses counts a response with no matching call or listener.
func (m *Metrics) IncLateResponses() {
	if m == nil {
		return
	}
	m.lateResponses.Inc()
}

// SetSubscriptions records the registry size.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// AddBridgeSessions adjusts the open session gauge by delta.
func (m *Metrics) AddBridgeSessions(delta int) {
	if m == nil {
		return
	}
	m.bridgeSessions.Add(float64(delta))
}

// ObserveHTTP records a served HTTP request. route is the router
// pattern, not the raw path, so ids do not become labels.
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// statusLabel buckets response codes to keep label cardinality small.
func statusLabel(status int) string {
	switch {
	case status == 0:
		return "ok"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "other"
	}
}
