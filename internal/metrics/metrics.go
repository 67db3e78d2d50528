package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "closeline"

// Call results.
const (
	ResultApplied  = "applied"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds the ledger host collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	apps        prometheus.Gauge
	events      *prometheus.CounterVec
	streams     prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Application calls by action and result",
			},
			[]string{"action", "result"},
		),
		callLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Time to apply and persist one call",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"action"},
		),
		apps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "apps",
				Help:      "Agreement instances known to the host",
			},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Committed events by type",
			},
			[]string{"type"},
		),
		streams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_streams",
				Help:      "Open event stream connections",
			},
		),
	}
	registry.MustRegister(
		m.calls, m.callLatency, m.apps, m.events, m.streams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveCall(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(action, result).Inc()
	m.callLatency.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) SetApps(n int) {
	if m == nil {
		return
	}
	m.apps.Set(float64(n))
}

func (m *Metrics) IncApps() {
	if m == nil {
		return
	}
	m.apps.Inc()
}

func (m *Metrics) ObserveEvent(typ string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streams.Dec()
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
