// Package metrics exposes Prometheus counters for tool calls and the browser
// session lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "browsr"

// Tool call results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the collectors registered on one registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	sessionOpen     prometheus.Gauge
	idleCloses      prometheus.Counter
	driverDownloads prometheus.Counter
}

// New registers the collectors, plus Go runtime and process collectors, on
// a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and result.",
		}, []string{"tool", "result"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation latency, including the settle delay and screenshot.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tool"}),
		sessionOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_open",
			Help:      "1 while a browser session is open.",
		}),
		idleCloses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_closes_total",
			Help:      "Browser sessions closed by the idle monitor.",
		}),
		driverDownloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_downloads_total",
			Help:      "Driver archives downloaded into the cache.",
		}),
	}
}

// ObserveTool records one tool call.
func (m *Metrics) ObserveTool(tool string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.toolCalls.WithLabelValues(tool, result).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// SetSessionOpen updates the open-session gauge.
func (m *Metrics) SetSessionOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.sessionOpen.Set(1)
	} else {
		m.sessionOpen.Set(0)
	}
}

func (m *Metrics) IdleClosed() {
	if m == nil {
		return
	}
	m.idleCloses.Inc()
}

// DriverDownloaded matches the driver cache download hook.
func (m *Metrics) DriverDownloaded(string) {
	if m == nil {
		return
	}
	m.driverDownloads.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
