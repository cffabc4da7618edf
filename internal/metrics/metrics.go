// Package metrics exposes scheduler counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mtfcascade/internal/service"
)

// Prometheus implements service.Metrics on its own registry so several instances can live
// in one process (tests).
type Prometheus struct {
	registry *prometheus.Registry

	cascades   *prometheus.CounterVec
	routes     *prometheus.CounterVec
	lifecycle  *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	contention *prometheus.CounterVec
	cycles     *prometheus.HistogramVec
	processed  *prometheus.CounterVec
}

var _ service.Metrics = (*Prometheus)(nil)

func New() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		cascades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_cascade_results_total",
			Help: "Cascade runs by final status and reason code",
		}, []string{"status", "reason"}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_route_transitions_total",
			Help: "Evaluation outcomes applied to the eligibility state machine",
		}, []string{"timeframe", "outcome"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_lifecycle_events_total",
			Help: "Position and order events by kind and whether they changed state",
		}, []string{"kind", "applied"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_duplicate_events_total",
			Help: "Events dropped by the dedup guard",
		}, []string{"source"}),
		contention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_run_lock_contended_total",
			Help: "Cycles that found the run lock held",
		}, []string{"key"}),
		cycles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mtf_cycle_duration_seconds",
			Help:    "Eligibility cycle wall time",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"timeframe", "status"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_cycle_symbols_total",
			Help: "Symbols processed by cycles",
		}, []string{"timeframe", "result"}),
	}
	m.registry.MustRegister(
		m.cascades, m.routes, m.lifecycle, m.duplicates, m.contention, m.cycles, m.processed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Prometheus) Registry() *prometheus.Registry { return m.registry }

// Handler serves /metrics.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Prometheus) CascadeFinished(status, reason string) {
	m.cascades.WithLabelValues(status, ReasonLabel(reason)).Inc()
}

func (m *Prometheus) RouteApplied(timeframe, outcome string) {
	m.routes.WithLabelValues(timeframe, outcome).Inc()
}

func (m *Prometheus) LifecycleApplied(kind string, applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	m.lifecycle.WithLabelValues(kind, label).Inc()
}

func (m *Prometheus) DuplicateEvent(source string) {
	m.duplicates.WithLabelValues(source).Inc()
}

func (m *Prometheus) LockContended(key string) {
	m.contention.WithLabelValues(key).Inc()
}

func (m *Prometheus) CycleFinished(timeframe, status string, took time.Duration) {
	m.cycles.WithLabelValues(timeframe, status).Observe(took.Seconds())
}

// OnProgress is a service.ProgressFunc.
func (m *Prometheus) OnProgress(ev service.ProgressEvent) {
	m.processed.WithLabelValues(ev.Timeframe.String(), ev.Result).Inc()
}

// ReasonLabel strips the variable part of a reason code so label cardinality stays bounded:
// "LONG_FAILED(rsi,ema)|SHORT_NOT_CONFIGURED" becomes "LONG_FAILED".
func ReasonLabel(reason string) string {
	if i := strings.IndexAny(reason, "(|"); i >= 0 {
		reason = reason[:i]
	}
	if reason == "" {
		return "none"
	}
	return reason
}
