package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments for the batch subsystem.  A nil
// *Metrics is valid and turns every recording call into a no-op, which keeps
// tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	DatesAnalyzed       prometheus.Counter
	UnitFailures        prometheus.Counter
	MalformedLines      prometheus.Counter
	FallbackActivations prometheus.Counter
	SelectionsOpened    prometheus.Counter
	SelectionsResolved  prometheus.Counter
	ActiveRuns          prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		DatesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vd_batch_dates_analyzed_total",
			Help: "Number of dates accounted for across all batch runs",
		}),
		UnitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vd_batch_unit_failures_total",
			Help: "Number of per-date analysis requests that failed",
		}),
		MalformedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vd_batch_malformed_stream_lines_total",
			Help: "Number of NDJSON lines that failed to parse and were skipped",
		}),
		FallbackActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vd_batch_fallback_activations_total",
			Help: "Number of runs that degraded from streaming to per-date requests",
		}),
		SelectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vd_selection_cases_opened_total",
			Help: "Number of selection cases opened for human adjudication",
		}),
		SelectionsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vd_selection_cases_resolved_total",
			Help: "Number of selection cases resolved or skipped",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vd_batch_active_runs",
			Help: "Number of batch runs currently in progress",
		}),
	}

	registry.MustRegister(
		m.DatesAnalyzed,
		m.UnitFailures,
		m.MalformedLines,
		m.FallbackActivations,
		m.SelectionsOpened,
		m.SelectionsResolved,
		m.ActiveRuns,
	)
	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MarkDatesAnalyzed records n dates reaching a terminal outcome.
func (m *Metrics) MarkDatesAnalyzed(n int) {
	if m == nil {
		return
	}
	m.DatesAnalyzed.Add(float64(n))
}

// MarkUnitFailure records one failed per-date request.
func (m *Metrics) MarkUnitFailure() {
	if m == nil {
		return
	}
	m.UnitFailures.Inc()
}

// MarkMalformedLine records one skipped NDJSON line.
func (m *Metrics) MarkMalformedLine() {
	if m == nil {
		return
	}
	m.MalformedLines.Inc()
}

// MarkFallback records one streaming-to-wave degrade.
func (m *Metrics) MarkFallback() {
	if m == nil {
		return
	}
	m.FallbackActivations.Inc()
}

// MarkSelectionOpened records one new selection case.
func (m *Metrics) MarkSelectionOpened() {
	if m == nil {
		return
	}
	m.SelectionsOpened.Inc()
}

// MarkSelectionResolved records one resolved or skipped selection case.
func (m *Metrics) MarkSelectionResolved() {
	if m == nil {
		return
	}
	m.SelectionsResolved.Inc()
}

// RunStarted bumps the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished drops the active run gauge.
func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}
