// Package telemetry exposes the pipeline's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every metric the pipeline records. All record helpers are
// nil-safe so components can run without telemetry wired.
type Metrics struct {
	IngestTotal          *prometheus.CounterVec
	AdapterFetchSeconds  *prometheus.HistogramVec
	ValuationsTotal      prometheus.Counter
	EventsPublishedTotal *prometheus.CounterVec
	RecalcJobsTotal      *prometheus.CounterVec
}

// New registers the metrics with the default Prometheus registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with the given registerer. Tests pass
// a private registry to avoid duplicate-registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealbrain_ingest_total",
				Help: "Total ingest attempts by adapter and outcome",
			},
			[]string{"adapter", "outcome"},
		),

		AdapterFetchSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealbrain_adapter_fetch_seconds",
				Help:    "Duration of adapter extract calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"adapter"},
		),

		ValuationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dealbrain_valuations_total",
				Help: "Total valuation passes executed",
			},
		),

		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealbrain_events_published_total",
				Help: "Total events published by type and outcome",
			},
			[]string{"type", "outcome"},
		),

		RecalcJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealbrain_recalc_jobs_total",
				Help: "Total recalculation jobs enqueued by reason",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(
		m.IngestTotal,
		m.AdapterFetchSeconds,
		m.ValuationsTotal,
		m.EventsPublishedTotal,
		m.RecalcJobsTotal,
	)
	return m
}

// RecordIngest counts one ingest attempt.
func (m *Metrics) RecordIngest(adapter, outcome string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(adapter, outcome).Inc()
}

// ObserveFetch records the duration of one adapter extract call.
func (m *Metrics) ObserveFetch(adapter string, d time.Duration) {
	if m == nil {
		return
	}
	m.AdapterFetchSeconds.WithLabelValues(adapter).Observe(d.Seconds())
}

// RecordValuation counts one completed valuation pass.
func (m *Metrics) RecordValuation() {
	if m == nil {
		return
	}
	m.ValuationsTotal.Inc()
}

// RecordEvent counts one publish attempt.
func (m *Metrics) RecordEvent(eventType string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordRecalcJobs counts n enqueued recalculation jobs for a reason.
func (m *Metrics) RecordRecalcJobs(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecalcJobsTotal.WithLabelValues(reason).Add(float64(n))
}
