// Package metrics exposes benchmark measurements as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kev-ang/ruben/internal/benchmark"
)

const classificationOK = "ok"

var _ benchmark.Observer = (*Recorder)(nil)

// Recorder records query outcomes and phase timings.
type Recorder struct {
	queryDuration *prometheus.HistogramVec
	queryOutcomes *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	phaseFailures *prometheus.CounterVec
}

// NewRecorder creates a recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ruben_query_duration_seconds",
				Help:    "Elapsed time of query attempts, including timeouts.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
			},
			[]string{"engine", "test_case", "classification"},
		),
		queryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruben_query_outcomes_total",
				Help: "Total number of query attempts by outcome classification.",
			},
			[]string{"engine", "classification"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ruben_phase_duration_seconds",
				Help:    "Duration of test case prepare and materialize phases.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"engine", "phase"},
		),
		phaseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruben_phase_failures_total",
				Help: "Total number of failed prepare and materialize phases.",
			},
			[]string{"engine", "phase"},
		),
	}
	reg.MustRegister(r.queryDuration, r.queryOutcomes, r.phaseDuration, r.phaseFailures)
	return r
}

// ObserveQuery records one query attempt.
func (r *Recorder) ObserveQuery(engine, testCase string, o benchmark.QueryOutcome) {
	class := string(o.Classification)
	if o.Succeeded() {
		class = classificationOK
	}
	r.queryDuration.WithLabelValues(engine, testCase, class).Observe(o.Elapsed.Seconds())
	r.queryOutcomes.WithLabelValues(engine, class).Inc()
}

// ObservePhase records a prepare or materialize phase.
func (r *Recorder) ObservePhase(engine, _ string, phase string, d time.Duration, err error) {
	r.phaseDuration.WithLabelValues(engine, phase).Observe(d.Seconds())
	if err != nil {
		r.phaseFailures.WithLabelValues(engine, phase).Inc()
	}
}

// Handler returns the Prometheus metrics handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
