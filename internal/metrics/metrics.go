// Package metrics exposes Prometheus instrumentation for optimization
// sessions. A nil *Recorder records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tlcopt"

type Recorder struct {
	registry *prometheus.Registry

	sessions     prometheus.Counter
	generations  prometheus.Counter
	evaluations  *prometheus.CounterVec
	violations   prometheus.Counter
	fieldFailure *prometheus.CounterVec
	simulation   prometheus.Histogram
}

// NewRecorder registers all collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Bootstrapped optimization sessions.",
		}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "NEW_GEN commands handled.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Individuals evaluated, by result.",
		}, []string{"result"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Unexpected tokens received from the optimizer.",
		}),
		fieldFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_failures_total",
			Help:      "Task fields rejected during bootstrap.",
		}, []string{"field"}),
		simulation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_seconds",
			Help:      "Wall time of one simulation replication.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	r.registry.MustRegister(
		r.sessions,
		r.generations,
		r.evaluations,
		r.violations,
		r.fieldFailure,
		r.simulation,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) SessionStarted() {
	if r == nil {
		return
	}
	r.sessions.Inc()
}

func (r *Recorder) Generation() {
	if r == nil {
		return
	}
	r.generations.Inc()
}

// Evaluation counts one individual with result "done" or "failed".
func (r *Recorder) Evaluation(result string) {
	if r == nil {
		return
	}
	r.evaluations.WithLabelValues(result).Inc()
}

func (r *Recorder) ProtocolViolation() {
	if r == nil {
		return
	}
	r.violations.Inc()
}

func (r *Recorder) FieldFailure(field string) {
	if r == nil {
		return
	}
	r.fieldFailure.WithLabelValues(field).Inc()
}

func (r *Recorder) ObserveSimulation(d time.Duration) {
	if r == nil {
		return
	}
	r.simulation.Observe(d.Seconds())
}
