// Package metrics records import attempt outcomes and orchestrator
// decisions, either as Prometheus collectors or as process-local expvars.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termsync/internal/async"
)

const namespace = "termsync"

// Outcome labels of finished attempts.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Prometheus registers the termsync collectors on a private registry.
type Prometheus struct {
	registry  *prometheus.Registry
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inflight  prometheus.Gauge
	decisions *prometheus.CounterVec
}

var _ async.Observer = (*Prometheus)(nil)

// NewPrometheus builds the collectors together with the process and Go
// runtime collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "import",
				Name:      "attempts_total",
				Help:      "Finished import attempts by terminology and outcome.",
			},
			[]string{"terminology", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "import",
				Name:      "attempt_duration_seconds",
				Help:      "Wall time of import attempts.",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68m
			},
			[]string{"terminology"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "import",
				Name:      "attempts_inflight",
				Help:      "Import attempts currently running.",
			},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "import",
				Name:      "decisions_total",
				Help:      "Update requests by terminology and decision.",
			},
			[]string{"terminology", "decision"},
		),
	}
	p.registry.MustRegister(
		p.attempts,
		p.duration,
		p.inflight,
		p.decisions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return p
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// TaskStarted implements async.Observer.
func (p *Prometheus) TaskStarted(async.Event) { p.inflight.Inc() }

// TaskFinished implements async.Observer.
func (p *Prometheus) TaskFinished(e async.Event) {
	p.inflight.Dec()
	p.attempts.WithLabelValues(e.Terminology, outcome(e.Err)).Inc()
	p.duration.WithLabelValues(e.Terminology).Observe(e.Duration.Seconds())
}

// RecordDecision counts one update decision.
func (p *Prometheus) RecordDecision(terminology, decision string) {
	p.decisions.WithLabelValues(terminology, decision).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
