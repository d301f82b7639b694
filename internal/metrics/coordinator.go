package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/fleetmesh/internal/model"
)

// CoordinatorMetrics implements internal/coordinator.Metrics, translating
// each model.MetricEvent the pipeline emits into the matching Prometheus
// collector keyed by the event's kind/target/outcome tags.
type CoordinatorMetrics struct {
	classificationLatency *prometheus.HistogramVec
	dispatchLatency       *prometheus.HistogramVec
	attempts              *prometheus.HistogramVec
	outcomes              *prometheus.CounterVec
}

// NewCoordinatorMetrics registers its collectors against reg.
func NewCoordinatorMetrics(reg *prometheus.Registry) *CoordinatorMetrics {
	labels := []string{"kind", "target", "outcome"}
	m := &CoordinatorMetrics{
		classificationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetmesh",
			Subsystem: "coordinator",
			Name:      "classification_latency_seconds",
			Help:      "Time spent in the coordinator's classify stage.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetmesh",
			Subsystem: "coordinator",
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent dispatching a request to its resolved target.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetmesh",
			Subsystem: "coordinator",
			Name:      "dispatch_attempts",
			Help:      "Number of RPC attempts made across every target tried for a request.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, labels),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetmesh",
			Subsystem: "coordinator",
			Name:      "requests_total",
			Help:      "Count of pipeline completions by kind, target, and outcome.",
		}, labels),
	}
	reg.MustRegister(m.classificationLatency, m.dispatchLatency, m.attempts, m.outcomes)
	return m
}

// Observe satisfies internal/coordinator.Metrics.
func (m *CoordinatorMetrics) Observe(event model.MetricEvent) {
	kind := event.Tags["kind"]
	target := event.Tags["target"]
	outcome := event.Tags["outcome"]

	switch event.Name {
	case "classification_latency":
		m.classificationLatency.WithLabelValues(kind, target, outcome).Observe(event.Value)
	case "dispatch_latency":
		m.dispatchLatency.WithLabelValues(kind, target, outcome).Observe(event.Value)
	case "attempts":
		m.attempts.WithLabelValues(kind, target, outcome).Observe(event.Value)
	case "outcome":
		m.outcomes.WithLabelValues(kind, target, outcome).Inc()
	}
}
