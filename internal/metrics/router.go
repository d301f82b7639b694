package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/fleetmesh/internal/model"
)

// RouterMetrics implements internal/llmrouter.Metrics, recording which
// backend each request was routed to and why, so an operator can tell a
// VRAM-pressure degrade apart from a breaker-driven fallback in the same
// dashboard the Health Hub's metrics feed.
type RouterMetrics struct {
	decisions *prometheus.CounterVec
}

// NewRouterMetrics registers its collector against reg.
func NewRouterMetrics(reg *prometheus.Registry) *RouterMetrics {
	m := &RouterMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetmesh",
			Subsystem: "llmrouter",
			Name:      "route_decisions_total",
			Help:      "Count of hybrid LLM routing decisions by backend and reason.",
		}, []string{"backend", "reason"}),
	}
	reg.MustRegister(m.decisions)
	return m
}

// ObserveDecision satisfies internal/llmrouter.Metrics.
func (m *RouterMetrics) ObserveDecision(backend string, reason model.RouteReason) {
	m.decisions.WithLabelValues(backend, string(reason)).Inc()
}
