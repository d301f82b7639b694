package health

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Hub's Prometheus surface: probe latency, outcome counts,
// and per-target gauge for current state. Scraped via promhttp from
// whichever registry the caller passes to NewMetrics.
type Metrics struct {
	ProbeLatency *prometheus.HistogramVec
	ProbeTotal   *prometheus.CounterVec
	TargetState  *prometheus.GaugeVec
}

// NewMetrics registers the Hub's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry; fleetctl passes the registry built by metrics.NewRegistry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetmesh",
			Subsystem: "health",
			Name:      "probe_latency_seconds",
			Help:      "Latency of health probes by target.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		ProbeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetmesh",
			Subsystem: "health",
			Name:      "probe_total",
			Help:      "Count of health probes by target and outcome.",
		}, []string{"target", "outcome"}),
		TargetState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetmesh",
			Subsystem: "health",
			Name:      "target_state",
			Help:      "Current probe state machine value per target (1=current, else 0), labeled by state.",
		}, []string{"target", "state"}),
	}
	reg.MustRegister(m.ProbeLatency, m.ProbeTotal, m.TargetState)
	return m
}

func (m *Metrics) setState(target string, states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.TargetState.WithLabelValues(target, s).Set(v)
	}
}
