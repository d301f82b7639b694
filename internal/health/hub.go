package health

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/fleetmesh/internal/bus"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
	"github.com/dreamware/fleetmesh/internal/resilience"
)

// Prober performs one probe against endpoint and returns the agent's
// HealthReport, or an error if the probe itself failed (timeout, connection
// refused). The default implementation speaks the HTTP wire contract every
// agent's health handler serves; tests inject a fake.
type Prober interface {
	Probe(ctx context.Context, endpoint string) (model.HealthReport, error)
}

// Config carries the Hub's tunable thresholds.
type Config struct {
	StartProbeInterval   time.Duration
	SteadyInterval       time.Duration
	StartupGrace         time.Duration
	BackoffInterval      time.Duration
	DegradeThreshold     int
	UnreachableThreshold int
	RecoveryRun          int
	ProbeBudget          time.Duration
	RingBufferSize       int
}

// DefaultConfig returns reasonable defaults, including a 1000ms probe
// budget. Breaker settings are not part of Config: they come from the
// BreakerRegistry passed to New.
func DefaultConfig() Config {
	return Config{
		StartProbeInterval:   200 * time.Millisecond,
		SteadyInterval:       5 * time.Second,
		StartupGrace:         30 * time.Second,
		BackoffInterval:      15 * time.Second,
		DegradeThreshold:     3,
		UnreachableThreshold: 6,
		RecoveryRun:          2,
		ProbeBudget:          time.Second,
		RingBufferSize:       50,
	}
}

// Hub probes every watched agent and maintains its state machine, circuit
// breaker, and metric history.
type Hub struct {
	cfg      Config
	reg      *registry.Registry
	breakers *resilience.BreakerRegistry
	bus      *bus.Bus
	prober   Prober
	metrics  *Metrics

	mu      sync.Mutex
	buffers map[string]*RingBuffer
	cancels map[string]context.CancelFunc
	alerts  map[string]time.Time // target -> last alert emission, for coalescing
	wg      sync.WaitGroup

	onFailed func(name string) // supervisor callback: startup grace expired without Ready, or Unreachable reached
}

// New builds a Hub. prober performs the actual network probe; breakers is
// shared with the Coordinator so both sides see the same circuit state.
func New(cfg Config, reg *registry.Registry, breakers *resilience.BreakerRegistry, b *bus.Bus, prober Prober, metrics *Metrics) *Hub {
	return &Hub{
		cfg: cfg, reg: reg, breakers: breakers, bus: b, prober: prober, metrics: metrics,
		buffers: make(map[string]*RingBuffer),
		cancels: make(map[string]context.CancelFunc),
		alerts:  make(map[string]time.Time),
	}
}

// SetOnFailed registers the callback invoked when an agent's startup grace
// period elapses without reaching Ready, or when a Ready/Degraded agent
// crosses UnreachableThreshold — the Supervisor uses this to apply restart
// policy in either case.
func (h *Hub) SetOnFailed(cb func(name string)) { h.onFailed = cb }

// Watch begins probing name at endpoint, starting from the Starting state.
// It runs until ctx is cancelled or Unwatch(name) is called.
func (h *Hub) Watch(ctx context.Context, name, endpoint string) {
	h.mu.Lock()
	if _, exists := h.cancels[name]; exists {
		h.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	h.cancels[name] = cancel
	if _, ok := h.buffers[name]; !ok {
		h.buffers[name] = NewRingBuffer(h.cfg.RingBufferSize)
	}
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(watchCtx, name, endpoint)
	}()
}

// Unwatch stops probing name.
func (h *Hub) Unwatch(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[name]; ok {
		cancel()
		delete(h.cancels, name)
	}
}

// Shutdown stops every watch and waits for probe goroutines to exit.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	for _, cancel := range h.cancels {
		cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// History returns the recent HealthReports for name.
func (h *Hub) History(name string) []model.HealthReport {
	h.mu.Lock()
	rb, ok := h.buffers[name]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return rb.Recent()
}

var allAgentStates = []string{
	string(model.StatePending), string(model.StateStarting), string(model.StateReady),
	string(model.StateDegraded), string(model.StateUnreachable), string(model.StateStopping),
	string(model.StateStopped), string(model.StateFailed),
}

// transition moves name to state in the registry and mirrors the move onto
// the TargetState gauge.
func (h *Hub) transition(name string, state model.AgentState) {
	h.reg.Transition(name, state)
	if h.metrics != nil {
		h.metrics.setState(name, allAgentStates, string(state))
	}
}

// run implements the per-agent probe state machine. One goroutine per agent
// keeps that agent's transitions totally ordered without needing a
// per-agent lock.
func (h *Hub) run(ctx context.Context, name, endpoint string) {
	consecutiveFailures := 0
	consecutiveSuccesses := 0
	breaker := h.breakers.Get(name)
	state := model.StateStarting
	startedAt := time.Now()

	interval := h.cfg.StartProbeInterval
	timer := time.NewTimer(0) // probe immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		report, err := h.probeOnce(ctx, name, endpoint)

		switch state {
		case model.StateStarting:
			if err == nil && report.Status == model.HealthOK {
				state = model.StateReady
				consecutiveFailures = 0
				h.transition(name, model.StateReady)
				interval = h.cfg.SteadyInterval
			} else if time.Since(startedAt) >= h.cfg.StartupGrace {
				h.transition(name, model.StateFailed)
				if h.onFailed != nil {
					h.onFailed(name)
				}
				return
			}

		case model.StateReady, model.StateDegraded:
			if err != nil || report.Status != model.HealthOK {
				consecutiveFailures++
				consecutiveSuccesses = 0
				_ = breaker.Do(func() error { return model.Wrap(model.KindHealthError, "health", name, err) })

				if consecutiveFailures >= h.cfg.UnreachableThreshold {
					state = model.StateUnreachable
					h.transition(name, model.StateUnreachable)
					interval = h.cfg.BackoffInterval
					h.maybeAlert(name, "consecutive_failures", float64(consecutiveFailures))
					if h.onFailed != nil {
						h.onFailed(name)
					}
				} else if consecutiveFailures >= h.cfg.DegradeThreshold && state == model.StateReady {
					state = model.StateDegraded
					h.transition(name, model.StateDegraded)
				}
			} else {
				_ = breaker.Do(func() error { return nil })
				consecutiveFailures = 0
				consecutiveSuccesses++
				if state == model.StateDegraded && consecutiveSuccesses >= h.cfg.RecoveryRun {
					state = model.StateReady
					h.transition(name, model.StateReady)
				}
			}

		case model.StateUnreachable:
			if err == nil && report.Status == model.HealthOK && breaker.Allow() {
				state = model.StateReady
				consecutiveFailures = 0
				consecutiveSuccesses = 0
				h.transition(name, model.StateReady)
				interval = h.cfg.SteadyInterval
			}
		}

		h.reg.RecordHealth(name, time.Now(), consecutiveFailures)
		timer.Reset(interval)
	}
}

func (h *Hub) probeOnce(ctx context.Context, name, endpoint string) (model.HealthReport, error) {
	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeBudget)
	defer cancel()

	start := time.Now()
	report, err := h.prober.Probe(probeCtx, endpoint)
	latency := time.Since(start)

	if h.metrics != nil {
		h.metrics.ProbeLatency.WithLabelValues(name).Observe(latency.Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		} else {
			outcome = string(report.Status)
		}
		h.metrics.ProbeTotal.WithLabelValues(name, outcome).Inc()
	}

	if err == nil {
		report.Status = model.HealthStatus(NormalizeStatus(string(report.Status)))
		h.mu.Lock()
		rb := h.buffers[name]
		h.mu.Unlock()
		if rb != nil {
			rb.Push(report)
		}
	}
	return report, err
}

// maybeAlert coalesces repeated alerts for the same target within a 30s
// window so a mass outage does not flood the error bus.
func (h *Hub) maybeAlert(target, metric string, value float64) {
	h.mu.Lock()
	last, seen := h.alerts[target]
	if seen && time.Since(last) < 30*time.Second {
		h.mu.Unlock()
		return
	}
	h.alerts[target] = time.Now()
	h.mu.Unlock()

	if h.bus != nil {
		h.bus.Publish(model.ErrorEvent{
			Kind: model.KindHealthError, Severity: model.SeverityWarning,
			Source: "health.hub", Context: target + " " + metric,
		})
	}
}
