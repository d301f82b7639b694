package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dreamware/fleetmesh/internal/model"
)

// BreakerConfig mirrors its circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold uint
	Window           time.Duration
	CooldownMS       time.Duration
	HalfOpenProbes   uint32
}

// DefaultBreakerConfig matches the values used in the circuit-breaker
// end-to-end scenario (failure_threshold=5, window_ms=10000).
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           10 * time.Second,
		CooldownMS:       30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Breaker is a per-target circuit breaker. Construct one per routable
// target (agent name or LLM backend name) via NewBreaker.
type Breaker struct {
	target string
	cb     *gobreaker.CircuitBreaker
}

// NewBreaker builds a Breaker for target using cfg.
func NewBreaker(target string, cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        target,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.Window,
		Timeout:     cfg.CooldownMS,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
	}
	return &Breaker{target: target, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Allow reports whether a call may proceed right now, without performing it.
// Closed and HalfOpen both allow; Open does not. Coordinator callers that
// need to skip network I/O entirely on an Open breaker should check this
// before calling Do.
func (b *Breaker) Allow() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// Do executes fn if the breaker allows it, and feeds the result back into
// the breaker's failure accounting. It returns model.KindUnavailable without
// invoking fn at all when the breaker is Open.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return model.Wrap(model.KindUnavailable, "resilience.breaker", b.target, err)
	}
	return err
}

// State projects gobreaker's internal state into model.CircuitState.
func (b *Breaker) State() model.CircuitState {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return model.CircuitClosed
	case gobreaker.StateHalfOpen:
		return model.CircuitHalfOpen
	default:
		return model.CircuitOpen
	}
}

// Snapshot returns a point-in-time model.CircuitBreakerState for status
// reporting.
func (b *Breaker) Snapshot() model.CircuitBreakerState {
	counts := b.cb.Counts()
	return model.CircuitBreakerState{
		Target:       b.target,
		State:        b.State(),
		FailureCount: int(counts.ConsecutiveFailures),
	}
}

// BreakerRegistry lazily creates and caches one Breaker per target name, so
// callers never have to pre-declare the set of targets.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerRegistry builds a registry using cfg for every breaker it
// creates.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the Breaker for target, creating it on first use.
func (r *BreakerRegistry) Get(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[target]; ok {
		return b
	}
	b := NewBreaker(target, r.cfg)
	r.breakers[target] = b
	return b
}

// Snapshot returns the current state of every breaker the registry has
// created so far.
func (r *BreakerRegistry) Snapshot() []model.CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.CircuitBreakerState, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
