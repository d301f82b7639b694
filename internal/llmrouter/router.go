package llmrouter

import (
	"context"
	"time"

	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/resilience"
	"github.com/dreamware/fleetmesh/internal/rpc"
)

// Backend names used to scope breakers and retry policy, matching the
// "local"/"remote" vocabulary used throughout.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// VRAMGauge reports currently available VRAM in megabytes. The router treats
// it as an opaque read-only gauge — it never mutates GPU state, it only
// reads availability when deciding where to route.
type VRAMGauge func() (availableMB int)

// Config carries the selection thresholds the router applies.
type Config struct {
	HeavyThreshold        int
	LocalRequiredMB       int
	RemoteEndpoint        string
	LocalEndpoint         string
	LocalQuantizedVariant string // declared smaller-model endpoint, used on remote-unreachable degrade
	Retry                 resilience.RetryPolicy
}

// DefaultConfig mirrors the thresholds used in the hybrid-routing
// end-to-end scenario.
func DefaultConfig() Config {
	return Config{
		HeavyThreshold:  5,
		LocalRequiredMB: 4096,
		Retry:           resilience.DefaultRetryPolicy(),
	}
}

// Metrics receives a per-decision observation so selection thresholds can be
// tuned offline.
type Metrics interface {
	ObserveDecision(backend string, reason model.RouteReason)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDecision(string, model.RouteReason) {}

// Router implements internal/coordinator.LLMRouter: it picks "local" or
// "remote" deterministically from a request's declared hints, falling back
// on breaker state, and executes the chosen backend under the same
// breaker+retry discipline internal/coordinator.Dispatcher applies to
// ordinary agent targets.
type Router struct {
	cfg      Config
	breakers *resilience.BreakerRegistry
	vram     VRAMGauge
	metrics  Metrics
}

// New builds a Router. vram may be nil, in which case local is always
// treated as having sufficient VRAM (useful for agents with no GPU
// contention, or in tests).
func New(cfg Config, breakers *resilience.BreakerRegistry, vram VRAMGauge, metrics Metrics) *Router {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Router{cfg: cfg, breakers: breakers, vram: vram, metrics: metrics}
}

// Route applies the selection rules, most-specific first: explicit backend
// override, then VRAM pressure, then complexity threshold, then
// breaker-state fallback.
func (r *Router) Route(ctx context.Context, req model.Request) (model.RouteDecision, error) {
	backend := r.selectBackend(req)

	if !r.breakers.Get(backend).Allow() {
		alt := other(backend)
		if r.breakers.Get(alt).Allow() {
			backend = alt
		} else {
			return model.RouteDecision{}, model.Wrap(model.KindUnavailable, "llmrouter",
				"both local and remote backends are open-circuit", nil)
		}
	}

	decision := model.RouteDecision{
		LLMBackend: backend,
		Reason:     reasonFor(req, backend),
	}
	r.metrics.ObserveDecision(backend, decision.Reason)
	return decision, nil
}

// selectBackend applies the deterministic rule chain, independent of
// breaker state (breaker fallback is layered on afterward in Route).
func (r *Router) selectBackend(req model.Request) string {
	if req.Backend == BackendLocal || req.Backend == BackendRemote {
		return req.Backend
	}

	if r.vram != nil && r.vram() < r.cfg.LocalRequiredMB {
		return BackendRemote
	}

	complexity := req.ComplexityHint
	if complexity == 0 {
		complexity = defaultComplexity(req)
	}
	if complexity > r.cfg.HeavyThreshold {
		return BackendRemote
	}
	return BackendLocal
}

// defaultComplexity buckets payload length and request kind into the same
// 0-10 scale ComplexityHint uses, for callers that never set the hint.
func defaultComplexity(req model.Request) int {
	score := 0
	switch {
	case len(req.Payload) > 16384:
		score += 6
	case len(req.Payload) > 4096:
		score += 4
	case len(req.Payload) > 512:
		score += 2
	case len(req.Payload) > 0:
		score += 1
	}
	switch req.Kind {
	case model.KindReasoning, model.KindCodeGen:
		score += 3
	case model.KindToolUse:
		score += 2
	case model.KindChat:
		score += 1
	}
	return score
}

func reasonFor(req model.Request, backend string) model.RouteReason {
	if req.Backend == backend {
		return model.ReasonExplicitTarget
	}
	return model.ReasonFallback
}

func other(backend string) string {
	if backend == BackendLocal {
		return BackendRemote
	}
	return BackendLocal
}

type invokePayload struct {
	Kind    model.RequestKind `json:"kind"`
	Payload []byte            `json:"payload"`
	TraceID string            `json:"trace_id"`
}

type invokeResult struct {
	Payload []byte `json:"payload"`
}

// Invoke executes decision.LLMBackend, applying the router's retry policy
// and that backend's breaker. On a remote-unreachable failure it degrades to
// a declared local quantized variant rather than failing outright; with no
// variant declared it surfaces Unavailable.
func (r *Router) Invoke(ctx context.Context, req model.Request, decision model.RouteDecision) ([]byte, error) {
	out, err := r.invokeBackend(ctx, decision.LLMBackend, req)
	if err == nil {
		return out, nil
	}
	if decision.LLMBackend == BackendRemote && model.IsKind(err, model.KindUnavailable) && r.cfg.LocalQuantizedVariant != "" {
		return r.invokeEndpoint(ctx, r.cfg.LocalQuantizedVariant, req)
	}
	return nil, err
}

func (r *Router) invokeBackend(ctx context.Context, backend string, req model.Request) ([]byte, error) {
	endpoint := r.cfg.LocalEndpoint
	if backend == BackendRemote {
		endpoint = r.cfg.RemoteEndpoint
	}
	breaker := r.breakers.Get(backend)

	var out []byte
	err := resilience.Retry(ctx, r.cfg.Retry, func() error {
		return breaker.Do(func() error {
			result, callErr := r.callEndpoint(ctx, endpoint, req)
			if callErr != nil {
				return callErr
			}
			out = result
			return nil
		})
	})
	return out, err
}

func (r *Router) invokeEndpoint(ctx context.Context, endpoint string, req model.Request) ([]byte, error) {
	return r.callEndpoint(ctx, endpoint, req)
}

func (r *Router) callEndpoint(ctx context.Context, endpoint string, req model.Request) ([]byte, error) {
	if endpoint == "" {
		return nil, model.Wrap(model.KindUnavailable, "llmrouter", "no endpoint configured for backend", nil)
	}

	deadline := time.Duration(req.DeadlineMS) * time.Millisecond
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var result invokeResult
	err := rpc.PostJSON(callCtx, endpoint+"/invoke", invokePayload{
		Kind: req.Kind, Payload: req.Payload, TraceID: req.TraceID,
	}, &result)
	if err != nil {
		return nil, model.Wrap(model.KindUnavailable, "llmrouter", "invoke "+endpoint, err)
	}
	return result.Payload, nil
}
