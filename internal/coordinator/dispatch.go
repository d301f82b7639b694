package coordinator

import (
	"context"
	"time"

	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
	"github.com/dreamware/fleetmesh/internal/resilience"
	"github.com/dreamware/fleetmesh/internal/rpc"
)

// Dispatcher sends a classified, resolved Request to its target agent
// over HTTP, guarded by a per-target circuit breaker and restricted retry.
type Dispatcher struct {
	reg      *registry.Registry
	breakers *resilience.BreakerRegistry
	retry    resilience.RetryPolicy
}

func NewDispatcher(reg *registry.Registry, breakers *resilience.BreakerRegistry, retry resilience.RetryPolicy) *Dispatcher {
	return &Dispatcher{reg: reg, breakers: breakers, retry: retry}
}

type dispatchPayload struct {
	Kind    model.RequestKind `json:"kind"`
	Payload []byte            `json:"payload"`
	TraceID string            `json:"trace_id"`
}

type dispatchResult struct {
	Payload []byte `json:"payload"`
}

// Dispatch sends req to its resolved target, then to each of
// decision.Fallbacks in turn: a target whose breaker is open is skipped
// without a network call, and the next target is tried after any failure.
// When req.DeadlineMS is set, each target gets its own timeout of
// DeadlineMS, shared by all of that target's retries; time already spent on
// earlier targets is not subtracted. The returned int is the total number of RPC attempts made across every
// target tried, for the pipeline's "attempts" metric.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.Request, decision model.RouteDecision) ([]byte, int, error) {
	targets := append([]string{decision.TargetAgent}, decision.Fallbacks...)

	attempts := 0
	var lastErr error
	for _, target := range targets {
		breaker := d.breakers.Get(target)
		if !breaker.Allow() {
			lastErr = model.Wrap(model.KindUnavailable, "coordinator.dispatch", "circuit open for "+target, nil)
			continue
		}

		rec, ok := d.reg.Lookup(target)
		if !ok {
			lastErr = model.Wrap(model.KindUnavailable, "coordinator.dispatch", "target vanished: "+target, nil)
			continue
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if req.DeadlineMS > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMS)*time.Millisecond)
		}

		var result dispatchResult
		err := resilience.Retry(attemptCtx, d.retry, func() error {
			attempts++
			return breaker.Do(func() error {
				return rpc.PostJSON(attemptCtx, "http://"+rec.Endpoint+"/", dispatchPayload{
					Kind: req.Kind, Payload: req.Payload, TraceID: req.TraceID,
				}, &result)
			})
		})
		if cancel != nil {
			cancel()
		}
		if err != nil {
			lastErr = err
			continue
		}
		return result.Payload, attempts, nil
	}

	if lastErr == nil {
		lastErr = model.Wrap(model.KindUnavailable, "coordinator.dispatch", "no target available for "+decision.TargetAgent, nil)
	}
	return nil, attempts, lastErr
}
