package coordinator

import (
	"sync"

	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
)

// Resolver turns a classified target (an explicit agent name, or a
// capability name to fan out over) into a concrete RouteDecision.
type Resolver struct {
	reg *registry.Registry

	mu      sync.Mutex
	rrIndex map[string]int // capability -> next round-robin offset
}

func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg, rrIndex: make(map[string]int)}
}

// Resolve picks a concrete target: Ready is preferred over Degraded and ties
// are broken round-robin. No HostClass affinity is applied; model.Request
// carries no host class.
func (r *Resolver) Resolve(req model.Request, capabilityOrAgent string, reason model.RouteReason) (model.RouteDecision, error) {
	if reason == model.ReasonExplicitTarget {
		rec, ok := r.reg.Lookup(capabilityOrAgent)
		if !ok || (rec.State != model.StateReady && rec.State != model.StateDegraded) {
			return model.RouteDecision{}, model.Wrap(model.KindUnavailable, "coordinator.resolve",
				"explicit target "+capabilityOrAgent+" not Ready/Degraded", nil)
		}
		return model.RouteDecision{TargetAgent: capabilityOrAgent, Reason: reason, ClassificationScore: 1.0}, nil
	}

	if capabilityOrAgent == "" {
		if req.Kind.IsLLMBearing() {
			return model.RouteDecision{Reason: model.ReasonFallback}, nil // llmrouter claims it
		}
		return model.RouteDecision{}, model.Wrap(model.KindPlanError, "coordinator.resolve", "no capability matched and request is not LLM-bearing", nil)
	}

	candidates := r.reg.Query(capabilityOrAgent)
	if len(candidates) == 0 {
		return model.RouteDecision{}, model.Wrap(model.KindUnavailable, "coordinator.resolve",
			"no Ready/Degraded agent offers capability "+capabilityOrAgent, nil)
	}

	best := preferReady(candidates)
	chosen := r.pickRoundRobin(capabilityOrAgent, best)

	fallbacks := make([]string, 0, len(candidates)-1)
	for _, c := range candidates {
		if c.Spec.Name != chosen.Spec.Name {
			fallbacks = append(fallbacks, c.Spec.Name)
		}
	}

	return model.RouteDecision{
		TargetAgent:         chosen.Spec.Name,
		Reason:              reason,
		Fallbacks:           fallbacks,
		ClassificationScore: 1.0,
	}, nil
}

// preferReady narrows candidates to the Ready subset if any exist,
// otherwise returns the full (Degraded-only) candidate set.
func preferReady(candidates []model.AgentRecord) []model.AgentRecord {
	var ready []model.AgentRecord
	for _, c := range candidates {
		if c.State == model.StateReady {
			ready = append(ready, c)
		}
	}
	if len(ready) > 0 {
		return ready
	}
	return candidates
}

func (r *Resolver) pickRoundRobin(capability string, candidates []model.AgentRecord) model.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.rrIndex[capability] % len(candidates)
	r.rrIndex[capability] = idx + 1
	return candidates[idx]
}
