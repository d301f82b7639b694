// Package coordinator routes an inbound model.Request to a capability
// owner through six stages: admit, classify, resolve, circuit check,
// dispatch, complete. A structured request is routed to one of N agents
// offering a capability, chosen by RouteDecision and guarded by a
// per-target circuit breaker.
package coordinator
