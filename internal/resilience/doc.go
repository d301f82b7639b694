// Package resilience implements the cross-cutting primitives every
// dispatching component (Coordinator, LLM Router, Health Hub) composes:
// a per-target circuit breaker, retry with backoff, a bulkhead concurrency
// limiter, and a graceful-shutdown helper.
//
// The circuit breaker wraps github.com/sony/gobreaker rather than
// reimplementing the Closed/Open/HalfOpen state machine: gobreaker's
// ReadyToTrip/Timeout/MaxRequests knobs map directly onto
// failure_threshold/cooldown_ms/half_open_probes, and callers never see
// gobreaker's vocabulary, only model.CircuitState.
package resilience
