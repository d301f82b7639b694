// Package health implements the Health & Observability Hub:
// periodic probes of every agent in Starting/Ready/Degraded/Unreachable,
// per-target circuit breaker state consulted by the Coordinator, bounded
// metric ring buffers, and an alert to the error bus when an agent becomes
// Unreachable (coalesced per target over 30s). There are no configurable
// alert rules and no per-capability rollups.
//
// Probe state machine per agent:
//
//	Starting --ok--> Ready --failures>=degrade--> Degraded
//	 | | |
//	 +--timeout-->Failed recovery_run successes
//	 | |
//	 failures>=unreachable back to Ready
//	 v
//	 Unreachable (circuit opens, backoff_interval_ms cadence)
//
// Ordering guarantee: state transitions for a single target are totally
// ordered (enforced by probing one target from a single goroutine at a
// time); cross-target ordering is not guaranteed.
package health
