// Package rpc provides the thin JSON-over-HTTP helpers shared by every
// fleetmesh component that talks to another component over the network:
// agents registering with the Registry, the Hub probing agents, and the
// Coordinator dispatching to targets.
//
// There is deliberately no RPC framework here — every exchange is a plain
// HTTP request with a JSON body, matching the wire shapes in SPEC_FULL.md
// §6. PostJSON and GetJSON wrap request construction, context propagation,
// and response decoding so callers don't repeat it at every call site.
package rpc
