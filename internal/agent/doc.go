// Package agent defines the contract every fleetmesh agent obeys and a
// reusable Runtime harness that implements the lifecycle:
// bind, register with jittered backoff, serve health and control traffic,
// and drain on a cooperative Stop signal.
//
// Agents are values configured at construction, never global singletons —
// an "ad-hoc base class & signal handlers at module load time" pattern is
// replaced here by a small interface (Initialize, HandleRequest, Probe,
// Shutdown) that callers compose with Runtime.
package agent
