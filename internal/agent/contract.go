package agent

import (
	"context"

	"github.com/dreamware/fleetmesh/internal/model"
)

// Request is what Runtime hands to Contract.HandleRequest after decoding
// the inbound HTTP body.
type Request struct {
	Kind    model.RequestKind
	Payload []byte
	TraceID string
}

// Response is what HandleRequest returns; Runtime encodes it back to the
// caller.
type Response struct {
	Payload []byte
}

// Contract is the lifecycle every agent — core or application — implements.
// Runtime composes a value satisfying this interface with socket binding,
// registration, health serving, and signal handling so no agent hand-rolls
// its own main().
type Contract interface {
	// Initialize is called once before the runtime starts serving traffic.
	// A non-nil error aborts startup.
	Initialize(ctx context.Context) error

	// HandleRequest processes one inbound request on the primary socket.
	HandleRequest(ctx context.Context, req Request) (Response, error)

	// Probe answers a health check. It must be idempotent and side-effect
	// free, and must return within the runtime's configured probe budget.
	Probe(ctx context.Context) model.HealthReport

	// Shutdown is called once, after the drain window, to release any
	// resource the agent itself owns (the runtime already closes sockets
	// and deregisters independently).
	Shutdown(ctx context.Context) error
}
