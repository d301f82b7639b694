package resilience

import (
	"context"

	"github.com/dreamware/fleetmesh/internal/model"
)

// Bulkhead enforces a concurrent-in-flight limit per target, queuing excess
// callers up to queue_depth before rejecting with Overloaded.
type Bulkhead struct {
	active chan struct{}
	queue  chan struct{}
}

// NewBulkhead builds a Bulkhead allowing at most `limit` concurrent callers
// and `queueDepth` additional callers waiting for a slot.
func NewBulkhead(limit, queueDepth int) *Bulkhead {
	return &Bulkhead{
		active: make(chan struct{}, limit),
		queue:  make(chan struct{}, queueDepth),
	}
}

// Acquire blocks until a slot is free, the queue is full (Overloaded), or
// ctx is cancelled. Release must be called exactly once for every
// successful Acquire.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.active <- struct{}{}:
		return nil
	default:
	}

	select {
	case b.queue <- struct{}{}:
	default:
		return model.Wrap(model.KindOverloaded, "resilience.bulkhead", "queue full", nil)
	}
	defer func() { <-b.queue }()

	select {
	case b.active <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot acquired by a successful Acquire.
func (b *Bulkhead) Release() {
	<-b.active
}

// InFlight reports the number of callers currently holding a slot.
func (b *Bulkhead) InFlight() int {
	return len(b.active)
}
