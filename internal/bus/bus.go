package bus

import (
	"sync"

	"github.com/dreamware/fleetmesh/internal/model"
)

// subscriberBuffer is the per-subscriber channel capacity. A publisher never
// blocks on a full subscriber channel; the event is dropped for that
// subscriber instead, since error-bus delivery is fire-and-forget.
const subscriberBuffer = 256

// Bus fans ErrorEvents out to subscribers. The zero value is not usable;
// construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan model.ErrorEvent
	next int
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan model.ErrorEvent)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. Callers must drain the channel or call unsubscribe
// when done to avoid leaking the slot.
func (b *Bus) Subscribe() (<-chan model.ErrorEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan model.ErrorEvent, subscriberBuffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
}

// Publish fans ev out to every current subscriber. Non-blocking per
// subscriber: a full channel causes that subscriber to miss ev rather than
// stall the publisher.
func (b *Bus) Publish(ev model.ErrorEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
// Mainly useful for tests and status reporting.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
