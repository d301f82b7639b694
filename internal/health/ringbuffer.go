package health

import (
	"sync"

	"github.com/dreamware/fleetmesh/internal/model"
)

// RingBuffer holds the last N HealthReports for one agent, overwriting the
// oldest entry once full. Safe for concurrent use.
type RingBuffer struct {
	mu     sync.Mutex
	buf    []model.HealthReport
	cap    int
	next   int
	filled bool
}

// NewRingBuffer returns a buffer holding up to capacity reports.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]model.HealthReport, capacity), cap: capacity}
}

// Push appends r, evicting the oldest entry if the buffer is full.
func (b *RingBuffer) Push(r model.HealthReport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.next] = r
	b.next = (b.next + 1) % b.cap
	if b.next == 0 {
		b.filled = true
	}
}

// Recent returns the buffered reports in oldest-to-newest order.
func (b *RingBuffer) Recent() []model.HealthReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.filled {
		out := make([]model.HealthReport, b.next)
		copy(out, b.buf[:b.next])
		return out
	}
	out := make([]model.HealthReport, b.cap)
	copy(out, b.buf[b.next:])
	copy(out[b.cap-b.next:], b.buf[:b.next])
	return out
}
