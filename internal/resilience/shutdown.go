package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ShutdownGroup runs registered cleanup callbacks in LIFO order, each with
// its own timeout, aggregating but never swallowing errors: every acquired
// resource (socket, child process, subscription) registers its release here.
type ShutdownGroup struct {
	mu    sync.Mutex
	funcs []namedFunc
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownGroup returns an empty group.
func NewShutdownGroup() *ShutdownGroup {
	return &ShutdownGroup{}
}

// Register appends fn to the LIFO cleanup list under name, used only for
// error attribution.
func (g *ShutdownGroup) Register(name string, fn func(context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.funcs = append(g.funcs, namedFunc{name: name, fn: fn})
}

// Run executes every registered callback in reverse registration order,
// each bounded by perCallback. It keeps running remaining callbacks even if
// an earlier one fails or times out, and returns every error joined
// together.
func (g *ShutdownGroup) Run(ctx context.Context, perCallback time.Duration) error {
	g.mu.Lock()
	funcs := make([]namedFunc, len(g.funcs))
	copy(funcs, g.funcs)
	g.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		nf := funcs[i]
		cbCtx, cancel := context.WithTimeout(ctx, perCallback)
		err := nf.fn(cbCtx)
		cancel()
		if err != nil {
			errs = append(errs, errors.New(nf.name+": "+err.Error()))
		}
	}
	return errors.Join(errs...)
}
