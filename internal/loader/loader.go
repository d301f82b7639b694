package loader

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dreamware/fleetmesh/internal/config"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
)

// Starter is the subset of internal/supervisor.Supervisor the loader needs,
// kept as an interface so tests don't have to spin up real processes.
type Starter interface {
	LaunchOne(ctx context.Context, spec model.AgentSpec) error
}

// Config carries the lazy-load tunables.
type Config struct {
	LazyWait        time.Duration
	MaxLazyAttempts int
	ColdDuration    time.Duration
}

// FromGlobalSettings copies the lazy-load tunables out of the parsed
// manifest's global settings, applying reasonable defaults for any left at
// zero in the config file.
func FromGlobalSettings(g config.GlobalSettings) Config {
	cfg := Config{
		LazyWait:        g.LazyWaitMS,
		MaxLazyAttempts: g.MaxLazyAttempts,
		ColdDuration:    g.ColdDurationMS,
	}
	if cfg.LazyWait <= 0 {
		cfg.LazyWait = 5 * time.Second
	}
	if cfg.MaxLazyAttempts <= 0 {
		cfg.MaxLazyAttempts = 3
	}
	if cfg.ColdDuration <= 0 {
		cfg.ColdDuration = time.Minute
	}
	return cfg
}

// Loader starts on_demand agents on first use, recursively starting any
// not-yet-Ready dependency first, and coalesces concurrent requests for
// the same name into a single start attempt.
type Loader struct {
	manifest *config.Manifest
	reg      *registry.Registry
	starter  Starter
	cfg      Config

	group singleflight.Group

	mu       sync.Mutex
	attempts map[string]int
	coldFrom map[string]time.Time
}

func New(manifest *config.Manifest, reg *registry.Registry, starter Starter, cfg Config) *Loader {
	return &Loader{
		manifest: manifest, reg: reg, starter: starter, cfg: cfg,
		attempts: make(map[string]int), coldFrom: make(map[string]time.Time),
	}
}

// Load starts name (and any not-yet-Ready dependency) and blocks until it
// reports Ready or LazyWait elapses. Concurrent Load calls for the same
// name share one singleflight attempt, so at most one start is ever in
// flight for that name.
func (l *Loader) Load(ctx context.Context, req model.LoadRequest) error {
	if until, cold := l.isCold(req.Name); cold {
		return model.Wrap(model.KindUnavailable, "loader", req.Name+" is cold until "+until.Format(time.RFC3339), nil)
	}

	_, err, _ := l.group.Do(req.Name, func() (any, error) {
		return nil, l.loadOne(ctx, req.Name)
	})
	return err
}

func (l *Loader) isCold(name string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.coldFrom[name]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(until) {
		delete(l.coldFrom, name)
		delete(l.attempts, name)
		return time.Time{}, false
	}
	return until, true
}

func (l *Loader) loadOne(ctx context.Context, name string) error {
	if rec, ok := l.reg.Lookup(name); ok && (rec.State == model.StateReady || rec.State == model.StateDegraded) {
		return nil
	}

	spec, ok := l.manifest.ByName(name)
	if !ok {
		return model.Wrap(model.KindPlanError, "loader", "unknown agent "+name, nil)
	}

	for _, dep := range spec.Dependencies {
		if rec, ok := l.reg.Lookup(dep); ok && (rec.State == model.StateReady || rec.State == model.StateDegraded) {
			continue
		}
		if err := l.loadOne(ctx, dep); err != nil {
			return err
		}
	}

	if err := l.starter.LaunchOne(ctx, spec); err != nil {
		l.recordFailure(name)
		return err
	}

	if !l.awaitReady(name, l.cfg.LazyWait) {
		l.recordFailure(name)
		return model.Wrap(model.KindHealthTimeout, "loader", name+" did not become Ready within lazy_wait_ms", nil)
	}

	l.mu.Lock()
	delete(l.attempts, name)
	l.mu.Unlock()
	return nil
}

func (l *Loader) awaitReady(name string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if rec, ok := l.reg.Lookup(name); ok && (rec.State == model.StateReady || rec.State == model.StateDegraded) {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return false
}

func (l *Loader) recordFailure(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[name]++
	if l.attempts[name] >= l.cfg.MaxLazyAttempts {
		l.coldFrom[name] = time.Now().Add(l.cfg.ColdDuration)
	}
}
