package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/fleetmesh/internal/depgraph"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
)

// Config tunes batch advancement and shutdown timing. Per-agent restart
// timing comes from each AgentSpec (BackoffBase, BackoffMax, StableWindow,
// MaxAttempts) rather than from here.
type Config struct {
	BatchReadyTimeout time.Duration
	ShutdownGrace     time.Duration
}

func DefaultConfig() Config {
	return Config{BatchReadyTimeout: 30 * time.Second, ShutdownGrace: 10 * time.Second}
}

// trackedAgent is the supervisor's private bookkeeping for one spec.
type trackedAgent struct {
	spec     model.AgentSpec
	proc     Process
	cancel   context.CancelFunc
	attempts int
	bo       backoff.BackOff
	lastOK   time.Time
	stopped  bool // true once the supervisor has asked this agent to exit
}

// Supervisor launches AgentSpecs in the batches a depgraph.StartupPlan
// names, restarts them per policy, and shuts them down in reverse order.
// Grounded on the legacy per-process main()'s signal handling and on the
// restart-policy/backoff-window design of a process supervisor pattern
// from the example pack.
type Supervisor struct {
	reg      *registry.Registry
	launcher Launcher
	log      zerolog.Logger
	cfg      Config

	mu      sync.Mutex
	agents  map[string]*trackedAgent
	batches [][]model.AgentSpec // retained for reverse-order shutdown
	wg      sync.WaitGroup
}

func New(reg *registry.Registry, launcher Launcher, log zerolog.Logger, cfg Config) *Supervisor {
	return &Supervisor{
		reg: reg, launcher: launcher, log: log, cfg: cfg,
		agents: make(map[string]*trackedAgent),
	}
}

// LaunchPlan starts every eager agent in plan, one batch at a time,
// advancing only once every agent in the current batch reports Ready (or
// the batch timeout elapses, at which point still-Starting agents are
// logged but the supervisor proceeds — a stuck optional dependency should
// not wedge the whole fleet).
func (s *Supervisor) LaunchPlan(ctx context.Context, plan *depgraph.StartupPlan) error {
	s.mu.Lock()
	s.batches = plan.Batches
	s.mu.Unlock()

	for i, batch := range plan.Batches {
		eager := make([]model.AgentSpec, 0, len(batch))
		for _, spec := range batch {
			if spec.Autoload == model.AutoloadEager {
				eager = append(eager, spec)
			}
		}
		if len(eager) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, spec := range eager {
			spec := spec
			g.Go(func() error { return s.launchAndTrack(gctx, spec) })
		}
		if err := g.Wait(); err != nil {
			return err
		}

		s.log.Info().Int("batch", i).Int("count", len(eager)).Msg("batch launched, awaiting ready")
		s.awaitBatchReady(eager, s.cfg.BatchReadyTimeout)
	}
	return nil
}

// LaunchOne starts a single on-demand agent outside the normal batch
// sequence, used by the lazy loader (C8) when a request targets an agent
// that hasn't been started yet.
func (s *Supervisor) LaunchOne(ctx context.Context, spec model.AgentSpec) error {
	return s.launchAndTrack(ctx, spec)
}

func (s *Supervisor) awaitBatchReady(batch []model.AgentSpec, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allReady := true
		for _, spec := range batch {
			rec, ok := s.reg.Lookup(spec.Name)
			if !ok || (rec.State != model.StateReady && rec.State != model.StateDegraded) {
				allReady = false
				break
			}
		}
		if allReady {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.log.Warn().Msg("batch ready timeout elapsed, proceeding to next batch")
}

func (s *Supervisor) launchAndTrack(ctx context.Context, spec model.AgentSpec) error {
	agentCtx, cancel := context.WithCancel(ctx)

	proc, err := s.launcher.Launch(agentCtx, spec)
	if err != nil {
		cancel()
		s.reg.Transition(spec.Name, model.StateFailed)
		return err
	}

	s.reg.Transition(spec.Name, model.StateStarting)

	ta := &trackedAgent{spec: spec, proc: proc, cancel: cancel, bo: newBackoff(spec)}
	s.mu.Lock()
	if prev, ok := s.agents[spec.Name]; ok && !prev.stopped {
		ta.attempts, ta.bo = prev.attempts, prev.bo // a restart keeps its attempt count and backoff
	}
	s.agents[spec.Name] = ta
	s.mu.Unlock()

	s.wg.Add(1)
	go s.superviseExit(agentCtx, ta)
	return nil
}

func newBackoff(spec model.AgentSpec) backoff.BackOff {
	base := spec.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := spec.BackoffMax
	if max <= 0 {
		max = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = max
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0 // caller enforces MaxAttempts, not elapsed time
	return bo
}

// superviseExit waits for the process to exit and applies the agent's
// RestartPolicy. The attempt counter and backoff carry across restarts;
// only NoteReady resets them, after StableWindow of continuous Ready time,
// and nothing in this package calls NoteReady.
func (s *Supervisor) superviseExit(ctx context.Context, ta *trackedAgent) {
	defer s.wg.Done()

	waitErr := ta.proc.Wait()

	s.mu.Lock()
	stopped := ta.stopped
	s.mu.Unlock()
	if stopped {
		s.reg.Transition(ta.spec.Name, model.StateStopped)
		return
	}

	if waitErr == nil && ta.spec.RestartPolicy != model.RestartAlways {
		s.reg.Transition(ta.spec.Name, model.StateStopped)
		return
	}

	s.reg.Transition(ta.spec.Name, model.StateFailed)
	s.log.Warn().Str("agent", ta.spec.Name).Err(waitErr).Msg("agent process exited")

	if ta.spec.RestartPolicy == model.RestartNever {
		return
	}

	s.mu.Lock()
	ta.attempts++
	attempts := ta.attempts
	s.mu.Unlock()

	if ta.spec.MaxAttempts > 0 && attempts > ta.spec.MaxAttempts {
		s.log.Error().Str("agent", ta.spec.Name).Int("attempts", attempts).Msg("max restart attempts exceeded")
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(ta.bo.NextBackOff()):
	}

	if err := s.launchAndTrack(ctx, ta.spec); err != nil {
		s.log.Error().Str("agent", ta.spec.Name).Err(err).Msg("restart failed")
	}
}

// HandleUnreachable is the Hub's onFailed callback for a Ready/Degraded
// agent that crossed UnreachableThreshold. The process may still be alive
// but unresponsive, so it is killed outright; superviseExit's normal
// process-exit path then applies restart policy and backoff exactly as it
// would for an unexpected crash.
func (s *Supervisor) HandleUnreachable(name string) {
	s.mu.Lock()
	ta, ok := s.agents[name]
	stopped := ok && ta.stopped
	s.mu.Unlock()
	if !ok || stopped || ta.spec.RestartPolicy == model.RestartNever {
		return
	}

	s.log.Warn().Str("agent", name).Msg("health hub reported unreachable, killing for restart")
	_ = ta.proc.Kill()
}

// NoteReady resets an agent's restart-attempt counter once it has been
// Ready for StableWindow, so a flapping agent that recovers isn't
// permanently penalized by attempts accumulated long ago.
func (s *Supervisor) NoteReady(name string, readySince time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ta, ok := s.agents[name]
	if !ok {
		return
	}
	window := ta.spec.StableWindow
	if window <= 0 {
		window = time.Minute
	}
	if time.Since(readySince) >= window {
		ta.attempts = 0
		ta.bo = newBackoff(ta.spec)
	}
}

// Shutdown terminates every tracked process in reverse batch order,
// sending SIGTERM and waiting up to ShutdownGrace before SIGKILL.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	batches := s.batches
	s.mu.Unlock()

	for i := len(batches) - 1; i >= 0; i-- {
		var wg sync.WaitGroup
		for _, spec := range batches[i] {
			s.mu.Lock()
			ta, ok := s.agents[spec.Name]
			s.mu.Unlock()
			if !ok {
				continue
			}
			ta.stopped = true
			s.reg.Transition(spec.Name, model.StateStopping)

			wg.Add(1)
			go func(ta *trackedAgent) {
				defer wg.Done()
				s.stopOne(ta)
			}(ta)
		}
		wg.Wait()
	}

	s.wg.Wait()
	return nil
}

func (s *Supervisor) stopOne(ta *trackedAgent) {
	_ = ta.proc.Signal(sigterm)
	done := make(chan struct{})
	go func() {
		_ = ta.proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.log.Warn().Str("agent", ta.spec.Name).Msg("shutdown grace exceeded, killing")
		_ = ta.proc.Kill()
	}
	ta.cancel()
}
