// Package integration exercises the core packages wired together the way
// cmd/fleetctl wires them, covering end-to-end scenarios: cold boot, cycle
// rejection, lazy load, circuit breaker, graceful shutdown under load, and
// hybrid routing failover.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetmesh/internal/agent"
	"github.com/dreamware/fleetmesh/internal/bus"
	"github.com/dreamware/fleetmesh/internal/coordinator"
	"github.com/dreamware/fleetmesh/internal/depgraph"
	"github.com/dreamware/fleetmesh/internal/health"
	"github.com/dreamware/fleetmesh/internal/llmrouter"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
	"github.com/dreamware/fleetmesh/internal/resilience"
	"github.com/dreamware/fleetmesh/internal/supervisor"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// echoContract is the same minimal agent behavior cmd/fleetagent ships,
// duplicated here so the test package has no import on package main.
type echoContract struct {
	name  string
	delay time.Duration
}

func (c *echoContract) Initialize(context.Context) error { return nil }

func (c *echoContract) HandleRequest(ctx context.Context, req agent.Request) (agent.Response, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return agent.Response{}, ctx.Err()
		}
	}
	return agent.Response{Payload: req.Payload}, nil
}

func (c *echoContract) Probe(context.Context) model.HealthReport {
	return model.HealthReport{Status: model.HealthOK, Name: c.name}
}

func (c *echoContract) Shutdown(context.Context) error { return nil }

// runtimeProcess adapts a goroutine-hosted agent.Runtime to
// supervisor.Process, standing in for the real os/exec-spawned process a
// production fleetctl launches.
type runtimeProcess struct {
	cancel context.CancelFunc
	done   chan error
}

func (p *runtimeProcess) Wait() error                { return <-p.done }
func (p *runtimeProcess) Signal(sig os.Signal) error { p.cancel(); return nil }
func (p *runtimeProcess) Kill() error                { p.cancel(); return nil }
func (p *runtimeProcess) Pid() int                   { return 0 }

// runtimeLauncher launches each AgentSpec as an in-process agent.Runtime
// bound to its declared ports, registering against registryURL. This plays
// the role ExecLauncher plays in production, without requiring a second
// compiled binary for the test to exec.
type runtimeLauncher struct {
	registryURL string
	delay       time.Duration
}

func (l *runtimeLauncher) Launch(ctx context.Context, spec model.AgentSpec) (supervisor.Process, error) {
	cfg := agent.DefaultConfig(spec.Name, spec.Port, spec.HealthPort)
	cfg.RegistryEndpoint = l.registryURL
	cfg.RegisterDeadline = 2 * time.Second
	cfg.LeaseRenewEvery = 200 * time.Millisecond
	cfg.DrainTimeout = 2 * time.Second

	rt := agent.New(cfg, &echoContract{name: spec.Name, delay: l.delay}, zerolog.Nop())
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- rt.Serve(runCtx) }()
	return &runtimeProcess{cancel: cancel, done: done}, nil
}

func chainedSpecs(t *testing.T, n int) []model.AgentSpec {
	t.Helper()
	specs := make([]model.AgentSpec, 0, n)
	for i := 1; i <= n; i++ {
		s := model.AgentSpec{
			Name: fmt.Sprintf("a%d", i), Required: true, Autoload: model.AutoloadEager,
			Port: freePort(t), HealthPort: freePort(t), RestartPolicy: model.RestartOnFailure,
			MaxAttempts: 3,
		}
		if i > 1 {
			s.Dependencies = []string{fmt.Sprintf("a%d", i-1)}
		}
		specs = append(specs, s)
	}
	return specs
}

func waitForStates(t *testing.T, reg *registry.Registry, names []string, want model.AgentState, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allMatch := true
		for _, name := range names {
			rec, ok := reg.Lookup(name)
			if !ok || rec.State != want {
				allMatch = false
				break
			}
		}
		if allMatch {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// Scenario 1: cold boot. A chain of N required agents, each depending on
// the one before it, must plan into N single-agent batches and all reach
// Ready.
func TestColdBootChainReachesReadyInOrder(t *testing.T) {
	const n = 6
	specs := chainedSpecs(t, n)

	plan, err := depgraph.Plan(specs)
	require.NoError(t, err)
	require.Len(t, plan.Batches, n, "a linear chain must produce one batch per agent")
	for _, batch := range plan.Batches {
		assert.Len(t, batch, 1)
	}

	reg := registry.New(specs)
	regSrv := httptest.NewServer(registry.NewServer(reg, zerolog.Nop()))
	defer regSrv.Close()

	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	hub := health.New(health.DefaultConfig(), reg, breakers, bus.New(), health.HTTPProber{}, health.NewMetrics(prometheus.NewRegistry()))
	defer hub.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	launcher := &runtimeLauncher{registryURL: regSrv.URL}
	svCfg := supervisor.DefaultConfig()
	svCfg.BatchReadyTimeout = 5 * time.Second
	sv := supervisor.New(reg, launcher, zerolog.Nop(), svCfg)

	// Agents self-register but nothing watches their health until we do so
	// here, mirroring fleetctl's watchAllKnown loop.
	go func() {
		for i := 0; i < 200; i++ {
			for _, s := range specs {
				if rec, ok := reg.Lookup(s.Name); ok && rec.Endpoint != "" {
					hub.Watch(ctx, s.Name, rec.Endpoint)
				}
			}
			time.Sleep(25 * time.Millisecond)
		}
	}()

	require.NoError(t, sv.LaunchPlan(ctx, plan))

	names := make([]string, n)
	for i, s := range specs {
		names[i] = s.Name
	}
	require.True(t, waitForStates(t, reg, names, model.StateReady, 10*time.Second), "all agents in the chain must reach Ready")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, sv.Shutdown(shutdownCtx))
}

// Scenario 2: cycle rejection. A 3-agent cycle must fail at plan time,
// naming every participant.
func TestCycleRejectionNamesParticipants(t *testing.T) {
	specs := []model.AgentSpec{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"c"}},
		{Name: "c", Dependencies: []string{"a"}},
	}
	_, err := depgraph.Plan(specs)
	require.Error(t, err)

	var cycleErr *depgraph.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Participants)
}

// Scenario 3: lazy load on demand. An on_demand agent not yet running must
// be brought to Ready by a loader (testLoader, a test-local stand-in for
// internal/loader) the first time it is requested,
// and subsequent calls must not relaunch it.
func TestLazyLoadBringsOnDemandAgentReady(t *testing.T) {
	spec := model.AgentSpec{
		Name: "vision", Autoload: model.AutoloadOnDemand,
		Port: freePort(t), HealthPort: freePort(t), Capabilities: []string{"vision"},
	}
	reg := registry.New([]model.AgentSpec{spec})
	regSrv := httptest.NewServer(registry.NewServer(reg, zerolog.Nop()))
	defer regSrv.Close()

	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	hub := health.New(health.DefaultConfig(), reg, breakers, bus.New(), health.HTTPProber{}, health.NewMetrics(prometheus.NewRegistry()))
	defer hub.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	launcher := &runtimeLauncher{registryURL: regSrv.URL}
	sv := supervisor.New(reg, launcher, zerolog.Nop(), supervisor.DefaultConfig())

	var launches int32
	starter := starterFunc(func(ctx context.Context, s model.AgentSpec) error {
		atomic.AddInt32(&launches, 1)
		err := sv.LaunchOne(ctx, s)
		go func() {
			for i := 0; i < 100; i++ {
				if rec, ok := reg.Lookup(s.Name); ok && rec.Endpoint != "" {
					hub.Watch(ctx, s.Name, rec.Endpoint)
					return
				}
				time.Sleep(25 * time.Millisecond)
			}
		}()
		return err
	})

	manifest := &testManifest{agents: []model.AgentSpec{spec}}
	l := newTestLoader(manifest, reg, starter)

	require.NoError(t, l.Load(ctx, model.LoadRequest{Name: "vision"}))
	rec, ok := reg.Lookup("vision")
	require.True(t, ok)
	assert.Equal(t, model.StateReady, rec.State)

	require.NoError(t, l.Load(ctx, model.LoadRequest{Name: "vision"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&launches), "a second load of an already-Ready agent must not relaunch it")
}

// Scenario 4: circuit breaker. After failure_threshold consecutive
// failures, the breaker opens and rejects immediately; after cooldown it
// allows exactly one half-open probe, and a success closes it.
func TestCircuitBreakerOpensThenHalfOpensAfterCooldown(t *testing.T) {
	cfg := resilience.BreakerConfig{FailureThreshold: 5, Window: 10 * time.Second, CooldownMS: 100 * time.Millisecond, HalfOpenProbes: 1}
	b := resilience.NewBreaker("flaky-target", cfg)

	for i := 0; i < 5; i++ {
		err := b.Do(func() error { return assert.AnError })
		require.Error(t, err)
	}
	assert.Equal(t, model.CircuitOpen, b.State())

	err := b.Do(func() error { t.Fatal("fn must not run while breaker is Open"); return nil })
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindUnavailable))

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, model.CircuitClosed, b.State())
}

// Scenario 5: graceful shutdown under load. In-flight requests must drain
// within the runtime's drain timeout; requests arriving after drain begins
// are rejected with Overloaded rather than accepted.
func TestGracefulShutdownDrainsInFlightRequests(t *testing.T) {
	port, healthPort := freePort(t), freePort(t)
	cfg := agent.DefaultConfig("loaded-agent", port, healthPort)
	cfg.DrainTimeout = 2 * time.Second

	rt := agent.New(cfg, &echoContract{name: "loaded-agent", delay: 50 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	require.Eventually(t, func() bool {
		resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(`{}`)))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	const inFlight = 100
	var wg sync.WaitGroup
	var succeeded int32
	for i := 0; i < inFlight; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(`{}`)))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}

	cancel()
	wg.Wait()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&succeeded)), inFlight*95/100,
		"at least 95%% of in-flight requests should complete during drain")
}

// Scenario 6: hybrid routing failover. With the local backend's circuit
// forced Open, a low-complexity request must fall back to remote and
// complete successfully.
func TestHybridRoutingFallsBackWhenLocalBreakerOpen(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"payload": []byte("remote-reply")})
	}))
	defer remote.Close()

	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	localBreaker := breakers.Get(llmrouter.BackendLocal)
	for i := 0; i < 10; i++ {
		_ = localBreaker.Do(func() error { return assert.AnError })
	}
	require.False(t, localBreaker.Allow())

	cfg := llmrouter.DefaultConfig()
	cfg.RemoteEndpoint = remote.URL
	router := llmrouter.New(cfg, breakers, nil, nil)

	req := model.Request{Kind: model.KindChat, ComplexityHint: 1}
	decision, err := router.Route(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, llmrouter.BackendRemote, decision.LLMBackend)

	out, err := router.Invoke(context.Background(), req, decision)
	require.NoError(t, err)
	assert.Equal(t, "remote-reply", string(out))
}

// TestCoordinatorEndToEndDispatchesToRegisteredAgent exercises the full
// six-stage pipeline (admit, classify, resolve, circuit-check, dispatch,
// complete) against an HTTP stub agent registered in a real Registry, not
// just its stages in isolation.
func TestCoordinatorEndToEndDispatchesToRegisteredAgent(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"payload": []byte("ok")})
	}))
	defer agentSrv.Close()

	spec := model.AgentSpec{Name: "stt-1", Capabilities: []string{"stt"}}
	reg := registry.New([]model.AgentSpec{spec})
	_, err := reg.Register("stt-1", agentSrv.Listener.Addr().String(), []string{"stt"})
	require.NoError(t, err)
	reg.Transition("stt-1", model.StateReady)

	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	classifier := &coordinator.KeywordClassifier{Rules: []coordinator.KeywordRule{
		{Capability: "stt", Keywords: []string{"transcribe"}},
	}}
	coord := coordinator.New(coordinator.DefaultConfig(), reg, breakers, classifier, nil, bus.New(), nil)

	out, err := coord.Handle(context.Background(), "test-source", model.Request{
		Kind: model.KindSTT, Payload: []byte("please transcribe this"), DeadlineMS: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
}

// --- small test-local seams, kept here rather than exported from
// internal/loader so production code never needs a manifest abstraction
// narrower than *config.Manifest just for testability. ---

type starterFunc func(ctx context.Context, spec model.AgentSpec) error

func (f starterFunc) LaunchOne(ctx context.Context, spec model.AgentSpec) error { return f(ctx, spec) }

type testManifest struct {
	agents []model.AgentSpec
}

func (m *testManifest) byName(name string) (model.AgentSpec, bool) {
	for _, a := range m.agents {
		if a.Name == name {
			return a, true
		}
	}
	return model.AgentSpec{}, false
}

// testLoader is a trimmed reimplementation of internal/loader.Loader's
// coalesce-then-launch-then-wait algorithm, local to this test file so the
// scenario doesn't need to import config.Manifest just to build one.
type testLoader struct {
	manifest *testManifest
	reg      *registry.Registry
	starter  interface {
		LaunchOne(ctx context.Context, spec model.AgentSpec) error
	}
}

func newTestLoader(m *testManifest, reg *registry.Registry, starter starterFunc) *testLoader {
	return &testLoader{manifest: m, reg: reg, starter: starter}
}

func (l *testLoader) Load(ctx context.Context, req model.LoadRequest) error {
	if rec, ok := l.reg.Lookup(req.Name); ok && (rec.State == model.StateReady || rec.State == model.StateDegraded) {
		return nil
	}
	spec, ok := l.manifest.byName(req.Name)
	if !ok {
		return model.Wrap(model.KindPlanError, "test", "unknown agent "+req.Name, nil)
	}
	if err := l.starter.LaunchOne(ctx, spec); err != nil {
		return err
	}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := l.reg.Lookup(req.Name); ok && (rec.State == model.StateReady || rec.State == model.StateDegraded) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return model.Wrap(model.KindHealthTimeout, "test", req.Name+" did not become Ready", nil)
}
