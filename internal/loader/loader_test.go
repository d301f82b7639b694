package loader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetmesh/internal/config"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
)

// fakeStarter transitions the registry straight to Ready after a short
// delay, simulating an agent that boots and self-registers quickly.
type fakeStarter struct {
	reg      *registry.Registry
	delay    time.Duration
	launches int32
	fail     map[string]bool
}

func (s *fakeStarter) LaunchOne(ctx context.Context, spec model.AgentSpec) error {
	atomic.AddInt32(&s.launches, 1)
	if s.fail[spec.Name] {
		return model.Wrap(model.KindFatal, "test", "launch failed", nil)
	}
	go func() {
		time.Sleep(s.delay)
		if _, ok := s.reg.Lookup(spec.Name); ok {
			s.reg.Transition(spec.Name, model.StateReady)
		}
	}()
	return nil
}

func manifest() *config.Manifest {
	return &config.Manifest{Agents: []model.AgentSpec{
		{Name: "base", Autoload: model.AutoloadOnDemand},
		{Name: "vision", Autoload: model.AutoloadOnDemand, Dependencies: []string{"base"}},
	}}
}

func TestLoadStartsDependencyBeforeDependent(t *testing.T) {
	m := manifest()
	reg := registry.New(m.Agents)
	starter := &fakeStarter{reg: reg, delay: 10 * time.Millisecond}
	l := New(m, reg, starter, Config{LazyWait: time.Second, MaxLazyAttempts: 3, ColdDuration: time.Minute})

	err := l.Load(context.Background(), model.LoadRequest{Name: "vision"})
	require.NoError(t, err)

	rec, ok := reg.Lookup("vision")
	require.True(t, ok)
	assert.Equal(t, model.StateReady, rec.State)

	rec, ok = reg.Lookup("base")
	require.True(t, ok)
	assert.Equal(t, model.StateReady, rec.State)

	assert.Equal(t, int32(2), atomic.LoadInt32(&starter.launches))
}

func TestLoadCoalescesConcurrentRequests(t *testing.T) {
	m := manifest()
	reg := registry.New(m.Agents)
	starter := &fakeStarter{reg: reg, delay: 30 * time.Millisecond}
	l := New(m, reg, starter, Config{LazyWait: time.Second, MaxLazyAttempts: 3, ColdDuration: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Load(context.Background(), model.LoadRequest{Name: "base"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&starter.launches), "concurrent loads for the same name must coalesce")
}

func TestLoadGoesColdAfterMaxAttempts(t *testing.T) {
	m := manifest()
	reg := registry.New(m.Agents)
	starter := &fakeStarter{reg: reg, fail: map[string]bool{"base": true}}
	l := New(m, reg, starter, Config{LazyWait: 20 * time.Millisecond, MaxLazyAttempts: 2, ColdDuration: time.Hour})

	for i := 0; i < 2; i++ {
		err := l.Load(context.Background(), model.LoadRequest{Name: "base"})
		require.Error(t, err)
	}

	err := l.Load(context.Background(), model.LoadRequest{Name: "base"})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindUnavailable), "third attempt should fail fast as cold, not retry the launch")
	assert.Equal(t, int32(2), atomic.LoadInt32(&starter.launches), "cold agent must not be relaunched")
}
