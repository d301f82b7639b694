package llmrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/resilience"
)

func newInvokeServer(t *testing.T, reply []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"payload": reply})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func breakers() *resilience.BreakerRegistry {
	return resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
}

func TestRouteHonorsExplicitBackendOverride(t *testing.T) {
	r := New(DefaultConfig(), breakers(), nil, nil)

	decision, err := r.Route(context.Background(), model.Request{Kind: model.KindChat, Backend: BackendRemote})
	require.NoError(t, err)
	assert.Equal(t, BackendRemote, decision.LLMBackend)
	assert.Equal(t, model.ReasonExplicitTarget, decision.Reason)
}

func TestRouteUsesRemoteWhenComplexityExceedsThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeavyThreshold = 2
	r := New(cfg, breakers(), nil, nil)

	decision, err := r.Route(context.Background(), model.Request{Kind: model.KindReasoning, ComplexityHint: 9})
	require.NoError(t, err)
	assert.Equal(t, BackendRemote, decision.LLMBackend)
}

func TestRouteUsesLocalWhenComplexityBelowThreshold(t *testing.T) {
	r := New(DefaultConfig(), breakers(), nil, nil)

	decision, err := r.Route(context.Background(), model.Request{Kind: model.KindChat, ComplexityHint: 1})
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, decision.LLMBackend)
}

func TestRouteDegradesToRemoteWhenVRAMInsufficient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalRequiredMB = 4096
	gauge := func() int { return 512 }
	r := New(cfg, breakers(), gauge, nil)

	decision, err := r.Route(context.Background(), model.Request{Kind: model.KindChat, ComplexityHint: 1})
	require.NoError(t, err)
	assert.Equal(t, BackendRemote, decision.LLMBackend)
}

func TestRouteFallsBackWhenPreferredBackendBreakerOpen(t *testing.T) {
	reg := breakers()
	localBreaker := reg.Get(BackendLocal)
	for i := 0; i < 10; i++ {
		_ = localBreaker.Do(func() error { return assert.AnError })
	}
	require.False(t, localBreaker.Allow(), "breaker should be open after repeated failures")

	r := New(DefaultConfig(), reg, nil, nil)
	decision, err := r.Route(context.Background(), model.Request{Kind: model.KindChat, ComplexityHint: 1})
	require.NoError(t, err)
	assert.Equal(t, BackendRemote, decision.LLMBackend, "open local breaker should fall back to remote")
}

func TestInvokeCallsSelectedBackendEndpoint(t *testing.T) {
	local := newInvokeServer(t, []byte("local-reply"))
	cfg := DefaultConfig()
	cfg.LocalEndpoint = local.URL
	r := New(cfg, breakers(), nil, nil)

	out, err := r.Invoke(context.Background(), model.Request{Kind: model.KindChat, DeadlineMS: 2000},
		model.RouteDecision{LLMBackend: BackendLocal})
	require.NoError(t, err)
	assert.Equal(t, "local-reply", string(out))
}

func TestInvokeDegradesToQuantizedVariantWhenRemoteUnreachable(t *testing.T) {
	quantized := newInvokeServer(t, []byte("quantized-reply"))
	cfg := DefaultConfig()
	cfg.RemoteEndpoint = "http://127.0.0.1:1" // nothing listening
	cfg.LocalQuantizedVariant = quantized.URL
	cfg.Retry = resilience.RetryPolicy{MaxAttempts: 1, RetryableKinds: []model.ErrorKind{model.KindUnavailable}}
	r := New(cfg, breakers(), nil, nil)

	out, err := r.Invoke(context.Background(), model.Request{Kind: model.KindChat, DeadlineMS: 500},
		model.RouteDecision{LLMBackend: BackendRemote})
	require.NoError(t, err)
	assert.Equal(t, "quantized-reply", string(out))
}

func TestInvokeReturnsUnavailableWithNoEndpointOrVariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry = resilience.RetryPolicy{MaxAttempts: 1, RetryableKinds: []model.ErrorKind{model.KindUnavailable}}
	r := New(cfg, breakers(), nil, nil)

	_, err := r.Invoke(context.Background(), model.Request{Kind: model.KindChat, DeadlineMS: 500},
		model.RouteDecision{LLMBackend: BackendLocal})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindUnavailable))
}
