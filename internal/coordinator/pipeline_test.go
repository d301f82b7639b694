package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetmesh/internal/bus"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
	"github.com/dreamware/fleetmesh/internal/resilience"
)

func newAgentServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"payload": []byte(reply)})
	}))
}

func endpointOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestHandleExplicitTargetDispatches(t *testing.T) {
	srv := newAgentServer(t, "hello")
	defer srv.Close()

	reg := registry.New([]model.AgentSpec{{Name: "vision", Capabilities: []string{"vision"}}})
	_, err := reg.Register("vision", endpointOf(srv), []string{"vision"})
	require.NoError(t, err)
	reg.Transition("vision", model.StateReady)

	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	coord := New(DefaultConfig(), reg, breakers, nil, nil, bus.New(), nil)

	req := model.Request{Kind: model.KindVision, TargetAgent: "vision", Payload: []byte("img")}
	payload, err := coord.Handle(context.Background(), "client-1", req)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(payload))
}

func TestHandleKeywordClassificationResolvesCapability(t *testing.T) {
	srv := newAgentServer(t, "ok")
	defer srv.Close()

	reg := registry.New([]model.AgentSpec{{Name: "stt-1", Capabilities: []string{"stt"}}})
	_, err := reg.Register("stt-1", endpointOf(srv), []string{"stt"})
	require.NoError(t, err)
	reg.Transition("stt-1", model.StateReady)

	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	classifier := &KeywordClassifier{Rules: []KeywordRule{{Capability: "stt", Keywords: []string{"transcribe"}}}}
	coord := New(DefaultConfig(), reg, breakers, classifier, nil, bus.New(), nil)

	req := model.Request{Kind: model.KindSTT, Payload: []byte("please transcribe this audio")}
	payload, err := coord.Handle(context.Background(), "client-1", req)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(payload))
}

func TestHandleUnresolvableNonLLMRequestFails(t *testing.T) {
	reg := registry.New([]model.AgentSpec{{Name: "vision", Capabilities: []string{"vision"}}})
	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	coord := New(DefaultConfig(), reg, breakers, &KeywordClassifier{}, nil, bus.New(), nil)

	req := model.Request{Kind: model.KindVision, Payload: []byte("no match")}
	_, err := coord.Handle(context.Background(), "client-1", req)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindPlanError))
}

type fakeLLMRouter struct {
	decision model.RouteDecision
	payload  []byte
}

func (f *fakeLLMRouter) Route(ctx context.Context, req model.Request) (model.RouteDecision, error) {
	return f.decision, nil
}
func (f *fakeLLMRouter) Invoke(ctx context.Context, req model.Request, decision model.RouteDecision) ([]byte, error) {
	return f.payload, nil
}

func TestHandleLLMBearingRequestDelegatesToRouter(t *testing.T) {
	reg := registry.New(nil)
	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	llm := &fakeLLMRouter{decision: model.RouteDecision{LLMBackend: "local"}, payload: []byte("llm-reply")}
	coord := New(DefaultConfig(), reg, breakers, &KeywordClassifier{}, llm, bus.New(), nil)

	req := model.Request{Kind: model.KindChat, Payload: []byte("hi")}
	payload, err := coord.Handle(context.Background(), "client-1", req)
	require.NoError(t, err)
	assert.Equal(t, "llm-reply", string(payload))
}

func TestAdmitRejectsOverRateLimit(t *testing.T) {
	reg := registry.New(nil)
	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	cfg := DefaultConfig()
	cfg.RateLimitPerSource = 0
	cfg.BurstPerSource = 1
	coord := New(cfg, reg, breakers, &KeywordClassifier{}, nil, bus.New(), nil)

	req := model.Request{Kind: model.KindChat}
	_, err := coord.Handle(context.Background(), "client-1", req) // consumes the single burst token
	_ = err
	_, err = coord.Handle(context.Background(), "client-1", req)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindRateLimited))
}
