package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dreamware/fleetmesh/internal/bus"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/registry"
	"github.com/dreamware/fleetmesh/internal/resilience"
)

// Config tunes the coordinator's admission limiter and retry policy.
type Config struct {
	RateLimitPerSource rate.Limit
	BurstPerSource     int
	Retry              resilience.RetryPolicy
}

func DefaultConfig() Config {
	return Config{RateLimitPerSource: 50, BurstPerSource: 100, Retry: resilience.DefaultRetryPolicy()}
}

// LLMRouter is the subset of internal/llmrouter.Router the coordinator
// needs, kept as an interface here to avoid an import cycle (llmrouter
// does not need to know about the coordinator).
type LLMRouter interface {
	Route(ctx context.Context, req model.Request) (model.RouteDecision, error)
	Invoke(ctx context.Context, req model.Request, decision model.RouteDecision) ([]byte, error)
}

// Metrics receives the pipeline's per-request measurements: classification
// and dispatch latency, retry attempts, and final outcome.
type Metrics interface {
	Observe(event model.MetricEvent)
}

type noopMetrics struct{}

func (noopMetrics) Observe(model.MetricEvent) {}

// Coordinator runs the six-stage pipeline: admit, classify, resolve,
// circuit-check, dispatch, complete.
type Coordinator struct {
	cfg        Config
	classifier Classifier
	resolver   *Resolver
	dispatcher *Dispatcher
	llm        LLMRouter
	bus        *bus.Bus
	metrics    Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg Config, reg *registry.Registry, breakers *resilience.BreakerRegistry, classifier Classifier, llm LLMRouter, b *bus.Bus, metrics Metrics) *Coordinator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Coordinator{
		cfg:        cfg,
		classifier: classifier,
		resolver:   NewResolver(reg),
		dispatcher: NewDispatcher(reg, breakers, cfg.Retry),
		llm:        llm,
		bus:        b,
		metrics:    metrics,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Handle runs req through the full pipeline and returns the target
// agent's (or LLM backend's) response payload.
func (c *Coordinator) Handle(ctx context.Context, source string, req model.Request) ([]byte, error) {
	if !c.admit(source) {
		return nil, model.Wrap(model.KindRateLimited, "coordinator.admit", "source "+source+" over rate limit", nil)
	}
	req.State = model.ReqAccepted

	classifyStart := time.Now()
	target, reason, score := classify(req, c.classifier)
	req.State = model.ReqClassified
	classificationLatency := time.Since(classifyStart)

	decision, err := c.resolver.Resolve(req, target, reason)
	if err != nil {
		c.complete(req, model.RouteDecision{}, classificationLatency, 0, 1, err)
		return nil, err
	}
	decision.ClassificationScore = score
	req.State = model.ReqRouted

	dispatchStart := time.Now()
	if decision.TargetAgent == "" {
		if c.llm == nil {
			err := model.Wrap(model.KindPlanError, "coordinator", "request is LLM-bearing but no router is configured", nil)
			c.complete(req, decision, classificationLatency, time.Since(dispatchStart), 1, err)
			return nil, err
		}
		llmDecision, err := c.llm.Route(ctx, req)
		if err != nil {
			c.complete(req, decision, classificationLatency, time.Since(dispatchStart), 1, err)
			return nil, err
		}
		req.State = model.ReqInFlight
		payload, err := c.llm.Invoke(ctx, req, llmDecision)
		c.complete(req, llmDecision, classificationLatency, time.Since(dispatchStart), 1, err)
		return payload, err
	}

	req.State = model.ReqInFlight
	payload, attempts, err := c.dispatcher.Dispatch(ctx, req, decision)
	c.complete(req, decision, classificationLatency, time.Since(dispatchStart), attempts, err)
	return payload, err
}

// SmokeCapability resolves capability directly (bypassing Classify, since a
// smoke check names its target by capability rather than relying on keyword
// matching) and dispatches an empty tool_use payload, for `fleetctl test`'s
// "smoke dispatch to each required capability" step.
func (c *Coordinator) SmokeCapability(ctx context.Context, capability string) error {
	req := model.Request{Kind: model.KindToolUse, TraceID: "smoke-" + capability, DeadlineMS: 5000}
	decision, err := c.resolver.Resolve(req, capability, model.ReasonFallback)
	if err != nil {
		return err
	}
	_, _, err = c.dispatcher.Dispatch(ctx, req, decision)
	return err
}

func (c *Coordinator) admit(source string) bool {
	c.mu.Lock()
	limiter, ok := c.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(c.cfg.RateLimitPerSource, c.cfg.BurstPerSource)
		c.limiters[source] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}

// complete is the pipeline's final stage: it records classification and
// dispatch latency, retry attempts, and outcome against c.metrics, and on
// failure also publishes an error-bus event so the Hub and any subscribed
// dashboards see it.
func (c *Coordinator) complete(req model.Request, decision model.RouteDecision, classificationLatency, dispatchLatency time.Duration, attempts int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	target := decision.TargetAgent
	if target == "" {
		target = decision.LLMBackend
	}
	tags := map[string]string{"kind": string(req.Kind), "target": target, "outcome": outcome}
	now := time.Now()

	c.metrics.Observe(model.MetricEvent{Name: "classification_latency", Value: classificationLatency.Seconds(), Tags: tags, At: now})
	c.metrics.Observe(model.MetricEvent{Name: "dispatch_latency", Value: dispatchLatency.Seconds(), Tags: tags, At: now})
	c.metrics.Observe(model.MetricEvent{Name: "attempts", Value: float64(attempts), Tags: tags, At: now})
	c.metrics.Observe(model.MetricEvent{Name: "outcome", Value: 1, Tags: tags, At: now})

	if c.bus == nil || err == nil {
		return
	}
	fmErr, ok := err.(*model.Error)
	if !ok {
		fmErr = model.Wrap(model.KindFatal, "coordinator", "pipeline failed", err)
	}
	c.bus.Publish(fmErr.ToEvent())
}
