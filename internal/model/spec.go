package model

import "time"

// HostClass is the declared affinity of an agent to one of the two fleet
// hosts. It is advisory, not a hard scheduling constraint — nothing in this
// module enforces that an agent with HostClassMainPC actually runs there.
type HostClass string

const (
	HostClassMainPC HostClass = "MainPC"
	HostClassPC2    HostClass = "PC2"
)

// Autoload describes when an agent should be started.
type Autoload string

const (
	AutoloadEager    Autoload = "eager"
	AutoloadOnDemand Autoload = "on_demand"
)

// RestartPolicy governs how the supervisor reacts to an agent exiting.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on_failure"
	RestartAlways    RestartPolicy = "always"
)

// HealthProtocol names the wire contract an agent's health endpoint speaks.
// Only unified_v1 is accepted from new agents; legacy variants are tolerated
// only by the Hub's ingress normalizer, never by a producer.
type HealthProtocol string

const HealthProtocolUnifiedV1 HealthProtocol = "unified_v1"

// ResourceHints are optional scheduling/affinity hints that do not affect
// correctness, only placement quality.
type ResourceHints struct {
	VRAMMB    int `yaml:"vram_mb,omitempty" json:"vram_mb,omitempty"`
	CPUWeight int `yaml:"cpu_weight,omitempty" json:"cpu_weight,omitempty"`
}

// AgentSpec is the declared, immutable-after-load description of one agent.
// It is produced by the config loader (C1) and consumed by the dependency
// engine (C2) and supervisor (C6).
type AgentSpec struct {
	Name            string         `yaml:"name" json:"name"`
	HostClass       HostClass      `yaml:"host_class" json:"host_class"`
	Port            int            `yaml:"port" json:"port"`
	HealthPort      int            `yaml:"health_port" json:"health_port"`
	LaunchCmd       []string       `yaml:"launch_cmd" json:"launch_cmd"`
	Required        bool           `yaml:"required" json:"required"`
	Autoload        Autoload       `yaml:"autoload" json:"autoload"`
	Dependencies    []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Capabilities    []string       `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	ResourceHints   ResourceHints  `yaml:"resource_hints,omitempty" json:"resource_hints,omitempty"`
	RestartPolicy   RestartPolicy  `yaml:"restart_policy" json:"restart_policy"`
	MaxAttempts     int            `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BackoffBase     time.Duration  `yaml:"backoff_base,omitempty" json:"backoff_base,omitempty"`
	BackoffMax      time.Duration  `yaml:"backoff_max,omitempty" json:"backoff_max,omitempty"`
	StableWindow    time.Duration  `yaml:"stable_window,omitempty" json:"stable_window,omitempty"`
	HealthProtocol  HealthProtocol `yaml:"health_protocol" json:"health_protocol"`
	StartupPriority int            `yaml:"startup_priority,omitempty" json:"startup_priority,omitempty"`
}

// AgentState is the runtime lifecycle state of an AgentRecord. Only the
// Registry may transition a record between these states.
type AgentState string

const (
	StatePending     AgentState = "Pending"
	StateStarting    AgentState = "Starting"
	StateReady       AgentState = "Ready"
	StateDegraded    AgentState = "Degraded"
	StateUnreachable AgentState = "Unreachable"
	StateStopping    AgentState = "Stopping"
	StateStopped     AgentState = "Stopped"
	StateFailed      AgentState = "Failed"
)

// CircuitState is one of Closed, Open, HalfOpen.
type CircuitState string

const (
	CircuitClosed   CircuitState = "Closed"
	CircuitOpen     CircuitState = "Open"
	CircuitHalfOpen CircuitState = "HalfOpen"
)

// AgentRecord is the Registry's runtime view of one agent. Only
// internal/registry mutates State; every other package treats this as a
// read-only snapshot.
type AgentRecord struct {
	Spec                AgentSpec
	PID                 int
	StartedAt           time.Time
	Endpoint            string
	State               AgentState
	LastHealthTS        time.Time
	ConsecutiveFailures int
	RestartCount        int
	CircuitState        CircuitState
	LeaseToken          string
	LeaseExpiresAt      time.Time
}

// HealthStatus is the canonical, lowercase status string emitted in a
// HealthReport. Anything else arriving at the Hub's ingress is normalized.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthError    HealthStatus = "error"
)

// HealthReport is what an agent returns from its health endpoint.
type HealthReport struct {
	Status           HealthStatus       `json:"status"`
	Name             string             `json:"name"`
	UptimeSeconds    float64            `json:"uptime_seconds"`
	Version          string             `json:"version,omitempty"`
	CapabilitiesLive []string           `json:"capabilities_live,omitempty"`
	ResourceUsage    map[string]float64 `json:"resource_usage,omitempty"`
	Details          map[string]any     `json:"details,omitempty"`
}

// RequestKind names the kind of work a Request carries.
type RequestKind string

const (
	KindSTT       RequestKind = "stt"
	KindTTS       RequestKind = "tts"
	KindChat      RequestKind = "chat"
	KindVision    RequestKind = "vision"
	KindToolUse   RequestKind = "tool_use"
	KindCodeGen   RequestKind = "code_gen"
	KindReasoning RequestKind = "reasoning"
)

// IsLLMBearing reports whether a request kind is routed through the hybrid
// LLM router rather than a named agent, absent an explicit TargetAgent.
func (k RequestKind) IsLLMBearing() bool {
	switch k {
	case KindChat, KindReasoning, KindCodeGen, KindToolUse:
		return true
	default:
		return false
	}
}

// RequestState tracks a Request through the coordinator's pipeline.
type RequestState string

const (
	ReqAccepted   RequestState = "Accepted"
	ReqClassified RequestState = "Classified"
	ReqRouted     RequestState = "Routed"
	ReqInFlight   RequestState = "InFlight"
	ReqCompleted  RequestState = "Completed"
	ReqFailed     RequestState = "Failed"
	ReqCancelled  RequestState = "Cancelled"
)

// Request is the coordinator-scoped unit of work. It is never persisted
// beyond its own lifetime.
type Request struct {
	ID             string
	ReceivedAt     time.Time
	Kind           RequestKind
	Payload        []byte
	Priority       int
	DeadlineMS     int64
	TraceID        string
	TargetAgent    string // explicit override; empty means "let the coordinator decide"
	Backend        string // explicit llmrouter override: "local" or "remote"
	ComplexityHint int    // 0 means "use the default heuristic"

	State RequestState
}

// RouteReason is a short code explaining why a RouteDecision was made.
type RouteReason string

const (
	ReasonExplicitTarget RouteReason = "explicit_target"
	ReasonKeywordMatch   RouteReason = "keyword_match"
	ReasonEmbedding      RouteReason = "embedding_similarity"
	ReasonAffinity       RouteReason = "host_class_affinity"
	ReasonRoundRobin     RouteReason = "round_robin"
	ReasonFallback       RouteReason = "fallback"
)

// RouteDecision is the ephemeral output of the coordinator's Classify+Resolve
// stages.
type RouteDecision struct {
	TargetAgent         string
	LLMBackend          string
	Reason              RouteReason
	Fallbacks           []string
	ClassificationScore float64
}

// CircuitBreakerState mirrors the state tracked by internal/resilience.Breaker
// for one target, exposed for status reporting and testing.
type CircuitBreakerState struct {
	Target        string
	State         CircuitState
	FailureCount  int
	LastFailureTS time.Time
	OpenedAt      time.Time
	ProbeInFlight bool
}

// MetricEvent is a fire-and-forget measurement aggregated by the Hub.
type MetricEvent struct {
	Name  string
	Value float64
	Tags  map[string]string
	At    time.Time
}

// ChangeEventKind names the kind of registry mutation a ChangeEvent reports.
type ChangeEventKind string

const (
	EventRegistered      ChangeEventKind = "Registered"
	EventStateChanged    ChangeEventKind = "StateChanged"
	EventEndpointChanged ChangeEventKind = "EndpointChanged"
	EventDeregistered    ChangeEventKind = "Deregistered"
)

// ChangeEvent is emitted by the Registry's Watch stream for every state
// transition and endpoint change, in per-name order.
type ChangeEvent struct {
	Name   string
	Kind   ChangeEventKind
	Record AgentRecord
	At     time.Time
}

// IssueSeverity grades a validation Issue.
type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
)

// Issue is one finding from Validate(manifest).
type Issue struct {
	Severity  IssueSeverity
	Code      string
	Message   string
	AgentName string
}

// LoadRequest names an on_demand agent that is not currently Ready, for
// loader.Load to start. The Coordinator does not construct one.
type LoadRequest struct {
	Name        string
	RequestedBy string // trace_id
	At          time.Time
}
