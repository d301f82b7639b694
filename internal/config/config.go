package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/fleetmesh/internal/model"
)

// DefaultAgentPortRange and DefaultHealthPortRange are the canonical ranges:
// 7200-7999 for agent ports, 8200-8999 for health ports. A deployment may
// override them via global_settings.agent_port_range and
// global_settings.health_port_range.
var (
	DefaultAgentPortRange  = PortRange{Min: 7200, Max: 7999}
	DefaultHealthPortRange = PortRange{Min: 8200, Max: 8999}
)

// PortRange is an inclusive [Min, Max] bound.
type PortRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (r PortRange) contains(port int) bool { return port >= r.Min && port <= r.Max }

// GlobalSettings carries the cluster-wide knobs.
type GlobalSettings struct {
	AgentPortRange        PortRange     `yaml:"agent_port_range"`
	HealthPortRange       PortRange     `yaml:"health_port_range"`
	ObservabilityEndpoint string        `yaml:"observability_endpoint"`
	ErrorBusEndpoint      string        `yaml:"error_bus_endpoint"`
	RegistryEndpoint      string        `yaml:"registry_endpoint"`
	StartProbeInterval    time.Duration `yaml:"start_probe_interval"`
	SteadyInterval        time.Duration `yaml:"steady_interval_ms"`
	StartupGraceMS        time.Duration `yaml:"startup_grace_ms"`
	ProbeBudgetMS         time.Duration `yaml:"probe_budget_ms"`
	RegisterDeadlineMS    time.Duration `yaml:"register_deadline_ms"`
	DrainTimeoutMS        time.Duration `yaml:"drain_timeout_ms"`
	DegradeThreshold      int           `yaml:"degrade_threshold"`
	UnreachableThreshold  int           `yaml:"unreachable_threshold"`
	RecoveryRun           int           `yaml:"recovery_run"`
	LazyWaitMS            time.Duration `yaml:"lazy_wait_ms"`
	MaxLazyAttempts       int           `yaml:"max_lazy_attempts"`
	ColdDurationMS        time.Duration `yaml:"cold_duration_ms"`
	AdminEndpoint         string        `yaml:"admin_endpoint"`
}

// ProfileOverride lets a profile flip an agent's `required` flag, but never
// to true for an agent the author marked on_demand (enforced in Validate).
type ProfileOverride struct {
	Required *bool `yaml:"required,omitempty"`
}

// Profile selects a subset of agents by capability and/or explicit name.
type Profile struct {
	IncludeCapabilities []string                   `yaml:"include_capabilities,omitempty"`
	IncludeNames        []string                   `yaml:"include_names,omitempty"`
	Overrides           map[string]ProfileOverride `yaml:"overrides,omitempty"`
}

// RawConfig is the as-parsed document shape, before profile resolution.
type RawConfig struct {
	GlobalSettings GlobalSettings             `yaml:"global_settings"`
	Agents         map[string]model.AgentSpec `yaml:"agents"`
	Profiles       map[string]Profile         `yaml:"profiles"`
}

// Manifest is the validated, profile-resolved result of Load: the effective
// set of AgentSpecs plus the global settings they were resolved under.
type Manifest struct {
	Global GlobalSettings
	Agents []model.AgentSpec
}

// ByName returns the spec for name, if present.
func (m *Manifest) ByName(name string) (model.AgentSpec, bool) {
	for _, a := range m.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return model.AgentSpec{}, false
}

// Load parses the document at path, applies the named profile, and
// validates the result. A malformed document, duplicate name, duplicate
// port on the same host, unknown dependency, or unknown profile each
// produce a ConfigError.
func Load(path, profile string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.Wrap(model.KindConfigError, "config", "read "+path, err)
	}
	return Parse(data, profile)
}

// Parse is Load without the filesystem read, exported so tests and
// reload-config (which already has bytes in hand) can call it directly.
func Parse(data []byte, profile string) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw RawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, model.Wrap(model.KindConfigError, "config", "decode document", err)
	}

	if raw.GlobalSettings.AgentPortRange == (PortRange{}) {
		raw.GlobalSettings.AgentPortRange = DefaultAgentPortRange
	}
	if raw.GlobalSettings.HealthPortRange == (PortRange{}) {
		raw.GlobalSettings.HealthPortRange = DefaultHealthPortRange
	}

	names := make(map[string]bool, len(raw.Agents))
	for name, spec := range raw.Agents {
		if spec.Name == "" {
			spec.Name = name
		}
		if spec.Name != name {
			return nil, model.Wrap(model.KindConfigError, "config",
				fmt.Sprintf("agent key %q does not match spec name %q", name, spec.Name), nil)
		}
		if names[spec.Name] {
			return nil, model.Wrap(model.KindConfigError, "config", "duplicate agent name "+spec.Name, nil)
		}
		names[spec.Name] = true
		raw.Agents[name] = spec
	}

	effective, err := resolveProfile(raw, profile)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Global: raw.GlobalSettings, Agents: effective}
	if issues := Validate(m); hasErrors(issues) {
		return nil, model.Wrap(model.KindConfigError, "config", issuesToMessage(issues), nil)
	}
	return m, nil
}

func hasErrors(issues []model.Issue) bool {
	for _, i := range issues {
		if i.Severity == model.IssueError {
			return true
		}
	}
	return false
}

func issuesToMessage(issues []model.Issue) string {
	msg := ""
	for _, i := range issues {
		if i.Severity != model.IssueError {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		msg += i.Code + ": " + i.Message
	}
	return msg
}

// resolveProfile filters the agent set for one profile: a spec is included
// if required==true, OR the profile explicitly lists its group (by name or
// capability), OR it is autoload=on_demand (included but not eagerly
// started). An override may flip required to false but never to true for an
// agent the author marked on_demand.
func resolveProfile(raw RawConfig, profileName string) ([]model.AgentSpec, error) {
	if profileName == "" {
		profileName = "core"
	}
	profile, ok := raw.Profiles[profileName]
	if !ok {
		return nil, model.Wrap(model.KindConfigError, "config", "unknown profile "+profileName, nil)
	}

	includeNames := make(map[string]bool, len(profile.IncludeNames))
	for _, n := range profile.IncludeNames {
		includeNames[n] = true
	}
	includeCaps := make(map[string]bool, len(profile.IncludeCapabilities))
	for _, c := range profile.IncludeCapabilities {
		includeCaps[c] = true
	}

	var out []model.AgentSpec
	for _, spec := range raw.Agents {
		included := spec.Required || spec.Autoload == model.AutoloadOnDemand || includeNames[spec.Name]
		if !included {
			for _, cap := range spec.Capabilities {
				if includeCaps[cap] {
					included = true
					break
				}
			}
		}
		if !included {
			continue
		}

		if ov, ok := profile.Overrides[spec.Name]; ok && ov.Required != nil {
			if *ov.Required && spec.Autoload == model.AutoloadOnDemand {
				return nil, model.Wrap(model.KindConfigError, "config",
					"profile "+profileName+" cannot force on_demand agent "+spec.Name+" to required", nil)
			}
			spec.Required = *ov.Required
		}
		out = append(out, spec)
	}
	return out, nil
}
