package config

import "github.com/dreamware/fleetmesh/internal/model"

// ReloadPlan is the outcome of Diff: which agents may be added live and
// which attempted edits are rejected as breaking.
type ReloadPlan struct {
	Additions []model.AgentSpec
	Breaking  []model.Issue
}

// OK reports whether the reload may proceed (no breaking changes found).
func (p *ReloadPlan) OK() bool { return len(p.Breaking) == 0 }

// Diff classifies every difference between old and new as either an
// additive on_demand spec / non-breaking global_settings tweak, or a
// breaking change (port/name/dependency edit on an already-running agent).
// Breaking changes are reported, never applied.
func Diff(old, new *Manifest) *ReloadPlan {
	plan := &ReloadPlan{}

	oldByName := make(map[string]model.AgentSpec, len(old.Agents))
	for _, a := range old.Agents {
		oldByName[a.Name] = a
	}

	for _, a := range new.Agents {
		prev, existed := oldByName[a.Name]
		if !existed {
			if a.Autoload == model.AutoloadOnDemand {
				plan.Additions = append(plan.Additions, a)
				continue
			}
			plan.Breaking = append(plan.Breaking, model.Issue{
				Severity: model.IssueError, Code: "new_eager_agent", AgentName: a.Name,
				Message: "new eager/required agents cannot be added via reload-config",
			})
			continue
		}

		if prev.Port != a.Port || prev.HealthPort != a.HealthPort {
			plan.Breaking = append(plan.Breaking, model.Issue{
				Severity: model.IssueError, Code: "port_edit", AgentName: a.Name,
				Message: "port/health_port cannot change on a running agent",
			})
		}
		if !sameDependencies(prev.Dependencies, a.Dependencies) {
			plan.Breaking = append(plan.Breaking, model.Issue{
				Severity: model.IssueError, Code: "dependency_edit", AgentName: a.Name,
				Message: "dependency list cannot change on a running agent",
			})
		}
	}

	for name := range oldByName {
		if _, stillPresent := new.ByName(name); !stillPresent {
			plan.Breaking = append(plan.Breaking, model.Issue{
				Severity: model.IssueError, Code: "agent_removed", AgentName: name,
				Message: "removing a running agent is a breaking change",
			})
		}
	}

	return plan
}

func sameDependencies(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		seen[x]--
	}
	for _, count := range seen {
		if count != 0 {
			return false
		}
	}
	return true
}
