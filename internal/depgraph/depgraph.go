package depgraph

import (
	"sort"
	"strings"

	"github.com/dreamware/fleetmesh/internal/model"
)

// StartupPlan is an ordered list of batches; each batch is a set of agents
// with no dependency on any later batch and no intra-batch dependency.
type StartupPlan struct {
	Batches [][]model.AgentSpec
}

// CycleError is returned in place of a plan when the graph has a cycle. It
// names every agent that could not be planned: the agents on a cycle and
// any agent that depends on one, directly or transitively.
type CycleError struct {
	Participants []string
}

func (e *CycleError) Error() string {
	return "dependency cycle involving: " + strings.Join(e.Participants, ", ")
}

// Plan runs Kahn's algorithm over agents. A missing dependency fails at
// plan time rather than at start time, reported as a PlanError rather than
// a silent skip.
func Plan(agents []model.AgentSpec) (*StartupPlan, error) {
	byName := make(map[string]model.AgentSpec, len(agents))
	for _, a := range agents {
		byName[a.Name] = a
	}

	indegree := make(map[string]int, len(agents))
	dependents := make(map[string][]string, len(agents))
	for _, a := range agents {
		indegree[a.Name] = 0
	}
	for _, a := range agents {
		for _, dep := range a.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, model.Wrap(model.KindPlanError, "depgraph",
					a.Name+" depends on undeclared agent "+dep, nil)
			}
			indegree[a.Name]++
			dependents[dep] = append(dependents[dep], a.Name)
		}
	}

	var plan StartupPlan
	remaining := len(agents)
	ready := readyNames(indegree, byName)

	for len(ready) > 0 {
		sortBatch(ready, byName)

		batch := make([]model.AgentSpec, 0, len(ready))
		for _, name := range ready {
			batch = append(batch, byName[name])
		}
		plan.Batches = append(plan.Batches, batch)
		remaining -= len(ready)

		var next []string
		for _, name := range ready {
			for _, dependent := range dependents[name] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
			delete(indegree, name)
		}
		ready = next
	}

	if remaining > 0 {
		var stuck []string
		for name := range indegree {
			stuck = append(stuck, name)
		}
		sort.Strings(stuck)
		return nil, &CycleError{Participants: stuck}
	}

	return &plan, nil
}

func readyNames(indegree map[string]int, byName map[string]model.AgentSpec) []string {
	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	return ready
}

// sortBatch tie-breaks by declared startup_priority (higher first) then
// name, for a stable, reproducible batch order.
func sortBatch(names []string, byName map[string]model.AgentSpec) {
	sort.Slice(names, func(i, j int) bool {
		a, b := byName[names[i]], byName[names[j]]
		if a.StartupPriority != b.StartupPriority {
			return a.StartupPriority > b.StartupPriority
		}
		return a.Name < b.Name
	})
}
