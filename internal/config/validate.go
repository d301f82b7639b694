package config

import (
	"strconv"

	"github.com/dreamware/fleetmesh/internal/model"
)

// Validate is pure: it inspects m and reports Issues without mutating
// anything or touching the filesystem or network.
func Validate(m *Manifest) []model.Issue {
	var issues []model.Issue

	byName := make(map[string]model.AgentSpec, len(m.Agents))
	for _, a := range m.Agents {
		byName[a.Name] = a
	}

	portsByHost := make(map[model.HostClass]map[int]string)
	for _, a := range m.Agents {
		if portsByHost[a.HostClass] == nil {
			portsByHost[a.HostClass] = make(map[int]string)
		}
		for _, p := range []struct {
			port  int
			label string
			rng   PortRange
		}{
			{a.Port, "port", m.Global.AgentPortRange},
			{a.HealthPort, "health_port", m.Global.HealthPortRange},
		} {
			if owner, taken := portsByHost[a.HostClass][p.port]; taken && owner != a.Name {
				issues = append(issues, model.Issue{
					Severity: model.IssueError, Code: "duplicate_port", AgentName: a.Name,
					Message: p.label + " " + strconv.Itoa(p.port) + " already used by " + owner + " on " + string(a.HostClass),
				})
			}
			portsByHost[a.HostClass][p.port] = a.Name

			if !p.rng.contains(p.port) {
				issues = append(issues, model.Issue{
					Severity: model.IssueWarning, Code: "port_out_of_range", AgentName: a.Name,
					Message: p.label + " " + strconv.Itoa(p.port) + " falls outside the advisory range",
				})
			}
		}

		for _, dep := range a.Dependencies {
			depSpec, ok := byName[dep]
			if !ok {
				issues = append(issues, model.Issue{
					Severity: model.IssueError, Code: "unknown_dependency", AgentName: a.Name,
					Message: "depends on undeclared agent " + dep,
				})
				continue
			}
			// An on_demand agent may depend on anything; the inverse is
			// forbidden: an eager/required agent must never depend on an
			// on_demand agent that could be silently missing.
			if a.Autoload == model.AutoloadEager && depSpec.Autoload == model.AutoloadOnDemand {
				issues = append(issues, model.Issue{
					Severity: model.IssueError, Code: "eager_depends_on_on_demand", AgentName: a.Name,
					Message: "eager agent depends on on_demand agent " + dep,
				})
			}
		}
	}

	if cyc := findCycle(m.Agents); cyc != nil {
		issues = append(issues, model.Issue{
			Severity: model.IssueError, Code: "dependency_cycle",
			Message: "cycle: " + joinNames(cyc),
		})
	}

	return issues
}

// findCycle runs a DFS looking for a back edge; returns the cycle's
// participants in encounter order, or nil if the graph is acyclic. This is a
// cheap pre-check used by Validate; internal/depgraph's Kahn implementation
// is the authoritative planner and reports the same condition as a
// CycleError at plan time.
func findCycle(agents []model.AgentSpec) []string {
	deps := make(map[string][]string, len(agents))
	for _, a := range agents {
		deps[a.Name] = a.Dependencies
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(agents))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			case gray:
				// found the back edge; slice the stack from dep's position
				for i, n := range stack {
					if n == dep {
						cyc := make([]string, len(stack[i:]))
						copy(cyc, stack[i:])
						return cyc
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, a := range agents {
		if color[a.Name] == white {
			if cyc := visit(a.Name); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " -> "
		}
		out += n
	}
	return out
}
