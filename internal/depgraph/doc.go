// Package depgraph computes a StartupPlan from a resolved Manifest: an
// ordered list of batches such that no agent in a batch depends on an agent
// in a later batch, and no two agents in the same batch depend on each
// other.
//
// The algorithm is Kahn's: repeatedly peel off the set of agents with zero
// remaining in-degree, tie-broken by declared startup_priority then name for
// a stable, reproducible order. A non-empty remainder after the queue drains
// means a cycle; the error names every agent still stuck in it.
package depgraph
