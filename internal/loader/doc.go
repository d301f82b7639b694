// Package loader implements the lazy loader: Load starts a named on_demand
// agent that isn't Ready, recursively starting any not-yet-Ready
// dependency first. Concurrent requests for the same name are coalesced
// into a single start attempt via golang.org/x/sync/singleflight. The
// coordinator does not call it: a request whose capability has no Ready or
// Degraded agent fails in Resolve instead of triggering a load.
package loader
