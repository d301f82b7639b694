// Package supervisor launches eager agents in topological batches, restarts
// them according to each AgentSpec's RestartPolicy with jittered backoff,
// and tears the fleet down in reverse-dependency order on shutdown.
//
// It replaces the "one hand-rolled main per process, no shared restart
// policy" pattern called out in the manifest with a single launcher that
// every agent process goes through the same way.
package supervisor
