// Package metrics holds the process-wide Prometheus registry fleetctl
// serves over HTTP, plus concrete collector implementations for components
// whose own package (internal/llmrouter) only defines a narrow interface
// and leaves instrumentation to the caller. internal/health's Hub carries
// its own collectors directly (see internal/health/metrics.go) since its
// metrics are intrinsic to what that package already does; this package is
// for the metrics surfaces the manifest names that don't have one natural
// owning package.
package metrics
