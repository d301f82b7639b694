package health

import "strings"

// NormalizeStatus tolerates legacy, case-inconsistent health status strings
// at the Hub's ingress. New agents are still expected to emit canonical
// lowercase; the normalizer exists for migration, not as a producer-side
// shortcut.
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ok", "healthy", "up", "pass":
		return "ok"
	case "degraded", "warn", "warning":
		return "degraded"
	case "error", "unhealthy", "down", "fail", "failed":
		return "error"
	default:
		return "error"
	}
}
