package config

import "os"

// Resolve implements the precedence launch-argument > environment >
// config-file > built-in default required by the manifest. Empty strings at
// any tier are treated as absent and fall through to the next tier.
func Resolve(flagValue, envKey, fileValue, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return def
}
