// Package config loads and validates the unified fleet configuration
// document described in SPEC_FULL.md §6: global settings, a flat agent
// namespace, and named deployment profiles. It is the sole owner of
// AgentSpec values — everything downstream treats the Manifest it produces
// as read-only.
//
// The document is YAML, decoded with gopkg.in/yaml.v3 in strict mode so an
// unrecognized field is a ConfigError rather than a silently ignored typo.
package config
