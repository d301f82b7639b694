// Package llmrouter implements the hybrid LLM router:
// deterministic local/remote backend selection for chat/reasoning/
// code_gen/tool_use requests, with the same circuit-breaker and retry
// semantics as internal/coordinator but scoped to backend names ("local",
// "remote") instead of agent names.
package llmrouter
