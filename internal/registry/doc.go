// Package registry implements the authoritative in-memory map of agent
// name to (endpoint, capabilities, state), with periodic durable snapshots
// for cold-start reconstruction.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│ Registry │
//	├──────────────────────────────────────────┤
//	│ records: map[name]*AgentRecord │
//	│ leases: map[token]name │
//	│ mu: Mutex — single writer, O(1) critical │
//	│ section, │
//	├──────────────────────────────────────────┤
//	│ subscribers: per-name ordered ChangeEvent │
//	│ delivery via buffered channels │
//	└──────────────────────────────────────────┘
//
// Concurrency model: Register/Renew/Deregister/transition all take the same
// mutex, and every state or endpoint change emits exactly one ChangeEvent
// before releasing it (Renew and RecordHealth change neither and emit
// none), so subscribers for a given name observe transitions in the order they
// occurred. Lookup/Query copy records under a read path so callers never
// observe a record mid-mutation.
package registry
