// Package snapshot persists the Registry's AgentRecord map to local storage
// so a restarted Registry can reconstruct state during its bootstrap window:
// a single file containing the serialized AgentRecord map plus a monotonic
// generation counter, rotated on each snapshot.
//
// Store is intentionally narrow — Save/Load, not a general key-
// value interface — because the Registry is the only caller and it only
// ever has one logical document to persist.
package snapshot
