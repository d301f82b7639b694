// Package model defines the shared data types that flow between fleetmesh's
// core components: agent specifications, runtime records, health reports,
// requests, routing decisions, and the error taxonomy.
//
// Ownership follows the rule laid out by the orchestration design: ConfigLoader
// owns AgentSpecs (read-only after load), Registry exclusively owns AgentRecord
// mutations, Coordinator owns a Request for its lifetime, and the Health Hub
// owns HealthReport history and CircuitBreakerState. Nothing in this package
// enforces those rules — it only defines the shapes; enforcement lives in the
// owning packages.
package model
