// Package bus implements the in-process error bus that the Health Hub and
// the Coordinator publish to. It is not a network broker and has no HTTP
// ingress: only code in the same process can publish, and agent processes
// do not send their errors to it (an agent's ERROR_BUS_ENDPOINT value is
// read into agent.Config but not used).
//
// Subscribers receive on independent buffered channels so one slow
// subscriber cannot block publication to the others, or block the publisher.
package bus
