// Package agent implements the worker side of the coordination layer: a
// runtime that consumes TASK envelopes from the agent's private queue,
// dispatches them to a capability handler, publishes RESULT envelopes back
// to its orchestrator, and casts votes on request. One runtime instance is
// one logical agent.
package agent
