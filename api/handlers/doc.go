// Copyright (c) SwarmFlow Authors.
// Licensed under the MIT License.

// Package handlers implements the HTTP handlers for the SwarmFlow ops API.
//
// The ops API is a control surface over one running orchestrator: assign
// tasks, inspect the live registry, open vote rounds, tally consensus, and
// query the durable archive. It is not the coordination plane itself; agents
// talk to the orchestrator over the message broker, never over HTTP.
//
// Handlers:
//   - TaskHandler: assignment, lookup, listing, and stats over the registry
//   - AgentHandler: the informational agent roster
//   - VoteHandler: vote rounds and consensus tallies
//   - ArchiveHandler: archived task and consensus history
//   - EventsHandler: WebSocket stream of orchestrator lifecycle events
//   - HealthHandler: liveness, readiness, and version endpoints
//
// Every endpoint writes the shared Response envelope. Errors carry a
// machine-readable code from the types package; codes map onto HTTP status
// in mapErrorCodeToHTTPStatus unless the error pins a status explicitly.
//
// Route registration, middleware, and authentication live with the server
// in cmd/swarmflow; handlers stay thin and mux-agnostic.
package handlers
