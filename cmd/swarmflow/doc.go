// Copyright (c) SwarmFlow Authors.
// Licensed under the MIT License.

/*
Package main is the swarmflow command.

It bundles every deployable role of the coordination layer behind one
binary:

  - serve: run the orchestrator with its ops HTTP API and metrics server
  - agent: run one worker agent against a shared broker
  - demo: offline end-to-end walkthrough on the in-memory broker
  - migrate: apply or inspect the archive schema migrations
  - version, health: build info and a liveness probe for scripts

serve owns the process lifecycle: it builds the broker, registry, archive,
and orchestrator from configuration, mounts the handlers from api/handlers
behind the middleware chain defined here, and shuts everything down in
dependency order on SIGINT/SIGTERM. The middleware chain (recovery, request
id, security headers, logging, CORS, rate limiting, API key and JWT auth,
metrics, tracing) lives in this package because it is deployment policy,
not handler logic.

Version, BuildTime, and GitCommit are injected at build time via ldflags.
*/
package main
