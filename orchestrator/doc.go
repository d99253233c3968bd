// Copyright (c) SwarmFlow Authors.
// Licensed under the MIT License.

/*
Package orchestrator implements the coordinating side of the swarm: task
assignment, result collection, vote rounds, and consensus resolution.

An Orchestrator is an explicit instance, not package state, so tests and
multi-tenant processes construct as many as they need. It owns two consume
loops (results queue, vote queue), a task store, a vote ledger, and an
informational agent registry populated from AGENT_READY announcements.

# Task lifecycle

AssignTask records the task first and publishes second: a task id returned
to the caller is always queryable, and a failed publish leaves an errored
record instead of a dangling id. Results are correlated by task id; a
RESULT for a task this instance never issued is logged, counted, and
dropped. Duplicate results overwrite (last write wins) because
at-least-once delivery makes duplicates expected, not exceptional.

# Voting

InitiateVote opens a round keyed by (topic, task id), records the declared
options, and broadcasts a VOTE_REQUEST. Ballots are validated against the
declared options, deduplicated per agent (first vote wins), and tallied on
demand by CoordinateConsensus, which reports success, tie, or no_votes for
whatever ballots exist at call time. There is no quorum and no timeout:
callers decide when a round is done.

# Events

Every lifecycle transition is mirrored onto an in-process EventBus
(task_assigned, task_completed, result_unknown, vote_recorded,
vote_requested, consensus_reached) so the ops API can stream live state
over WebSocket without touching the hot path.
*/
package orchestrator
