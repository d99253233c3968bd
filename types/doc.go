// Copyright (c) SwarmFlow Authors.
// Licensed under the MIT License.

/*
Package types defines the shared wire and error contracts of the swarmflow
coordination layer.

types is the lowest-level public package: it depends on nothing but the
standard library, so every other package (transport, agent, orchestrator,
api) can import it without cycles.

# Wire contract

  - AgentMessage: the envelope every participant exchanges: sender,
    optional receiver (nil = broadcast), a closed MessageType enum,
    a raw JSON payload, and an optional task id
  - TaskPayload / VotePayload / VoteRequestPayload / AgentReadyPayload:
    the typed payload shapes, one per message type; RESULT payloads stay
    an open map because their shape belongs to the domain handler
  - Constructors (NewTaskMessage, NewVoteMessage, …) that keep the
    nullable fields consistent with the message type

# Errors

  - Error / ErrorCode: structured errors with retryability and cause
    chaining; codes cover the coordination taxonomy (TRANSPORT,
    UNKNOWN_TASK, DUPLICATE_VOTE, HANDLER, VALIDATION, STORE, CONFIG)
  - Helpers: WrapError, AsError, IsErrorCode, IsRetryable, GetErrorCode

# Context propagation

  - WithTraceID / WithUserID / WithRoles and their accessors, used by the
    ops API middleware
*/
package types
