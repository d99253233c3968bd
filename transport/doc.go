// Package transport is the messaging fabric between orchestrators and
// agents.
//
// It models a small AMQP-style topology: named exchanges with direct,
// topic, or fanout routing, and named queues bound to them. The core
// topology (task_exchange, result_exchange, vote_exchange,
// broadcast_exchange) has stable names that deployments depend on.
//
// Two Broker implementations exist behind NewBroker: an in-process
// memory broker for tests and single-process deployments, and a Redis
// Streams broker for distributed ones. Delivery is at-least-once;
// consumers must tolerate duplicates and ack explicitly.
package transport
