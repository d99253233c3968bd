package transport

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// Common errors
var (
	ErrBrokerClosed    = errors.New("broker is closed")
	ErrUnknownExchange = errors.New("unknown exchange")
	ErrUnknownQueue    = errors.New("unknown queue")
	ErrKindMismatch    = errors.New("exchange redeclared with a different kind")
)

// Kind selects a broker implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// ExchangeKind is the routing discipline of an exchange.
type ExchangeKind string

const (
	// ExchangeDirect routes to bindings whose key equals the routing key.
	ExchangeDirect ExchangeKind = "direct"

	// ExchangeTopic routes to bindings whose dot-separated pattern matches
	// the routing key.
	ExchangeTopic ExchangeKind = "topic"

	// ExchangeFanout routes to every binding regardless of key.
	ExchangeFanout ExchangeKind = "fanout"
)

// Matches reports whether a binding with the given key accepts the
// routing key under this exchange kind.
func (k ExchangeKind) Matches(bindingKey, routingKey string) bool {
	switch k {
	case ExchangeDirect:
		return bindingKey == routingKey
	case ExchangeTopic:
		return MatchTopic(bindingKey, routingKey)
	case ExchangeFanout:
		return true
	default:
		return false
	}
}

// Core topology. These names are stable: external tooling and other
// deployments bind to them.
const (
	TaskExchange      = "task_exchange"
	ResultExchange    = "result_exchange"
	VoteExchange      = "vote_exchange"
	BroadcastExchange = "broadcast_exchange"
)

// VoteBindingPattern matches every vote routing key on the vote exchange.
const VoteBindingPattern = "vote.*"

// TaskQueue returns the private task queue name for an agent.
func TaskQueue(agentID string) string { return agentID + "_task_queue" }

// BroadcastQueue returns the private broadcast queue name for an agent.
func BroadcastQueue(agentID string) string { return agentID + "_broadcast_queue" }

// ResultsQueue returns the results queue name for an orchestrator.
func ResultsQueue(orchestratorID string) string { return orchestratorID + "_results_queue" }

// VoteQueue returns the vote queue name for an orchestrator.
func VoteQueue(orchestratorID string) string { return orchestratorID + "_vote_queue" }

// VoteRoutingKey returns the routing key votes on the given topic travel
// under.
func VoteRoutingKey(topic string) string { return "vote." + topic }

// Config tunes broker construction.
type Config struct {
	// Broker kind: memory, redis
	Kind Kind `json:"kind" yaml:"kind"`

	// Per-queue buffer capacity for the memory broker
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`

	// Approximate cap on Redis stream length (0 = unbounded)
	StreamMaxLen int64 `json:"stream_max_len" yaml:"stream_max_len"`

	// Block interval for Redis stream reads
	Block time.Duration `json:"block" yaml:"block"`

	// Redis connection (only used when Kind is "redis")
	Redis RedisConnConfig `json:"redis" yaml:"redis"`
}

// RedisConnConfig contains Redis connection settings.
type RedisConnConfig struct {
	Addr         string `json:"addr" yaml:"addr"`
	Password     string `json:"password" yaml:"password"`
	DB           int    `json:"db" yaml:"db"`
	PoolSize     int    `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `json:"min_idle_conns" yaml:"min_idle_conns"`
}

// DefaultConfig returns the default broker configuration.
func DefaultConfig() Config {
	return Config{
		Kind:         KindMemory,
		QueueDepth:   256,
		StreamMaxLen: 4096,
		Block:        5 * time.Second,
		Redis: RedisConnConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
	}
}

// Delivery is one received envelope plus its acknowledgement handle.
type Delivery struct {
	Message types.AgentMessage

	ack func(context.Context) error
}

// NewDelivery builds a delivery. A nil ack makes Ack a no-op.
func NewDelivery(msg types.AgentMessage, ack func(context.Context) error) Delivery {
	return Delivery{Message: msg, ack: ack}
}

// Ack confirms the delivery with the broker. Brokers tolerate repeated
// acks for the same delivery.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// BrokerStats contains broker counters and per-queue depths.
type BrokerStats struct {
	Published   int64            `json:"published"`
	Delivered   int64            `json:"delivered"`
	Acked       int64            `json:"acked"`
	QueueDepths map[string]int64 `json:"queue_depths"`
}

// Broker is the messaging fabric between orchestrators and agents.
//
// Declarations are idempotent. Publish is synchronous: a broker failure
// propagates as a hard error and is never swallowed. Consume yields a
// delivery stream that ends when ctx is cancelled or the broker closes.
type Broker interface {
	DeclareExchange(ctx context.Context, name string, kind ExchangeKind) error
	DeclareQueue(ctx context.Context, name string) error
	BindQueue(ctx context.Context, queue, exchange, bindingKey string) error

	Publish(ctx context.Context, exchange, routingKey string, msg types.AgentMessage) error
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	Stats(ctx context.Context) (BrokerStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// DeclareTopology declares the four core exchanges. Idempotent; every
// participant calls it on startup.
func DeclareTopology(ctx context.Context, b Broker) error {
	declarations := []struct {
		name string
		kind ExchangeKind
	}{
		{TaskExchange, ExchangeDirect},
		{ResultExchange, ExchangeDirect},
		{VoteExchange, ExchangeTopic},
		{BroadcastExchange, ExchangeFanout},
	}
	for _, d := range declarations {
		if err := b.DeclareExchange(ctx, d.name, d.kind); err != nil {
			return err
		}
	}
	return nil
}

// DeclareOrchestratorQueues declares and binds the results and vote queues
// for an orchestrator id. Idempotent; the orchestrator declares them on
// startup as well. Supervisors that boot agents alongside an orchestrator
// call this first, so an AGENT_READY published before the orchestrator's own
// setup buffers in a bound queue instead of being dropped unrouted.
func DeclareOrchestratorQueues(ctx context.Context, b Broker, orchestratorID string) error {
	resultsQueue := ResultsQueue(orchestratorID)
	if err := b.DeclareQueue(ctx, resultsQueue); err != nil {
		return err
	}
	if err := b.BindQueue(ctx, resultsQueue, ResultExchange, orchestratorID); err != nil {
		return err
	}
	voteQueue := VoteQueue(orchestratorID)
	if err := b.DeclareQueue(ctx, voteQueue); err != nil {
		return err
	}
	return b.BindQueue(ctx, voteQueue, VoteExchange, VoteBindingPattern)
}

// MatchTopic reports whether a dot-separated binding pattern matches a
// routing key. `*` matches exactly one segment, `#` matches zero or more.
func MatchTopic(pattern, key string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchSegments(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchSegments(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}
