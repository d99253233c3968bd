package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

// Redis key layout. Exchange kinds and bindings are persisted so that
// declarations are idempotent and survive restarts.
const (
	redisStreamPrefix   = "swarmflow:q:"
	redisExchangesKey   = "swarmflow:exchanges"
	redisBindingsPrefix = "swarmflow:bindings:"
	redisQueuesKey      = "swarmflow:queues"
	redisGroup          = "swarmflow"

	redisBodyField = "body"
)

func streamKey(queue string) string { return redisStreamPrefix + queue }

// RedisBroker is a Broker over Redis Streams: one stream per queue, one
// consumer group per stream. Entries stay pending until acked, giving
// at-least-once delivery; a restarting consumer re-reads its pending
// backlog before new entries. The consumer name is the queue name, which
// keeps the pending list reachable across restarts since every queue has
// exactly one logical owner.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
	cfg    Config

	closed    atomic.Bool
	published atomic.Int64
	delivered atomic.Int64
	acked     atomic.Int64
}

// NewRedisBroker connects to Redis and returns a streams-backed broker.
func NewRedisBroker(cfg Config, logger *zap.Logger) (*RedisBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultConfig().Block
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBroker{
		client: client,
		logger: logger.With(zap.String("component", "redis_broker")),
		cfg:    cfg,
	}, nil
}

// DeclareExchange persists the exchange kind. Redeclaring with the same
// kind is a no-op; a different kind is an error.
func (b *RedisBroker) DeclareExchange(ctx context.Context, name string, kind ExchangeKind) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}

	existing, err := b.client.HGet(ctx, redisExchangesKey, name).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return types.NewTransportError("declare exchange", err)
	}
	if err == nil {
		if ExchangeKind(existing) != kind {
			return fmt.Errorf("%w: %s is %s, not %s", ErrKindMismatch, name, existing, kind)
		}
		return nil
	}

	if err := b.client.HSet(ctx, redisExchangesKey, name, string(kind)).Err(); err != nil {
		return types.NewTransportError("declare exchange", err)
	}
	return nil
}

// DeclareQueue creates the queue's stream and consumer group. Idempotent.
func (b *RedisBroker) DeclareQueue(ctx context.Context, name string) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}

	if err := b.ensureGroup(ctx, name); err != nil {
		return err
	}
	if err := b.client.SAdd(ctx, redisQueuesKey, name).Err(); err != nil {
		return types.NewTransportError("register queue", err)
	}
	return nil
}

func (b *RedisBroker) ensureGroup(ctx context.Context, queue string) error {
	err := b.client.XGroupCreateMkStream(ctx, streamKey(queue), redisGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return types.NewTransportError("create consumer group", err)
	}
	return nil
}

// BindQueue persists a binding. Idempotent via set membership.
func (b *RedisBroker) BindQueue(ctx context.Context, queue, exchange, bindingKey string) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}

	exists, err := b.client.HExists(ctx, redisExchangesKey, exchange).Result()
	if err != nil {
		return types.NewTransportError("bind queue", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}

	member, err := b.client.SIsMember(ctx, redisQueuesKey, queue).Result()
	if err != nil {
		return types.NewTransportError("bind queue", err)
	}
	if !member {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	binding := bindingKey + "|" + queue
	if err := b.client.SAdd(ctx, redisBindingsPrefix+exchange, binding).Err(); err != nil {
		return types.NewTransportError("bind queue", err)
	}
	return nil
}

// Publish routes msg to every stream whose binding matches. Bindings are
// resolved from Redis at publish time so publishers see bindings made by
// other processes.
func (b *RedisBroker) Publish(ctx context.Context, exchange, routingKey string, msg types.AgentMessage) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	body, err := msg.Marshal()
	if err != nil {
		return types.NewTransportError("encode envelope", err)
	}

	kindStr, err := b.client.HGet(ctx, redisExchangesKey, exchange).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}
	if err != nil {
		return types.NewTransportError("resolve exchange", err)
	}
	kind := ExchangeKind(kindStr)

	bindings, err := b.client.SMembers(ctx, redisBindingsPrefix+exchange).Result()
	if err != nil {
		return types.NewTransportError("resolve bindings", err)
	}

	for _, binding := range bindings {
		key, queue, ok := strings.Cut(binding, "|")
		if !ok {
			continue
		}
		if !kind.Matches(key, routingKey) {
			continue
		}

		args := &redis.XAddArgs{
			Stream: streamKey(queue),
			Values: map[string]any{redisBodyField: string(body)},
		}
		if b.cfg.StreamMaxLen > 0 {
			args.MaxLen = b.cfg.StreamMaxLen
			args.Approx = true
		}
		if err := b.client.XAdd(ctx, args).Err(); err != nil {
			return types.NewTransportError("append to stream", err)
		}
	}

	b.published.Add(1)
	return nil
}

// Consume yields deliveries from the named queue. The consumer's pending
// backlog is replayed before new entries are read.
func (b *RedisBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	if b.closed.Load() {
		return nil, ErrBrokerClosed
	}
	if err := b.ensureGroup(ctx, queue); err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go b.consumeLoop(ctx, queue, out)
	return out, nil
}

func (b *RedisBroker) consumeLoop(ctx context.Context, queue string, out chan<- Delivery) {
	defer close(out)
	stream := streamKey(queue)

	// Phase 1: replay this consumer's pending backlog (delivered but
	// never acked before a restart).
	cursor := "0"
	for {
		if ctx.Err() != nil || b.closed.Load() {
			return
		}
		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    redisGroup,
			Consumer: queue,
			Streams:  []string{stream, cursor},
			Count:    64,
			Block:    -1,
		}).Result()
		if err != nil || len(res) == 0 || len(res[0].Messages) == 0 {
			break
		}
		for _, xmsg := range res[0].Messages {
			if !b.deliver(ctx, stream, queue, xmsg, out) {
				return
			}
			cursor = xmsg.ID
		}
	}

	// Phase 2: block on new entries.
	for {
		if ctx.Err() != nil || b.closed.Load() {
			return
		}
		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    redisGroup,
			Consumer: queue,
			Streams:  []string{stream, ">"},
			Count:    16,
			Block:    b.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil || b.closed.Load() {
				return
			}
			b.logger.Warn("stream read failed",
				zap.String("queue", queue),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		for _, xs := range res {
			for _, xmsg := range xs.Messages {
				if !b.deliver(ctx, stream, queue, xmsg, out) {
					return
				}
			}
		}
	}
}

// deliver decodes one stream entry and hands it to the consumer. A false
// return means the consume loop should stop.
func (b *RedisBroker) deliver(ctx context.Context, stream, queue string, xmsg redis.XMessage, out chan<- Delivery) bool {
	body, _ := xmsg.Values[redisBodyField].(string)
	msg, err := types.ParseAgentMessage([]byte(body))
	if err != nil {
		// Malformed entries are acked away so they do not wedge the
		// pending list.
		b.logger.Warn("dropping malformed envelope",
			zap.String("queue", queue),
			zap.String("entry_id", xmsg.ID),
			zap.Error(err))
		_ = b.client.XAck(ctx, stream, redisGroup, xmsg.ID).Err()
		return true
	}

	entryID := xmsg.ID
	var once sync.Once
	d := NewDelivery(msg, func(ackCtx context.Context) error {
		var ackErr error
		once.Do(func() {
			ackErr = b.client.XAck(ackCtx, stream, redisGroup, entryID).Err()
			if ackErr == nil {
				b.acked.Add(1)
			}
		})
		return ackErr
	})

	select {
	case out <- d:
		b.delivered.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

// Stats returns counters and per-queue stream lengths.
func (b *RedisBroker) Stats(ctx context.Context) (BrokerStats, error) {
	stats := BrokerStats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Acked:       b.acked.Load(),
		QueueDepths: make(map[string]int64),
	}

	queues, err := b.client.SMembers(ctx, redisQueuesKey).Result()
	if err != nil {
		return stats, types.NewTransportError("list queues", err)
	}
	for _, q := range queues {
		n, err := b.client.XLen(ctx, streamKey(q)).Result()
		if err != nil {
			continue
		}
		stats.QueueDepths[q] = n
	}
	return stats, nil
}

// Ping checks the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	return b.client.Ping(ctx).Err()
}

// Close releases the Redis connection. Running consume loops end once
// their in-flight read returns.
func (b *RedisBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}

// Ensure RedisBroker implements Broker
var _ Broker = (*RedisBroker)(nil)
