package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/channel"
	"github.com/BaSui01/swarmflow/types"
)

// MemoryBroker is an in-process Broker over buffered channels. FIFO per
// queue; suitable for tests, the demo command, and single-process
// deployments. Acks are bookkeeping only since nothing is redelivered.
type MemoryBroker struct {
	logger *zap.Logger
	cfg    Config

	mu        sync.RWMutex
	exchanges map[string]*memExchange
	queues    map[string]*channel.Mailbox[Delivery]
	closed    bool

	published atomic.Int64
	delivered atomic.Int64
	acked     atomic.Int64
}

type memExchange struct {
	kind     ExchangeKind
	bindings []memBinding
}

type memBinding struct {
	queue string
	key   string
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(cfg Config, logger *zap.Logger) *MemoryBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	return &MemoryBroker{
		logger:    logger.With(zap.String("component", "memory_broker")),
		cfg:       cfg,
		exchanges: make(map[string]*memExchange),
		queues:    make(map[string]*channel.Mailbox[Delivery]),
	}
}

// DeclareExchange registers an exchange. Redeclaring with the same kind
// is a no-op; a different kind is an error.
func (b *MemoryBroker) DeclareExchange(ctx context.Context, name string, kind ExchangeKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	if ex, ok := b.exchanges[name]; ok {
		if ex.kind != kind {
			return fmt.Errorf("%w: %s is %s, not %s", ErrKindMismatch, name, ex.kind, kind)
		}
		return nil
	}

	b.exchanges[name] = &memExchange{kind: kind}
	b.logger.Debug("exchange declared",
		zap.String("exchange", name),
		zap.String("kind", string(kind)))
	return nil
}

// DeclareQueue registers a queue. Idempotent.
func (b *MemoryBroker) DeclareQueue(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	if _, ok := b.queues[name]; ok {
		return nil
	}

	b.queues[name] = channel.NewMailbox[Delivery](b.cfg.QueueDepth)
	b.logger.Debug("queue declared", zap.String("queue", name))
	return nil
}

// BindQueue binds a declared queue to a declared exchange. Identical
// bindings dedupe.
func (b *MemoryBroker) BindQueue(ctx context.Context, queue, exchange, bindingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	ex, ok := b.exchanges[exchange]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}
	if _, ok := b.queues[queue]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	for _, bind := range ex.bindings {
		if bind.queue == queue && bind.key == bindingKey {
			return nil
		}
	}

	ex.bindings = append(ex.bindings, memBinding{queue: queue, key: bindingKey})
	b.logger.Debug("queue bound",
		zap.String("queue", queue),
		zap.String("exchange", exchange),
		zap.String("binding_key", bindingKey))
	return nil
}

// Publish routes msg to every queue whose binding matches. Every matched
// queue receives an independent copy decoded from the wire bytes.
func (b *MemoryBroker) Publish(ctx context.Context, exchange, routingKey string, msg types.AgentMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	body, err := msg.Marshal()
	if err != nil {
		return types.NewTransportError("encode envelope", err)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	ex, ok := b.exchanges[exchange]
	if !ok {
		b.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}
	var targets []*channel.Mailbox[Delivery]
	for _, bind := range ex.bindings {
		if !ex.kind.Matches(bind.key, routingKey) {
			continue
		}
		if q, ok := b.queues[bind.queue]; ok {
			targets = append(targets, q)
		}
	}
	b.mu.RUnlock()

	for _, q := range targets {
		copied, err := types.ParseAgentMessage(body)
		if err != nil {
			return types.NewTransportError("decode envelope", err)
		}
		if err := q.Send(ctx, b.newDelivery(copied)); err != nil {
			return types.NewTransportError("enqueue envelope", err)
		}
	}

	b.published.Add(1)
	return nil
}

func (b *MemoryBroker) newDelivery(msg types.AgentMessage) Delivery {
	var once sync.Once
	return NewDelivery(msg, func(context.Context) error {
		once.Do(func() {
			b.acked.Add(1)
		})
		return nil
	})
}

// Consume yields deliveries from the named queue until ctx is done or the
// broker closes.
func (b *MemoryBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBrokerClosed
	}
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			d, err := q.Receive(ctx)
			if err != nil {
				return
			}
			select {
			case out <- d:
				b.delivered.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Stats returns counters and per-queue depths.
func (b *MemoryBroker) Stats(ctx context.Context) (BrokerStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	depths := make(map[string]int64, len(b.queues))
	for name, q := range b.queues {
		depths[name] = int64(q.Len())
	}

	return BrokerStats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Acked:       b.acked.Load(),
		QueueDepths: depths,
	}, nil
}

// Ping checks broker health.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

// Close stops the broker. Buffered deliveries drain; new publishes fail.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, q := range b.queues {
		q.Close()
	}
	return nil
}

// Ensure MemoryBroker implements Broker
var _ Broker = (*MemoryBroker)(nil)
