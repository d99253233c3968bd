package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/transport"
)

// receiveTimeout bounds every blocking receive in the fixtures. Memory-broker
// deliveries are near-instant; two seconds means a miss is a bug, not load.
const receiveTimeout = 2 * time.Second

// NewMemoryBroker returns an in-memory broker with the core topology already
// declared, closed at test cleanup. Publishes to the shared exchanges work
// from the moment this returns.
func NewMemoryBroker(t *testing.T) *transport.MemoryBroker {
	t.Helper()
	broker := transport.NewMemoryBroker(transport.DefaultConfig(), zap.NewNop())
	t.Cleanup(func() { _ = broker.Close() })
	if err := transport.DeclareTopology(context.Background(), broker); err != nil {
		t.Fatalf("declare topology: %v", err)
	}
	return broker
}

// NewMemoryStore returns an in-memory task store closed at test cleanup.
func NewMemoryStore(t *testing.T) *registry.MemoryStore {
	t.Helper()
	store := registry.NewMemoryStore(registry.Config{})
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// BindQueue declares queue and binds it to exchange under routingKey without
// consuming, so messages published afterwards buffer for a consumer that
// starts later.
func BindQueue(t *testing.T, broker transport.Broker, queue, exchange, routingKey string) {
	t.Helper()
	ctx := context.Background()
	if err := broker.DeclareQueue(ctx, queue); err != nil {
		t.Fatalf("declare queue %s: %v", queue, err)
	}
	if err := broker.BindQueue(ctx, queue, exchange, routingKey); err != nil {
		t.Fatalf("bind queue %s to %s: %v", queue, exchange, err)
	}
}

// ConsumeQueue declares, binds, and consumes queue, returning the delivery
// stream. The test observes traffic the way a runtime participant would.
func ConsumeQueue(t *testing.T, broker transport.Broker, queue, exchange, routingKey string) <-chan transport.Delivery {
	t.Helper()
	BindQueue(t, broker, queue, exchange, routingKey)
	deliveries, err := broker.Consume(context.Background(), queue)
	if err != nil {
		t.Fatalf("consume queue %s: %v", queue, err)
	}
	return deliveries
}

// ReceiveDelivery receives and acks one delivery, failing the test if the
// stream closes or stays quiet past the receive timeout.
func ReceiveDelivery(t *testing.T, deliveries <-chan transport.Delivery) transport.Delivery {
	t.Helper()
	select {
	case d, ok := <-deliveries:
		if !ok {
			t.Fatal("delivery channel closed")
		}
		_ = d.Ack(context.Background())
		return d
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for delivery")
		return transport.Delivery{}
	}
}

// AssertNoDelivery fails the test if anything arrives within a short quiet
// window. For asserting drops and dedup.
func AssertNoDelivery(t *testing.T, deliveries <-chan transport.Delivery) {
	t.Helper()
	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery: %s", d.Message.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

// RunUntilCleanup starts run in a goroutine and cancels it at test cleanup,
// failing the test if it returns an error or does not stop within the
// receive timeout. For orchestrator and agent Run loops.
func RunUntilCleanup(t *testing.T, run func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run loop exited with error: %v", err)
			}
		case <-time.After(receiveTimeout):
			t.Error("run loop did not stop after cancel")
		}
	})
}
