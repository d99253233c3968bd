package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishFanout(t *testing.T) {
	bus := NewEventBus(4)
	defer bus.Close()

	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(Event{Type: EventTaskAssigned, Data: map[string]any{"task_id": "task-1"}})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case evt := <-ch:
			assert.Equal(t, EventTaskAssigned, evt.Type)
			assert.Equal(t, "task-1", evt.Data["task_id"])
			assert.False(t, evt.Timestamp.IsZero(), "publish must stamp the time")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestEventBus_KeepsPresetTimestamp(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	events, cancel := bus.Subscribe()
	defer cancel()

	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Publish(Event{Type: EventVoteRecorded, Timestamp: stamp})

	evt := <-events
	assert.True(t, stamp.Equal(evt.Timestamp))
}

func TestEventBus_CancelIsIdempotent(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	events, cancel := bus.Subscribe()
	cancel()
	cancel()
	assert.Zero(t, bus.Subscribers())

	_, ok := <-events
	assert.False(t, ok, "cancel must close the channel")

	// No subscribers left; publishing is a no-op.
	bus.Publish(Event{Type: EventTaskAssigned})
}

func TestEventBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	events, cancel := bus.Subscribe()
	defer cancel()

	// Publishing past a full buffer never blocks the publisher.
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventVoteRecorded, Data: map[string]any{"seq": i}})
	}

	evt := <-events
	assert.Equal(t, 0, evt.Data["seq"], "the buffered event is the oldest one")

	select {
	case extra := <-events:
		t.Fatalf("buffer of one must drop the overflow, got seq %v", extra.Data["seq"])
	default:
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(1)

	events, cancel := bus.Subscribe()
	defer cancel()

	bus.Close()
	bus.Close()

	_, ok := <-events
	assert.False(t, ok, "close must end every subscription")
	assert.Zero(t, bus.Subscribers())

	late, cancelLate := bus.Subscribe()
	defer cancelLate()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed stream")

	// Publish after close is a no-op, not a panic.
	bus.Publish(Event{Type: EventTaskCompleted})
}
