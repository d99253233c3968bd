package orchestrator

import (
	"sync"
	"time"
)

// EventType names one orchestrator lifecycle transition.
type EventType string

const (
	EventTaskAssigned     EventType = "task_assigned"
	EventTaskCompleted    EventType = "task_completed"
	EventResultUnknown    EventType = "result_unknown"
	EventVoteRecorded     EventType = "vote_recorded"
	EventVoteRequested    EventType = "vote_requested"
	EventConsensusReached EventType = "consensus_reached"
)

// Event is one lifecycle notification. Data carries the ids and values a
// subscriber needs to render the transition and is never mutated after
// publish.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventBus fans orchestrator events out to in-process subscribers, feeding
// the ops API's WebSocket stream. Publish never blocks: a subscriber that
// stops draining loses events rather than stalling the consume loops.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewEventBus creates a bus whose subscriber channels buffer up to buffer
// events each.
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// function. Cancel is idempotent; the channel is closed on cancel and on
// bus Close. Subscribing to a closed bus yields an already-closed channel.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, stamping the time when
// unset. Sends are non-blocking; full subscriber buffers drop the event.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel and turns Publish into a no-op.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
