// Package channel provides the bounded mailbox primitive backing the
// in-memory broker's queues.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrMailboxClosed is returned by Send and Receive after Close.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is a bounded FIFO buffer with context-aware send and receive.
// Close stops new sends immediately; items already buffered remain
// receivable until drained.
type Mailbox[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once

	enqueued atomic.Int64
	dequeued atomic.Int64
	dropped  atomic.Int64
}

// NewMailbox creates a mailbox with the given capacity.
func NewMailbox[T any](capacity int) *Mailbox[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Mailbox[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues v, blocking until there is room, the mailbox closes, or
// ctx is done.
func (m *Mailbox[T]) Send(ctx context.Context, v T) error {
	select {
	case <-m.done:
		return ErrMailboxClosed
	default:
	}

	select {
	case m.ch <- v:
		m.enqueued.Add(1)
		return nil
	case <-m.done:
		return ErrMailboxClosed
	case <-ctx.Done():
		m.dropped.Add(1)
		return ctx.Err()
	}
}

// TrySend attempts a non-blocking enqueue. A false return means the
// mailbox was full or closed; the item counts as dropped.
func (m *Mailbox[T]) TrySend(v T) bool {
	select {
	case <-m.done:
		m.dropped.Add(1)
		return false
	default:
	}

	select {
	case m.ch <- v:
		m.enqueued.Add(1)
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

// Receive dequeues the next item, blocking until one is available, the
// mailbox is closed and drained, or ctx is done.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	// Buffered items win over close.
	select {
	case v := <-m.ch:
		m.dequeued.Add(1)
		return v, nil
	default:
	}

	select {
	case v := <-m.ch:
		m.dequeued.Add(1)
		return v, nil
	case <-m.done:
		// Close may have raced with a final send.
		select {
		case v := <-m.ch:
			m.dequeued.Add(1)
			return v, nil
		default:
		}
		var zero T
		return zero, ErrMailboxClosed
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of buffered items.
func (m *Mailbox[T]) Len() int {
	return len(m.ch)
}

// Cap returns the mailbox capacity.
func (m *Mailbox[T]) Cap() int {
	return cap(m.ch)
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Close stops the mailbox. Subsequent sends fail; receives drain the
// remaining buffer and then fail. Safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.once.Do(func() {
		close(m.done)
	})
}

// Stats returns mailbox counters.
func (m *Mailbox[T]) Stats() MailboxStats {
	return MailboxStats{
		Depth:    len(m.ch),
		Capacity: cap(m.ch),
		Enqueued: m.enqueued.Load(),
		Dequeued: m.dequeued.Load(),
		Dropped:  m.dropped.Load(),
	}
}

// MailboxStats contains mailbox counters.
type MailboxStats struct {
	Depth    int   `json:"depth"`
	Capacity int   `json:"capacity"`
	Enqueued int64 `json:"enqueued"`
	Dequeued int64 `json:"dequeued"`
	Dropped  int64 `json:"dropped"`
}
