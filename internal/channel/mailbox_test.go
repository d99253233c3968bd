package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_SendReceive(t *testing.T) {
	mb := NewMailbox[int](4)
	defer mb.Close()

	ctx := context.Background()

	require.NoError(t, mb.Send(ctx, 1))
	require.NoError(t, mb.Send(ctx, 2))
	assert.Equal(t, 2, mb.Len())

	v, err := mb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = mb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMailbox_SendBlocksUntilRoom(t *testing.T) {
	mb := NewMailbox[int](1)
	defer mb.Close()

	ctx := context.Background()
	require.NoError(t, mb.Send(ctx, 1))

	done := make(chan error, 1)
	go func() {
		done <- mb.Send(ctx, 2)
	}()

	// The second send is parked until a receive frees the slot.
	select {
	case <-done:
		t.Fatal("send returned before room was available")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := mb.Receive(ctx)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not complete after room freed")
	}
}

func TestMailbox_SendContextCancelled(t *testing.T) {
	mb := NewMailbox[int](1)
	defer mb.Close()

	require.NoError(t, mb.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := mb.Send(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), mb.Stats().Dropped)
}

func TestMailbox_TrySend(t *testing.T) {
	mb := NewMailbox[int](1)
	defer mb.Close()

	assert.True(t, mb.TrySend(1))
	assert.False(t, mb.TrySend(2))

	stats := mb.Stats()
	assert.Equal(t, int64(1), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestMailbox_ReceiveContextCancelled(t *testing.T) {
	mb := NewMailbox[int](1)
	defer mb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mb.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailbox_CloseStopsSends(t *testing.T) {
	mb := NewMailbox[int](4)
	mb.Close()

	err := mb.Send(context.Background(), 1)
	assert.ErrorIs(t, err, ErrMailboxClosed)
	assert.False(t, mb.TrySend(2))
	assert.True(t, mb.Closed())
}

func TestMailbox_CloseDrainsBuffered(t *testing.T) {
	mb := NewMailbox[int](4)

	ctx := context.Background()
	require.NoError(t, mb.Send(ctx, 1))
	require.NoError(t, mb.Send(ctx, 2))

	mb.Close()

	// Buffered items survive the close.
	v, err := mb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = mb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = mb.Receive(ctx)
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestMailbox_CloseIdempotent(t *testing.T) {
	mb := NewMailbox[int](1)

	assert.NotPanics(t, func() {
		mb.Close()
		mb.Close()
	})
}

func TestMailbox_MinimumCapacity(t *testing.T) {
	mb := NewMailbox[int](0)
	defer mb.Close()

	assert.Equal(t, 1, mb.Cap())
}
