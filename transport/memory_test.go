package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/types"
)

func mustTask(t *testing.T, sender, agentID, taskID string) types.AgentMessage {
	t.Helper()
	msg, err := types.NewTaskMessage(sender, agentID, types.TaskPayload{
		TaskID:  taskID,
		Type:    "review_code",
		Details: map[string]any{"code_diff": "+ x := 1"},
	})
	require.NoError(t, err)
	return msg
}

func recvDelivery(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func assertNoDelivery(t *testing.T, ch <-chan Delivery) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery: %+v", d.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func setupMemoryBroker(t *testing.T) *MemoryBroker {
	t.Helper()
	b := NewMemoryBroker(DefaultConfig(), nil)
	t.Cleanup(func() { b.Close() })
	require.NoError(t, DeclareTopology(context.Background(), b))
	return b
}

func TestMemoryBroker_DirectRouting(t *testing.T) {
	b := setupMemoryBroker(t)
	ctx := t.Context()

	require.NoError(t, b.DeclareQueue(ctx, TaskQueue("agent_a")))
	require.NoError(t, b.DeclareQueue(ctx, TaskQueue("agent_b")))
	require.NoError(t, b.BindQueue(ctx, TaskQueue("agent_a"), TaskExchange, "agent_a"))
	require.NoError(t, b.BindQueue(ctx, TaskQueue("agent_b"), TaskExchange, "agent_b"))

	chA, err := b.Consume(ctx, TaskQueue("agent_a"))
	require.NoError(t, err)
	chB, err := b.Consume(ctx, TaskQueue("agent_b"))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TaskExchange, "agent_a", mustTask(t, "orch", "agent_a", "t-1")))

	d := recvDelivery(t, chA)
	assert.Equal(t, types.MessageTask, d.Message.Type)
	assert.Equal(t, "t-1", d.Message.Task())
	assert.Equal(t, "agent_a", d.Message.Receiver())
	require.NoError(t, d.Ack(ctx))

	assertNoDelivery(t, chB)
}

func TestMemoryBroker_TopicRouting(t *testing.T) {
	b := setupMemoryBroker(t)
	ctx := t.Context()

	require.NoError(t, b.DeclareQueue(ctx, VoteQueue("orch")))
	require.NoError(t, b.BindQueue(ctx, VoteQueue("orch"), VoteExchange, VoteBindingPattern))

	ch, err := b.Consume(ctx, VoteQueue("orch"))
	require.NoError(t, err)

	vote, err := types.NewVoteMessage("agent_a", "t-1", types.VotePayload{
		VoteTopic: "approve_merge",
		Vote:      "yes",
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, VoteExchange, VoteRoutingKey("approve_merge"), vote))

	d := recvDelivery(t, ch)
	assert.Equal(t, types.MessageVote, d.Message.Type)

	var p types.VotePayload
	require.NoError(t, d.Message.DecodePayload(&p))
	assert.Equal(t, "approve_merge", p.VoteTopic)
	assert.Equal(t, "yes", p.Vote)

	// A key outside the pattern routes nowhere.
	require.NoError(t, b.Publish(ctx, VoteExchange, "ballot.approve_merge", vote))
	assertNoDelivery(t, ch)
}

func TestMemoryBroker_FanoutBroadcast(t *testing.T) {
	b := setupMemoryBroker(t)
	ctx := t.Context()

	require.NoError(t, b.DeclareQueue(ctx, BroadcastQueue("agent_a")))
	require.NoError(t, b.DeclareQueue(ctx, BroadcastQueue("agent_b")))
	require.NoError(t, b.BindQueue(ctx, BroadcastQueue("agent_a"), BroadcastExchange, ""))
	require.NoError(t, b.BindQueue(ctx, BroadcastQueue("agent_b"), BroadcastExchange, ""))

	chA, err := b.Consume(ctx, BroadcastQueue("agent_a"))
	require.NoError(t, err)
	chB, err := b.Consume(ctx, BroadcastQueue("agent_b"))
	require.NoError(t, err)

	req, err := types.NewVoteRequestMessage("orch", types.VoteRequestPayload{
		TaskID:  "t-9",
		Topic:   "approve_merge",
		Options: []string{"yes", "no"},
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, BroadcastExchange, "", req))

	dA := recvDelivery(t, chA)
	dB := recvDelivery(t, chB)

	// Broadcast envelopes carry no receiver and every queue gets its own
	// decoded copy.
	assert.True(t, dA.Message.Broadcast())
	assert.True(t, dB.Message.Broadcast())

	var pA, pB types.VoteRequestPayload
	require.NoError(t, dA.Message.DecodePayload(&pA))
	require.NoError(t, dB.Message.DecodePayload(&pB))
	assert.Equal(t, pA, pB)
	assert.Equal(t, "t-9", pA.TaskID)
}

func TestMemoryBroker_FIFOPerQueue(t *testing.T) {
	b := setupMemoryBroker(t)
	ctx := t.Context()

	require.NoError(t, b.DeclareQueue(ctx, TaskQueue("agent_a")))
	require.NoError(t, b.BindQueue(ctx, TaskQueue("agent_a"), TaskExchange, "agent_a"))

	for _, id := range []string{"t-1", "t-2", "t-3"} {
		require.NoError(t, b.Publish(ctx, TaskExchange, "agent_a", mustTask(t, "orch", "agent_a", id)))
	}

	ch, err := b.Consume(ctx, TaskQueue("agent_a"))
	require.NoError(t, err)

	for _, want := range []string{"t-1", "t-2", "t-3"} {
		d := recvDelivery(t, ch)
		assert.Equal(t, want, d.Message.Task())
		require.NoError(t, d.Ack(ctx))
	}
}

func TestMemoryBroker_PublishUnknownExchange(t *testing.T) {
	b := setupMemoryBroker(t)

	err := b.Publish(t.Context(), "nonexistent", "key", mustTask(t, "orch", "agent_a", "t-1"))
	assert.ErrorIs(t, err, ErrUnknownExchange)
}

func TestMemoryBroker_PublishInvalidEnvelope(t *testing.T) {
	b := setupMemoryBroker(t)

	// Missing sender fails validation before routing.
	msg := types.AgentMessage{Type: types.MessageTask}
	err := b.Publish(t.Context(), TaskExchange, "agent_a", msg)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestMemoryBroker_BindValidation(t *testing.T) {
	b := setupMemoryBroker(t)
	ctx := t.Context()

	err := b.BindQueue(ctx, "missing_queue", TaskExchange, "k")
	assert.ErrorIs(t, err, ErrUnknownQueue)

	require.NoError(t, b.DeclareQueue(ctx, "some_queue"))
	err = b.BindQueue(ctx, "some_queue", "missing_exchange", "k")
	assert.ErrorIs(t, err, ErrUnknownExchange)
}

func TestMemoryBroker_AckIdempotent(t *testing.T) {
	b := setupMemoryBroker(t)
	ctx := t.Context()

	require.NoError(t, b.DeclareQueue(ctx, TaskQueue("agent_a")))
	require.NoError(t, b.BindQueue(ctx, TaskQueue("agent_a"), TaskExchange, "agent_a"))
	require.NoError(t, b.Publish(ctx, TaskExchange, "agent_a", mustTask(t, "orch", "agent_a", "t-1")))

	ch, err := b.Consume(ctx, TaskQueue("agent_a"))
	require.NoError(t, err)

	d := recvDelivery(t, ch)
	require.NoError(t, d.Ack(ctx))
	require.NoError(t, d.Ack(ctx))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Acked)
}

func TestMemoryBroker_Stats(t *testing.T) {
	b := setupMemoryBroker(t)
	ctx := t.Context()

	require.NoError(t, b.DeclareQueue(ctx, TaskQueue("agent_a")))
	require.NoError(t, b.BindQueue(ctx, TaskQueue("agent_a"), TaskExchange, "agent_a"))

	require.NoError(t, b.Publish(ctx, TaskExchange, "agent_a", mustTask(t, "orch", "agent_a", "t-1")))
	require.NoError(t, b.Publish(ctx, TaskExchange, "agent_a", mustTask(t, "orch", "agent_a", "t-2")))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(2), stats.QueueDepths[TaskQueue("agent_a")])
}

func TestMemoryBroker_Close(t *testing.T) {
	b := setupMemoryBroker(t)
	ctx := context.Background()

	require.NoError(t, b.DeclareQueue(ctx, "q"))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Ping(ctx), ErrBrokerClosed)
	assert.ErrorIs(t, b.DeclareQueue(ctx, "q2"), ErrBrokerClosed)

	err := b.Publish(ctx, TaskExchange, "agent_a", mustTask(t, "orch", "agent_a", "t-1"))
	assert.ErrorIs(t, err, ErrBrokerClosed)

	_, err = b.Consume(ctx, "q")
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestMemoryBroker_ConsumeEndsOnCancel(t *testing.T) {
	b := setupMemoryBroker(t)

	require.NoError(t, b.DeclareQueue(context.Background(), "q"))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Consume(ctx, "q")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("delivery channel did not close after cancel")
	}
}
