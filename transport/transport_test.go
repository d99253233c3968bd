package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/types"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"vote.*", "vote.approve_merge", true},
		{"vote.*", "vote.deploy", true},
		{"vote.*", "vote", false},
		{"vote.*", "vote.a.b", false},
		{"vote.*", "task.review", false},
		{"vote.#", "vote", true},
		{"vote.#", "vote.a.b.c", true},
		{"#", "anything.at.all", true},
		{"*.review", "code.review", true},
		{"*.review", "review", false},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.c", false},
		{"a.#.c", "a.c", true},
		{"a.#.c", "a.x.y.c", true},
		{"exact.key", "exact.key", true},
		{"exact.key", "exact.other", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.key))
		})
	}
}

func TestExchangeKindMatches(t *testing.T) {
	assert.True(t, ExchangeDirect.Matches("agent_1", "agent_1"))
	assert.False(t, ExchangeDirect.Matches("agent_1", "agent_2"))

	assert.True(t, ExchangeTopic.Matches("vote.*", "vote.approve"))
	assert.False(t, ExchangeTopic.Matches("vote.*", "task.x"))

	assert.True(t, ExchangeFanout.Matches("", "anything"))
	assert.True(t, ExchangeFanout.Matches("ignored", ""))

	assert.False(t, ExchangeKind("bogus").Matches("a", "a"))
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "sec_agent_task_queue", TaskQueue("sec_agent"))
	assert.Equal(t, "sec_agent_broadcast_queue", BroadcastQueue("sec_agent"))
	assert.Equal(t, "orchestrator_results_queue", ResultsQueue("orchestrator"))
	assert.Equal(t, "orchestrator_vote_queue", VoteQueue("orchestrator"))
	assert.Equal(t, "vote.approve_merge", VoteRoutingKey("approve_merge"))
}

func TestDeclareTopology(t *testing.T) {
	b := NewMemoryBroker(DefaultConfig(), nil)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, DeclareTopology(ctx, b))

	// Idempotent.
	require.NoError(t, DeclareTopology(ctx, b))

	// The four exchanges exist with their declared kinds: binding against
	// them succeeds, redeclaring with another kind fails.
	assert.ErrorIs(t, b.DeclareExchange(ctx, TaskExchange, ExchangeFanout), ErrKindMismatch)
	assert.ErrorIs(t, b.DeclareExchange(ctx, VoteExchange, ExchangeDirect), ErrKindMismatch)
}

func TestDeclareOrchestratorQueues(t *testing.T) {
	b := NewMemoryBroker(DefaultConfig(), nil)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, DeclareTopology(ctx, b))
	require.NoError(t, DeclareOrchestratorQueues(ctx, b, "orch"))

	// Idempotent.
	require.NoError(t, DeclareOrchestratorQueues(ctx, b, "orch"))

	// A registration published before the orchestrator consumes buffers in the
	// pre-bound results queue instead of dropping unrouted.
	ready, err := types.NewAgentReadyMessage("agent_a", "orch", types.AgentReadyPayload{AgentType: "security"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, ResultExchange, "orch", ready))

	deliveries, err := b.Consume(ctx, ResultsQueue("orch"))
	require.NoError(t, err)
	d := recvDelivery(t, deliveries)
	assert.Equal(t, types.MessageAgentReady, d.Message.Type)
	require.NoError(t, d.Ack(ctx))

	// The vote queue is bound to the topic pattern as well.
	vote, err := types.NewVoteMessage("agent_a", "t-1", types.VotePayload{VoteTopic: "approve_merge", Vote: "yes"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, VoteExchange, VoteRoutingKey("approve_merge"), vote))

	votes, err := b.Consume(ctx, VoteQueue("orch"))
	require.NoError(t, err)
	assert.Equal(t, types.MessageVote, recvDelivery(t, votes).Message.Type)
}

func TestDeliveryNilAck(t *testing.T) {
	d := NewDelivery(mustTask(t, "orch", "agent", "t-1"), nil)
	assert.NoError(t, d.Ack(context.Background()))
}
