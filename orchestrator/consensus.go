package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/transport"
	"github.com/BaSui01/swarmflow/types"
)

// ConsensusStatus is the outcome class of a consensus resolution.
type ConsensusStatus string

const (
	ConsensusSuccess ConsensusStatus = "success"
	ConsensusTie     ConsensusStatus = "tie"
	ConsensusNoVotes ConsensusStatus = "no_votes"
)

// ConsensusResult is the tally of one (topic, task) vote round at the time
// CoordinateConsensus was called.
type ConsensusResult struct {
	VoteTopic  string          `json:"vote_topic"`
	TaskID     string          `json:"task_id"`
	TotalVotes int             `json:"total_votes"`
	VoteCounts map[string]int  `json:"vote_counts"`
	Consensus  []string        `json:"consensus"`
	Status     ConsensusStatus `json:"status"`
	Message    string          `json:"message"`
}

// Winner returns the single winning option, and false unless the
// resolution was a clear majority.
func (r ConsensusResult) Winner() (string, bool) {
	if r.Status == ConsensusSuccess && len(r.Consensus) == 1 {
		return r.Consensus[0], true
	}
	return "", false
}

// voteRound is the ledger entry for one (topic, task) key.
type voteRound struct {
	options     []string            // declared by InitiateVote; empty accepts any ballot
	votedAgents map[string]struct{} // first-vote-wins dedup
	votes       []string            // ballots in arrival order
}

func newVoteRound(options []string) *voteRound {
	return &voteRound{
		options:     options,
		votedAgents: make(map[string]struct{}),
	}
}

// accepts reports whether a ballot value is allowed in this round.
func (r *voteRound) accepts(value string) bool {
	if len(r.options) == 0 {
		return true
	}
	for _, opt := range r.options {
		if opt == value {
			return true
		}
	}
	return false
}

// =============================================================================
// Vote rounds
// =============================================================================

// InitiateVote opens a vote round for (topic, taskID), records the declared
// options, and broadcasts a VOTE_REQUEST to every agent. Non-blocking:
// agents answer asynchronously, independently, and optionally.
func (o *Orchestrator) InitiateVote(ctx context.Context, taskID, topic string, options []string) error {
	if taskID == "" || topic == "" {
		return types.NewValidationError("vote requires a task id and a topic")
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.initiate_vote",
		trace.WithAttributes(
			attribute.String("swarmflow.task_id", taskID),
			attribute.String("swarmflow.vote_topic", topic)))
	defer span.End()

	o.openRound(topic, taskID, options)

	msg, err := types.NewVoteRequestMessage(o.config.ID, types.VoteRequestPayload{
		TaskID:  taskID,
		Topic:   topic,
		Options: options,
	})
	if err != nil {
		return err
	}
	if err := o.broker.Publish(ctx, transport.BroadcastExchange, "", msg); err != nil {
		span.RecordError(err)
		return err
	}

	if o.metrics != nil {
		o.metrics.RecordVoteRequest()
		o.metrics.RecordPublish(transport.BroadcastExchange)
	}
	o.events.Publish(Event{Type: EventVoteRequested, Data: map[string]any{
		"task_id": taskID,
		"topic":   topic,
		"options": options,
	}})
	o.logger.Info("vote initiated",
		zap.String("task_id", taskID),
		zap.String("topic", topic),
		zap.Strings("options", options))
	return nil
}

// openRound creates or refreshes the ledger entry for a key. Ballots
// recorded before initiation are kept; the declared options only gate
// later ones.
func (o *Orchestrator) openRound(topic, taskID string, options []string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	byTask, ok := o.ledger[topic]
	if !ok {
		byTask = make(map[string]*voteRound)
		o.ledger[topic] = byTask
	}
	declared := append([]string(nil), options...)
	if round, ok := byTask[taskID]; ok {
		round.options = declared
		return
	}
	byTask[taskID] = newVoteRound(declared)
}

// voteLoop drains the vote queue. Every delivery is acked after handling:
// a bad ballot is dropped, never redelivered.
func (o *Orchestrator) voteLoop(ctx context.Context, deliveries <-chan transport.Delivery) error {
	for delivery := range deliveries {
		o.handleVote(ctx, delivery.Message)
		if o.metrics != nil {
			o.metrics.RecordDelivery(transport.VoteQueue(o.config.ID))
		}
		if err := delivery.Ack(ctx); err != nil {
			o.logger.Warn("vote ack failed", zap.Error(err))
		}
	}
	return ctx.Err()
}

func (o *Orchestrator) handleVote(ctx context.Context, msg types.AgentMessage) {
	if msg.Type != types.MessageVote {
		o.logger.Debug("message ignored on vote queue",
			zap.String("message_type", string(msg.Type)))
		return
	}

	var payload types.VotePayload
	if err := msg.DecodePayload(&payload); err != nil {
		o.logger.Warn("malformed vote payload",
			zap.Error(err), zap.String("sender_id", msg.SenderID))
		return
	}
	taskID := msg.Task()
	if payload.VoteTopic == "" || taskID == "" {
		o.logger.Warn("vote missing topic or task id", zap.String("sender_id", msg.SenderID))
		return
	}

	// A ballot for a task this orchestrator never issued is stale or
	// foreign; it is dropped, not recorded.
	if _, err := o.store.Get(ctx, taskID); err != nil {
		if errors.Is(err, registry.ErrTaskNotFound) {
			o.logger.Warn("vote for unknown task",
				zap.String("task_id", taskID),
				zap.String("topic", payload.VoteTopic),
				zap.String("sender_id", msg.SenderID))
			if o.metrics != nil {
				o.metrics.RecordVote("unknown_task")
			}
		} else {
			o.logger.Error("task lookup failed", zap.Error(err), zap.String("task_id", taskID))
		}
		return
	}

	err := o.recordVote(payload.VoteTopic, taskID, msg.SenderID, payload.Vote)
	switch {
	case err == nil:
		if o.metrics != nil {
			o.metrics.RecordVote("recorded")
		}
		o.events.Publish(Event{Type: EventVoteRecorded, Data: map[string]any{
			"task_id":  taskID,
			"topic":    payload.VoteTopic,
			"agent_id": msg.SenderID,
			"vote":     payload.Vote,
		}})
		o.logger.Info("vote recorded",
			zap.String("task_id", taskID),
			zap.String("topic", payload.VoteTopic),
			zap.String("agent_id", msg.SenderID),
			zap.String("vote", payload.Vote))
	case types.IsErrorCode(err, types.ErrDuplicateVote):
		// First vote wins; repeats are expected under at-least-once delivery.
		if o.metrics != nil {
			o.metrics.RecordVote("duplicate")
		}
		o.logger.Debug("duplicate vote ignored",
			zap.String("task_id", taskID),
			zap.String("topic", payload.VoteTopic),
			zap.String("agent_id", msg.SenderID))
	default:
		if o.metrics != nil {
			o.metrics.RecordVote("rejected")
		}
		o.logger.Warn("vote rejected",
			zap.String("task_id", taskID),
			zap.String("topic", payload.VoteTopic),
			zap.String("agent_id", msg.SenderID),
			zap.String("vote", payload.Vote),
			zap.Error(err))
	}
}

// recordVote validates and appends one ballot under the ledger lock.
func (o *Orchestrator) recordVote(topic, taskID, agentID, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	byTask, ok := o.ledger[topic]
	if !ok {
		byTask = make(map[string]*voteRound)
		o.ledger[topic] = byTask
	}
	round, ok := byTask[taskID]
	if !ok {
		round = newVoteRound(nil)
		byTask[taskID] = round
	}

	if !round.accepts(value) {
		return types.NewValidationError(
			fmt.Sprintf("ballot %q is not among the declared options %v", value, round.options))
	}
	if _, voted := round.votedAgents[agentID]; voted {
		return types.NewDuplicateVoteError(agentID, topic, taskID)
	}

	round.votedAgents[agentID] = struct{}{}
	round.votes = append(round.votes, value)
	return nil
}

// =============================================================================
// Consensus resolution
// =============================================================================

// CoordinateConsensus tallies the ballots recorded for (topic, taskID) and
// reports the majority outcome. On-demand and synchronous: it reports
// whatever ballots exist at call time and never waits for quorum or a
// timeout; callers decide when a round is done. The tally depends only on
// the ballot multiset, never on arrival order.
func (o *Orchestrator) CoordinateConsensus(topic, taskID string) ConsensusResult {
	result := ConsensusResult{
		VoteTopic:  topic,
		TaskID:     taskID,
		VoteCounts: map[string]int{},
		Consensus:  []string{},
	}

	o.mu.RLock()
	var round *voteRound
	if byTask, ok := o.ledger[topic]; ok {
		round = byTask[taskID]
	}
	var ballots []string
	if round != nil {
		ballots = append([]string(nil), round.votes...)
	}
	o.mu.RUnlock()

	switch {
	case round == nil:
		result.Status = ConsensusNoVotes
		result.Message = fmt.Sprintf("No votes found for topic '%s' and task '%s'.", topic, taskID)
	case len(ballots) == 0:
		result.Status = ConsensusNoVotes
		result.Message = fmt.Sprintf("No votes recorded for topic '%s' and task '%s'.", topic, taskID)
	default:
		for _, vote := range ballots {
			result.VoteCounts[vote]++
		}
		result.TotalVotes = len(ballots)

		top := 0
		for _, count := range result.VoteCounts {
			if count > top {
				top = count
			}
		}
		winners := make([]string, 0, 1)
		for vote, count := range result.VoteCounts {
			if count == top {
				winners = append(winners, vote)
			}
		}
		sort.Strings(winners)
		result.Consensus = winners

		if len(winners) == 1 {
			result.Status = ConsensusSuccess
			result.Message = fmt.Sprintf("Consensus reached: Majority voted for '%s'.", winners[0])
		} else {
			result.Status = ConsensusTie
			result.Message = fmt.Sprintf("No clear majority. Multiple top votes: %s.", strings.Join(winners, ", "))
		}
	}

	if o.metrics != nil {
		o.metrics.RecordConsensus(string(result.Status))
	}
	o.events.Publish(Event{Type: EventConsensusReached, Data: map[string]any{
		"task_id": taskID,
		"topic":   topic,
		"status":  string(result.Status),
		"message": result.Message,
	}})
	o.logger.Info("consensus resolved",
		zap.String("task_id", taskID),
		zap.String("topic", topic),
		zap.String("status", string(result.Status)),
		zap.String("message", result.Message))
	return result
}
