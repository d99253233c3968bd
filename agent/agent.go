package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/swarmflow/llm"
	"github.com/BaSui01/swarmflow/transport"
	"github.com/BaSui01/swarmflow/types"
)

// AckPolicy controls when a consumed TASK is acknowledged relative to
// handler execution.
type AckPolicy string

const (
	// AckBefore acknowledges before the handler runs. A crash mid-handler
	// loses the task but never reprocesses it.
	AckBefore AckPolicy = "ack_before"

	// AckAfter acknowledges after the result is published. A crash
	// mid-handler redelivers the task; the idempotency set keeps a
	// redelivered task from running twice in one process.
	AckAfter AckPolicy = "ack_after"
)

// State is the coarse lifecycle state of the runtime.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
)

// VoteFunc decides a ballot for an observed VOTE_REQUEST. Returning
// ok=false abstains. The function runs on the broadcast consume loop, so it
// must not block for long.
type VoteFunc func(req types.VoteRequestPayload) (vote string, ok bool)

// Config configures one agent runtime.
type Config struct {
	ID             string        `json:"id"`
	Capability     Capability    `json:"capability"`
	OrchestratorID string        `json:"orchestrator_id"`
	AckPolicy      AckPolicy     `json:"ack_policy"`
	HandlerTimeout time.Duration `json:"handler_timeout"`
}

// DefaultConfig returns the runtime defaults: generic capability,
// ack-before-handler delivery, two minute handler budget.
func DefaultConfig() Config {
	return Config{
		Capability:     CapabilityGeneric,
		OrchestratorID: "orchestrator",
		AckPolicy:      AckBefore,
		HandlerTimeout: 2 * time.Minute,
	}
}

// Agent consumes tasks addressed to it, runs its capability handler, and
// reports results to its orchestrator. Construct with New, then Run.
type Agent struct {
	config Config
	broker transport.Broker
	table  HandlerTable
	logger *zap.Logger

	mu     sync.RWMutex
	state  State
	voteFn VoteFunc
	seen   map[string]struct{} // task ids already processed (AckAfter only)
}

// New creates an agent runtime. A missing id is generated as
// "<capability>_agent_<short-uuid>"; zero config fields fall back to
// DefaultConfig values.
func New(cfg Config, broker transport.Broker, generator llm.Generator, logger *zap.Logger) (*Agent, error) {
	if broker == nil {
		return nil, types.NewError(types.ErrConfig, "agent requires a broker")
	}
	if generator == nil {
		return nil, types.NewError(types.ErrConfig, "agent requires a generator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	defaults := DefaultConfig()
	if cfg.Capability == "" {
		cfg.Capability = defaults.Capability
	}
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("%s_agent_%s", cfg.Capability, uuid.New().String()[:8])
	}
	if cfg.OrchestratorID == "" {
		cfg.OrchestratorID = defaults.OrchestratorID
	}
	if cfg.AckPolicy == "" {
		cfg.AckPolicy = defaults.AckPolicy
	}
	if cfg.AckPolicy != AckBefore && cfg.AckPolicy != AckAfter {
		return nil, types.NewError(types.ErrConfig,
			fmt.Sprintf("unknown ack policy %q", cfg.AckPolicy))
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaults.HandlerTimeout
	}

	handlers := NewHandlerSet(nil, generator, nil, logger)
	a := &Agent{
		config: cfg,
		broker: broker,
		table:  handlers.Table(),
		state:  StateIdle,
		seen:   make(map[string]struct{}),
		logger: logger.With(
			zap.String("component", "agent"),
			zap.String("agent_id", cfg.ID),
			zap.String("capability", string(cfg.Capability))),
	}
	if _, ok := a.table[cfg.Capability]; !ok {
		return nil, types.NewError(types.ErrConfig,
			fmt.Sprintf("no handler for capability %q", cfg.Capability))
	}
	return a, nil
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.config.ID }

// Capability returns the agent's declared capability.
func (a *Agent) Capability() Capability { return a.config.Capability }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// RegisterHandler installs or replaces the handler for a capability. Call
// before Run.
func (a *Agent) RegisterHandler(c Capability, h Handler) {
	a.table[c] = h
}

// OnVoteRequest installs the auto-voting strategy applied to observed
// VOTE_REQUEST broadcasts. A nil strategy ignores them.
func (a *Agent) OnVoteRequest(fn VoteFunc) {
	a.mu.Lock()
	a.voteFn = fn
	a.mu.Unlock()
}

// Run declares the agent's queues, announces readiness, and consumes until
// ctx is cancelled. It blocks; a clean cancellation returns nil.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.setup(ctx); err != nil {
		return err
	}

	taskDeliveries, err := a.broker.Consume(ctx, transport.TaskQueue(a.config.ID))
	if err != nil {
		return err
	}
	broadcastDeliveries, err := a.broker.Consume(ctx, transport.BroadcastQueue(a.config.ID))
	if err != nil {
		return err
	}

	a.logger.Info("agent listening",
		zap.String("task_queue", transport.TaskQueue(a.config.ID)),
		zap.String("ack_policy", string(a.config.AckPolicy)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.taskLoop(ctx, taskDeliveries) })
	g.Go(func() error { return a.broadcastLoop(ctx, broadcastDeliveries) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// setup declares the topology, the agent's queues and bindings, and
// publishes the AGENT_READY registration.
func (a *Agent) setup(ctx context.Context) error {
	if err := transport.DeclareTopology(ctx, a.broker); err != nil {
		return err
	}

	taskQueue := transport.TaskQueue(a.config.ID)
	if err := a.broker.DeclareQueue(ctx, taskQueue); err != nil {
		return err
	}
	if err := a.broker.BindQueue(ctx, taskQueue, transport.TaskExchange, a.config.ID); err != nil {
		return err
	}

	broadcastQueue := transport.BroadcastQueue(a.config.ID)
	if err := a.broker.DeclareQueue(ctx, broadcastQueue); err != nil {
		return err
	}
	if err := a.broker.BindQueue(ctx, broadcastQueue, transport.BroadcastExchange, ""); err != nil {
		return err
	}

	return a.announceReady(ctx)
}

// announceReady registers the agent with its orchestrator.
func (a *Agent) announceReady(ctx context.Context) error {
	msg, err := types.NewAgentReadyMessage(a.config.ID, a.config.OrchestratorID,
		types.AgentReadyPayload{AgentType: string(a.config.Capability)})
	if err != nil {
		return err
	}
	if err := a.broker.Publish(ctx, transport.ResultExchange, a.config.OrchestratorID, msg); err != nil {
		return err
	}
	a.logger.Info("registered with orchestrator",
		zap.String("orchestrator_id", a.config.OrchestratorID))
	return nil
}

// taskLoop drains the private task queue. Result publish failures are
// transport errors and end the loop; everything else is contained.
func (a *Agent) taskLoop(ctx context.Context, deliveries <-chan transport.Delivery) error {
	for delivery := range deliveries {
		if err := a.handleTask(ctx, delivery); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (a *Agent) handleTask(ctx context.Context, delivery transport.Delivery) error {
	msg := delivery.Message
	if msg.Type != types.MessageTask {
		a.logger.Warn("unexpected message on task queue", zap.String("message_type", string(msg.Type)))
		return delivery.Ack(ctx)
	}

	var payload types.TaskPayload
	if err := msg.DecodePayload(&payload); err != nil {
		a.logger.Warn("malformed task payload", zap.Error(err), zap.String("task_id", msg.Task()))
		return delivery.Ack(ctx)
	}
	taskID := payload.TaskID
	if taskID == "" {
		taskID = msg.Task()
	}

	a.logger.Info("task received",
		zap.String("task_id", taskID),
		zap.String("task_type", payload.Type))

	if a.config.AckPolicy == AckBefore {
		// Ack immediately to prevent redelivery; a crash below loses the
		// task rather than repeating it.
		if err := delivery.Ack(ctx); err != nil {
			a.logger.Warn("ack failed", zap.Error(err), zap.String("task_id", taskID))
		}
	} else if a.alreadyProcessed(taskID) {
		a.logger.Info("duplicate task skipped", zap.String("task_id", taskID))
		return delivery.Ack(ctx)
	}

	a.setState(StateProcessing)
	result, err := a.execute(ctx, payload.Type, payload.Details)
	a.setState(StateIdle)
	if err != nil {
		a.logger.Warn("handler failed",
			zap.String("task_id", taskID),
			zap.String("task_type", payload.Type),
			zap.Error(err))
		result = resultForError(err)
	}

	if err := a.publishResult(ctx, taskID, result); err != nil {
		// Under AckAfter the unacked delivery is redelivered and retried.
		return err
	}

	if a.config.AckPolicy == AckAfter {
		a.markProcessed(taskID)
		if err := delivery.Ack(ctx); err != nil {
			a.logger.Warn("ack failed after publish", zap.Error(err), zap.String("task_id", taskID))
		}
	}
	return nil
}

// execute runs the capability handler with the configured timeout. A panic
// inside a handler is recovered and reported as a handler error; one bad
// task must not take the agent down.
func (a *Agent) execute(ctx context.Context, taskType string, details map[string]any) (result map[string]any, err error) {
	handler := a.table[a.config.Capability]

	ctx, cancel := context.WithTimeout(ctx, a.config.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("handler panicked",
				zap.String("task_type", taskType),
				zap.Any("panic", r))
			result = nil
			err = types.NewHandlerError(fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()

	return handler(ctx, taskType, details)
}

func (a *Agent) publishResult(ctx context.Context, taskID string, result map[string]any) error {
	msg, err := types.NewResultMessage(a.config.ID, a.config.OrchestratorID, taskID, result)
	if err != nil {
		return err
	}
	if err := a.broker.Publish(ctx, transport.ResultExchange, a.config.OrchestratorID, msg); err != nil {
		return err
	}
	a.logger.Info("result published", zap.String("task_id", taskID))
	return nil
}

// broadcastLoop observes fanout traffic. VOTE_REQUESTs are handed to the
// voting strategy; everything else on the broadcast queue is ignored.
func (a *Agent) broadcastLoop(ctx context.Context, deliveries <-chan transport.Delivery) error {
	for delivery := range deliveries {
		msg := delivery.Message
		if err := delivery.Ack(ctx); err != nil {
			a.logger.Warn("broadcast ack failed", zap.Error(err))
		}
		if msg.Type != types.MessageVoteRequest {
			a.logger.Debug("broadcast ignored", zap.String("message_type", string(msg.Type)))
			continue
		}

		var req types.VoteRequestPayload
		if err := msg.DecodePayload(&req); err != nil {
			a.logger.Warn("malformed vote request", zap.Error(err))
			continue
		}

		a.mu.RLock()
		fn := a.voteFn
		a.mu.RUnlock()
		if fn == nil {
			continue
		}
		vote, ok := fn(req)
		if !ok {
			continue
		}
		if err := a.CastVote(ctx, req.TaskID, req.Topic, vote); err != nil {
			// Voting is optional; a failed ballot is logged, not fatal.
			a.logger.Warn("auto vote failed",
				zap.String("topic", req.Topic),
				zap.String("task_id", req.TaskID),
				zap.Error(err))
		}
	}
	return ctx.Err()
}

// CastVote publishes one ballot on a topic. One-shot: no local state is
// retained, and the orchestrator's first-vote-wins rule handles repeats.
func (a *Agent) CastVote(ctx context.Context, taskID, topic, vote string) error {
	msg, err := types.NewVoteMessage(a.config.ID, taskID, types.VotePayload{
		VoteTopic: topic,
		Vote:      vote,
	})
	if err != nil {
		return err
	}
	if err := a.broker.Publish(ctx, transport.VoteExchange, transport.VoteRoutingKey(topic), msg); err != nil {
		return err
	}
	a.logger.Info("vote cast",
		zap.String("topic", topic),
		zap.String("vote", vote),
		zap.String("task_id", taskID))
	return nil
}

func (a *Agent) alreadyProcessed(taskID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.seen[taskID]
	return ok
}

func (a *Agent) markProcessed(taskID string) {
	a.mu.Lock()
	a.seen[taskID] = struct{}{}
	a.mu.Unlock()
}
