package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/transport"
	"github.com/BaSui01/swarmflow/types"
)

const instrumentationName = "github.com/BaSui01/swarmflow/orchestrator"

// Agent registry status values. Informational only: correctness is driven
// by message routing, never by registry state.
const (
	AgentStatusIdle = "idle"
	AgentStatusBusy = "busy"
)

// AgentInfo is one entry in the informational agent registry.
type AgentInfo struct {
	AgentID      string    `json:"agent_id"`
	AgentType    string    `json:"agent_type"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Config configures one orchestrator instance.
type Config struct {
	// ID names the instance; queue names and result routing derive from it
	ID string `json:"id"`

	// EventBuffer is the per-subscriber event channel capacity
	EventBuffer int `json:"event_buffer"`
}

// DefaultConfig returns the orchestrator defaults. The default id pairs
// with the agent runtime's default orchestrator id.
func DefaultConfig() Config {
	return Config{
		ID:          "orchestrator",
		EventBuffer: 64,
	}
}

// Orchestrator assigns tasks, collects results, and coordinates votes. All
// state is instance-local: construct one per coordinating process, or one
// per test.
type Orchestrator struct {
	config  Config
	broker  transport.Broker
	store   registry.Store
	logger  *zap.Logger
	tracer  trace.Tracer
	events  *EventBus
	metrics *metrics.Collector

	mu     sync.RWMutex
	agents map[string]*AgentInfo
	ledger map[string]map[string]*voteRound // vote topic -> task id -> round
}

// New creates an orchestrator. Zero config fields fall back to
// DefaultConfig values.
func New(cfg Config, broker transport.Broker, store registry.Store, logger *zap.Logger) (*Orchestrator, error) {
	if broker == nil {
		return nil, types.NewError(types.ErrConfig, "orchestrator requires a broker")
	}
	if store == nil {
		return nil, types.NewError(types.ErrConfig, "orchestrator requires a task store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	defaults := DefaultConfig()
	if cfg.ID == "" {
		cfg.ID = defaults.ID
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}

	return &Orchestrator{
		config: cfg,
		broker: broker,
		store:  store,
		tracer: otel.Tracer(instrumentationName),
		events: NewEventBus(cfg.EventBuffer),
		agents: make(map[string]*AgentInfo),
		ledger: make(map[string]map[string]*voteRound),
		logger: logger.With(
			zap.String("component", "orchestrator"),
			zap.String("orchestrator_id", cfg.ID)),
	}, nil
}

// WithMetrics attaches a Prometheus collector. Optional: a nil collector
// disables recording. Call before Run.
func (o *Orchestrator) WithMetrics(c *metrics.Collector) *Orchestrator {
	o.metrics = c
	return o
}

// ID returns the orchestrator id.
func (o *Orchestrator) ID() string { return o.config.ID }

// Events returns the lifecycle event bus.
func (o *Orchestrator) Events() *EventBus { return o.events }

// Store returns the task store backing this instance.
func (o *Orchestrator) Store() registry.Store { return o.store }

// Run declares the orchestrator's queues and consumes results and votes
// until ctx is cancelled. It blocks; a clean cancellation returns nil. The
// event bus closes when Run returns so stream subscribers observe the end.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.events.Close()

	if err := o.setup(ctx); err != nil {
		return err
	}

	results, err := o.broker.Consume(ctx, transport.ResultsQueue(o.config.ID))
	if err != nil {
		return err
	}
	votes, err := o.broker.Consume(ctx, transport.VoteQueue(o.config.ID))
	if err != nil {
		return err
	}

	o.logger.Info("orchestrator listening",
		zap.String("results_queue", transport.ResultsQueue(o.config.ID)),
		zap.String("vote_queue", transport.VoteQueue(o.config.ID)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.resultLoop(ctx, results) })
	g.Go(func() error { return o.voteLoop(ctx, votes) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// setup declares the topology and binds the results and vote queues.
func (o *Orchestrator) setup(ctx context.Context) error {
	if err := transport.DeclareTopology(ctx, o.broker); err != nil {
		return err
	}
	return transport.DeclareOrchestratorQueues(ctx, o.broker, o.config.ID)
}

// =============================================================================
// Task assignment
// =============================================================================

// AssignTask records and dispatches one task, returning the generated task
// id. The record is written before the publish so a returned id is always
// queryable; when the publish fails the record is marked errored and the
// transport error propagates to the caller.
func (o *Orchestrator) AssignTask(ctx context.Context, agentID, taskType string, details map[string]any) (string, error) {
	if agentID == "" {
		return "", types.NewValidationError("assign requires an agent id")
	}
	if taskType == "" {
		return "", types.NewValidationError("assign requires a task type")
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.assign_task",
		trace.WithAttributes(
			attribute.String("swarmflow.agent_id", agentID),
			attribute.String("swarmflow.task_type", taskType)))
	defer span.End()

	taskID := uuid.New().String()
	span.SetAttributes(attribute.String("swarmflow.task_id", taskID))

	task := &registry.Task{
		TaskID:  taskID,
		AgentID: agentID,
		Type:    taskType,
		Details: details,
		Status:  registry.StatusAssigned,
	}
	if err := o.store.Create(ctx, task); err != nil {
		return "", types.WrapError(types.ErrStore, "record task", err)
	}

	msg, err := types.NewTaskMessage(o.config.ID, agentID, types.TaskPayload{
		TaskID:  taskID,
		Type:    taskType,
		Details: details,
	})
	if err != nil {
		_ = o.store.Fail(ctx, taskID, err.Error())
		return "", err
	}
	if err := o.broker.Publish(ctx, transport.TaskExchange, agentID, msg); err != nil {
		span.RecordError(err)
		if failErr := o.store.Fail(ctx, taskID, fmt.Sprintf("task dispatch failed: %v", err)); failErr != nil {
			o.logger.Error("marking task errored failed",
				zap.Error(failErr), zap.String("task_id", taskID))
		}
		return "", err
	}

	o.setAgentStatus(agentID, AgentStatusBusy)
	if o.metrics != nil {
		o.metrics.RecordTaskAssigned(taskType)
		o.metrics.RecordPublish(transport.TaskExchange)
	}
	o.events.Publish(Event{Type: EventTaskAssigned, Data: map[string]any{
		"task_id":   taskID,
		"agent_id":  agentID,
		"task_type": taskType,
	}})
	o.logger.Info("task assigned",
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID),
		zap.String("task_type", taskType))
	return taskID, nil
}

// =============================================================================
// Result collection
// =============================================================================

// resultLoop drains the results queue. Every delivery is acked after
// handling: failures local to one message are contained, and only context
// cancellation ends the loop.
func (o *Orchestrator) resultLoop(ctx context.Context, deliveries <-chan transport.Delivery) error {
	for delivery := range deliveries {
		o.handleResultDelivery(ctx, delivery.Message)
		if o.metrics != nil {
			o.metrics.RecordDelivery(transport.ResultsQueue(o.config.ID))
		}
		if err := delivery.Ack(ctx); err != nil {
			o.logger.Warn("result ack failed", zap.Error(err))
		}
	}
	return ctx.Err()
}

func (o *Orchestrator) handleResultDelivery(ctx context.Context, msg types.AgentMessage) {
	switch msg.Type {
	case types.MessageResult:
		o.collectResult(ctx, msg)
	case types.MessageAgentReady:
		o.registerAgent(msg)
	default:
		o.logger.Debug("message ignored on results queue",
			zap.String("message_type", string(msg.Type)),
			zap.String("sender_id", msg.SenderID))
	}
}

// registerAgent records an AGENT_READY announcement in the informational
// registry. Re-registration after an agent restart overwrites the entry.
func (o *Orchestrator) registerAgent(msg types.AgentMessage) {
	var payload types.AgentReadyPayload
	if err := msg.DecodePayload(&payload); err != nil {
		o.logger.Warn("malformed agent registration",
			zap.Error(err), zap.String("sender_id", msg.SenderID))
		return
	}

	o.mu.Lock()
	o.agents[msg.SenderID] = &AgentInfo{
		AgentID:      msg.SenderID,
		AgentType:    payload.AgentType,
		Status:       AgentStatusIdle,
		RegisteredAt: time.Now(),
	}
	known := len(o.agents)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SetAgentsKnown(known)
	}
	o.logger.Info("agent registered",
		zap.String("agent_id", msg.SenderID),
		zap.String("agent_type", payload.AgentType),
		zap.Int("agents_known", known))
}

// collectResult applies a RESULT to its task record. A result for a task
// this instance never issued is logged, counted, and dropped; stale or
// foreign results must never stall the loop. Duplicates overwrite: under
// at-least-once delivery they are expected and assumed identical.
func (o *Orchestrator) collectResult(ctx context.Context, msg types.AgentMessage) {
	taskID := msg.Task()

	var payload map[string]any
	if err := msg.DecodePayload(&payload); err != nil {
		o.logger.Warn("malformed result payload",
			zap.Error(err),
			zap.String("task_id", taskID),
			zap.String("sender_id", msg.SenderID))
		return
	}

	task, err := o.store.Get(ctx, taskID)
	if errors.Is(err, registry.ErrTaskNotFound) {
		o.logger.Warn("result for unknown task",
			zap.String("task_id", taskID),
			zap.String("sender_id", msg.SenderID))
		if o.metrics != nil {
			o.metrics.RecordUnknownResult()
		}
		o.events.Publish(Event{Type: EventResultUnknown, Data: map[string]any{
			"task_id":   taskID,
			"sender_id": msg.SenderID,
		}})
		return
	}
	if err != nil {
		o.logger.Error("task lookup failed", zap.Error(err), zap.String("task_id", taskID))
		return
	}

	if err := o.store.Complete(ctx, taskID, registry.StatusCompleted, payload); err != nil {
		o.logger.Error("task completion failed", zap.Error(err), zap.String("task_id", taskID))
		return
	}
	o.setAgentStatus(task.AgentID, AgentStatusIdle)

	status := resultStatus(payload)
	if o.metrics != nil {
		o.metrics.RecordTaskCompleted(status)
	}
	o.events.Publish(Event{Type: EventTaskCompleted, Data: map[string]any{
		"task_id":  taskID,
		"agent_id": msg.SenderID,
		"status":   status,
	}})
	o.logger.Info("result collected",
		zap.String("task_id", taskID),
		zap.String("agent_id", msg.SenderID),
		zap.String("status", status))
}

// resultStatus extracts the agent-reported status from a result payload.
func resultStatus(payload map[string]any) string {
	if s, ok := payload[types.ResultKeyStatus].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func (o *Orchestrator) setAgentStatus(agentID, status string) {
	o.mu.Lock()
	if info, ok := o.agents[agentID]; ok {
		info.Status = status
	}
	o.mu.Unlock()
}

// =============================================================================
// Read access for the ops API
// =============================================================================

// Task returns one task record.
func (o *Orchestrator) Task(ctx context.Context, taskID string) (*registry.Task, error) {
	return o.store.Get(ctx, taskID)
}

// Tasks lists task records matching the filter, oldest first.
func (o *Orchestrator) Tasks(ctx context.Context, filter registry.Filter) ([]*registry.Task, error) {
	return o.store.List(ctx, filter)
}

// TaskStats summarizes the task store.
func (o *Orchestrator) TaskStats(ctx context.Context) (*registry.Stats, error) {
	return o.store.Stats(ctx)
}

// Agents returns a snapshot of the informational agent registry, ordered
// by registration time.
func (o *Orchestrator) Agents() []AgentInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]AgentInfo, 0, len(o.agents))
	for _, info := range o.agents {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}
