// Package swarmflow provides a top-level convenience entry point for running
// an embedded coordination plane with minimal boilerplate: one in-memory
// broker, one orchestrator, and any number of worker agents in a single
// process.
//
// Usage:
//
//	import "github.com/BaSui01/swarmflow"
//
//	swarm, err := swarmflow.New(
//		swarmflow.WithGenerator(gen),
//		swarmflow.WithWorker("sec-1", agent.CapabilitySecurity),
//	)
//
//	go swarm.Run(ctx)
//	swarm.WaitForAgents(ctx, 1)
//	taskID, _ := swarm.Orchestrator().AssignTask(ctx, "sec-1", agent.TaskReviewCode, details)
//	task, _ := swarm.WaitForTask(ctx, taskID)
//
// Deployments that span processes use the redis broker and the swarmflow
// binary instead; this package serves tests, demos, and single-process
// embedding. The full constructors in agent/, orchestrator/, and transport/
// remain available when the defaults here are too rigid.
package swarmflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/llm"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/transport"
)

// Option configures the swarm created by [New].
type Option func(*options)

type options struct {
	orchestratorID string
	logger         *zap.Logger
	generator      llm.Generator
	workers        []agent.Config
}

// WithOrchestratorID overrides the orchestrator identity. Defaults to
// "orchestrator".
func WithOrchestratorID(id string) Option {
	return func(o *options) { o.orchestratorID = id }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithGenerator sets the model generator shared by every worker. Required
// when workers are configured; llm.NewScriptedGenerator serves offline use.
func WithGenerator(gen llm.Generator) Option {
	return func(o *options) { o.generator = gen }
}

// WithWorker adds a worker agent with the given id and capability and the
// swarm's shared generator.
func WithWorker(id string, capability agent.Capability) Option {
	return func(o *options) {
		o.workers = append(o.workers, agent.Config{ID: id, Capability: capability})
	}
}

// WithWorkerConfig adds a worker agent from a full config. The orchestrator
// id is filled in when the config leaves it empty.
func WithWorkerConfig(cfg agent.Config) Option {
	return func(o *options) { o.workers = append(o.workers, cfg) }
}

// Swarm is an embedded coordination plane. Construct with [New], drive with
// [Swarm.Run].
type Swarm struct {
	broker  *transport.MemoryBroker
	store   *registry.MemoryStore
	orch    *orchestrator.Orchestrator
	workers []*agent.Agent
}

// New assembles a swarm over a fresh in-memory broker and task store. The
// core topology is declared before New returns.
func New(opts ...Option) (*Swarm, error) {
	o := &options{orchestratorID: orchestrator.DefaultConfig().ID}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if len(o.workers) > 0 && o.generator == nil {
		return nil, fmt.Errorf("generator is required when workers are configured: use WithGenerator")
	}

	broker := transport.NewMemoryBroker(transport.DefaultConfig(), o.logger)
	store := registry.NewMemoryStore(registry.Config{})
	fail := func(err error) (*Swarm, error) {
		_ = broker.Close()
		_ = store.Close()
		return nil, err
	}

	if err := transport.DeclareTopology(context.Background(), broker); err != nil {
		return fail(err)
	}
	// Pre-bind the orchestrator queues: Run starts the orchestrator and the
	// workers on one group, and a worker that registers first must not lose
	// its AGENT_READY to an unbound exchange.
	if err := transport.DeclareOrchestratorQueues(context.Background(), broker, o.orchestratorID); err != nil {
		return fail(err)
	}

	orch, err := orchestrator.New(orchestrator.Config{ID: o.orchestratorID}, broker, store, o.logger)
	if err != nil {
		return fail(err)
	}

	s := &Swarm{broker: broker, store: store, orch: orch}
	for _, cfg := range o.workers {
		if cfg.OrchestratorID == "" {
			cfg.OrchestratorID = o.orchestratorID
		}
		worker, err := agent.New(cfg, broker, o.generator, o.logger)
		if err != nil {
			return fail(err)
		}
		s.workers = append(s.workers, worker)
	}
	return s, nil
}

// Run drives the orchestrator and every worker until ctx is cancelled, then
// closes the broker and store. A swarm runs once; build a new one to restart.
func (s *Swarm) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.orch.Run(ctx) })
	for _, worker := range s.workers {
		g.Go(func() error { return worker.Run(ctx) })
	}
	err := g.Wait()
	return errors.Join(err, s.broker.Close(), s.store.Close())
}

// Orchestrator exposes the assignment, voting, and consensus surface.
func (s *Swarm) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// Workers returns the running worker agents in configuration order.
func (s *Swarm) Workers() []*agent.Agent {
	return s.workers
}

// Broker exposes the underlying transport, for callers that bind extra
// queues or publish their own envelopes.
func (s *Swarm) Broker() transport.Broker {
	return s.broker
}

// WaitForAgents blocks until at least n agents have registered with the
// orchestrator. Workers bind their queues before announcing, so assignments
// made after this returns have a queue to land on.
func (s *Swarm) WaitForAgents(ctx context.Context, n int) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(s.orch.Agents()) >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForTask blocks until the task reaches a terminal status and returns
// its record.
func (s *Swarm) WaitForTask(ctx context.Context, taskID string) (*registry.Task, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := s.orch.Task(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
