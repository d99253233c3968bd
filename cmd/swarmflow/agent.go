package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/llm"
	"github.com/BaSui01/swarmflow/transport"
	"github.com/BaSui01/swarmflow/types"
)

// =============================================================================
// agent command
// =============================================================================

// runAgent runs one worker agent until SIGINT/SIGTERM. Flags override the
// agent section of the configuration.
func runAgent(args []string) {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	id := fs.String("id", "", "Agent identity (generated when empty)")
	capability := fs.String("capability", "", "Agent capability")
	orchestratorID := fs.String("orchestrator", "", "Orchestrator identity results are addressed to")
	vote := fs.String("vote", "", "Ballot cast on every vote request (empty = abstain)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *id != "" {
		cfg.Agent.ID = *id
	}
	if *capability != "" {
		cfg.Agent.Capability = *capability
	}
	if *orchestratorID != "" {
		cfg.Agent.OrchestratorID = *orchestratorID
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	if cfg.Broker.Type == "memory" {
		logger.Warn("memory broker is process-local; a standalone agent needs the redis broker to reach an orchestrator in another process")
	}

	broker, err := transport.NewBroker(brokerConfig(cfg), logger)
	if err != nil {
		logger.Fatal("Failed to create broker", zap.Error(err))
	}
	defer broker.Close()

	// The built-in handlers run against the offline scripted generator here.
	// Embedding deployments plug a real model by calling agent.New with
	// their own llm.Generator.
	worker, err := agent.New(agent.Config{
		ID:             cfg.Agent.ID,
		Capability:     agent.Capability(cfg.Agent.Capability),
		OrchestratorID: cfg.Agent.OrchestratorID,
		AckPolicy:      agent.AckPolicy(cfg.Agent.AckPolicy),
		HandlerTimeout: cfg.Agent.HandlerTimeout,
	}, broker, llm.NewScriptedGenerator(), logger)
	if err != nil {
		logger.Fatal("Failed to create agent", zap.Error(err))
	}

	if *vote != "" {
		ballot := *vote
		worker.OnVoteRequest(func(req types.VoteRequestPayload) (string, bool) {
			return ballot, true
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting agent",
		zap.String("version", Version),
		zap.String("agent_id", worker.ID()),
		zap.String("capability", string(worker.Capability())),
		zap.String("orchestrator_id", cfg.Agent.OrchestratorID),
	)

	if err := worker.Run(ctx); err != nil {
		logger.Fatal("Agent exited with error", zap.Error(err))
	}

	logger.Info("Agent stopped")
}
