package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/swarmflow/api/handlers"
	"github.com/BaSui01/swarmflow/archive"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/internal/server"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/transport"
)

// =============================================================================
// Server
// =============================================================================

// Server is the serve process: the coordination plane (broker, registry,
// orchestrator, archive recorder) plus the ops HTTP API and the metrics
// listener.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// Coordination plane
	broker   transport.Broker
	store    registry.Store
	orch     *orchestrator.Orchestrator
	archive  archive.Store
	recorder *archive.Recorder

	// Server managers
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler  *handlers.HealthHandler
	taskHandler    *handlers.TaskHandler
	agentHandler   *handlers.AgentHandler
	voteHandler    *handlers.VoteHandler
	archiveHandler *handlers.ArchiveHandler
	eventsHandler  *handlers.EventsHandler

	// Metrics collector
	metricsCollector *metrics.Collector

	// Lifecycle of the consume loops and the rate limiter janitor
	runCtx    context.Context
	runCancel context.CancelFunc
	runGroup  *errgroup.Group
}

// NewServer creates a new server instance.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// Startup
// =============================================================================

// Start brings up every service. The coordination plane starts before the
// HTTP listeners so the ops API never accepts a request the orchestrator
// cannot serve.
func (s *Server) Start() error {
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	// 1. Metrics collector
	if s.cfg.Metrics.Enabled {
		namespace := s.cfg.Metrics.Namespace
		if namespace == "" {
			namespace = "swarmflow"
		}
		s.metricsCollector = metrics.NewCollector(namespace, s.logger)
	}

	// 2. Coordination plane: broker, registry, orchestrator, archive
	if err := s.startCoordination(); err != nil {
		return fmt.Errorf("failed to start coordination plane: %w", err)
	}

	// 3. Handlers
	s.initHandlers()

	// 4. HTTP server
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. Metrics server
	if s.cfg.Metrics.Enabled {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("orchestrator_id", s.cfg.Orchestrator.ID),
		zap.String("broker", s.cfg.Broker.Type),
		zap.Bool("archive_enabled", s.cfg.Archive.Enabled),
	)

	return nil
}

// =============================================================================
// Coordination plane
// =============================================================================

// startCoordination builds the broker, registry, orchestrator, and optional
// archive, then starts their loops. The core exchanges are declared before
// returning so the first assignment accepted over HTTP has somewhere to go.
func (s *Server) startCoordination() error {
	broker, err := transport.NewBroker(brokerConfig(s.cfg), s.logger)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}
	s.broker = broker

	store, err := registry.NewStore(registryConfig(s.cfg))
	if err != nil {
		return fmt.Errorf("create task registry: %w", err)
	}
	s.store = store

	orch, err := orchestrator.New(orchestrator.Config{ID: s.cfg.Orchestrator.ID}, broker, store, s.logger)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	if s.metricsCollector != nil {
		orch = orch.WithMetrics(s.metricsCollector)
	}
	s.orch = orch

	if s.cfg.Archive.Enabled {
		archiveStore, err := archive.New(s.cfg.Archive, s.logger)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		s.archive = archiveStore
		s.recorder = archive.NewRecorder(orch.Events(), store, archiveStore, s.logger)
	}

	if err := transport.DeclareTopology(s.runCtx, broker); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}
	// Bind the orchestrator queues before the loops start; on first boot an
	// agent can announce itself before the orchestrator's own setup has run.
	if err := transport.DeclareOrchestratorQueues(s.runCtx, broker, s.cfg.Orchestrator.ID); err != nil {
		return fmt.Errorf("declare orchestrator queues: %w", err)
	}

	g, ctx := errgroup.WithContext(s.runCtx)
	g.Go(func() error { return s.orch.Run(ctx) })
	if s.recorder != nil {
		recorder := s.recorder
		g.Go(func() error { return recorder.Run(ctx) })
	}
	s.runGroup = g

	return nil
}

// =============================================================================
// Handlers
// =============================================================================

// initHandlers wires the ops API handlers onto the running coordination
// plane. Readiness covers every backend the process depends on.
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("broker", s.broker.Ping))
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("registry", s.store.Ping))
	if s.archive != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("archive", s.archive.Ping))
	}

	s.taskHandler = handlers.NewTaskHandler(s.orch, s.logger)
	s.agentHandler = handlers.NewAgentHandler(s.orch, s.logger)
	s.voteHandler = handlers.NewVoteHandler(s.orch, s.archive, s.logger)
	s.eventsHandler = handlers.NewEventsHandler(s.orch.Events(), s.logger)
	if s.archive != nil {
		s.archiveHandler = handlers.NewArchiveHandler(s.archive, s.logger)
	}

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// HTTP server
// =============================================================================

// startHTTPServer mounts the routes behind the middleware chain and starts
// the ops listener.
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// Health and version endpoints
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// Coordination API
	mux.HandleFunc("POST /v1/tasks", s.taskHandler.HandleAssignTask)
	mux.HandleFunc("GET /v1/tasks", s.taskHandler.HandleListTasks)
	mux.HandleFunc("GET /v1/tasks/stats", s.taskHandler.HandleTaskStats)
	mux.HandleFunc("GET /v1/tasks/{id}", s.taskHandler.HandleGetTask)
	mux.HandleFunc("GET /v1/agents", s.agentHandler.HandleListAgents)
	mux.HandleFunc("POST /v1/votes", s.voteHandler.HandleInitiateVote)
	mux.HandleFunc("GET /v1/consensus", s.voteHandler.HandleConsensus)
	mux.HandleFunc("GET /v1/events", s.eventsHandler.HandleEvents)

	// Archive history, only when the archive is enabled
	if s.archiveHandler != nil {
		mux.HandleFunc("GET /v1/archive/tasks", s.archiveHandler.HandleRecentTasks)
		mux.HandleFunc("GET /v1/archive/tasks/{id}", s.archiveHandler.HandleArchivedTask)
		mux.HandleFunc("GET /v1/archive/consensus", s.archiveHandler.HandleRecentConsensus)
		s.logger.Info("Archive API routes registered")
	}

	// Middleware chain
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(s.runCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Auth.Enabled {
		if len(s.cfg.Auth.APIKeys) == 0 && s.cfg.Auth.JWTSecret == "" {
			// Fail closed: enabled auth with no credentials rejects everything.
			s.logger.Warn("auth enabled with no API keys or JWT secret; requests outside skip paths will be rejected")
		}
		middlewares = append(middlewares, Authenticate(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	if s.metricsCollector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.metricsCollector))
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		MaxConns:        s.cfg.Server.MaxConns,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	var err error
	if s.cfg.Server.TLSCertFile != "" {
		err = s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	} else {
		err = s.httpManager.Start()
	}
	if err != nil {
		return err
	}

	s.logger.Info("HTTP server started",
		zap.Int("port", s.cfg.Server.HTTPPort),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""))
	return nil
}

// =============================================================================
// Metrics server
// =============================================================================

// startMetricsServer exposes /metrics on its own port so the scrape surface
// never shares the ops listener or its auth chain.
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// Shutdown
// =============================================================================

// WaitForShutdown blocks until SIGINT/SIGTERM or a listener failure, then
// shuts everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners first so no new work arrives, then drains the
// coordination loops, then releases the backends they were using.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. Stop accepting requests.
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 2. Stop the consume loops and wait for them to drain.
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.runGroup != nil {
		if err := s.runGroup.Wait(); err != nil {
			s.logger.Error("Coordination loop error", zap.Error(err))
		}
	}

	// 3. Release backends.
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Error("Broker close error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Task registry close error", zap.Error(err))
		}
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Error("Archive close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
