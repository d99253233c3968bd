// =============================================================================
// SwarmFlow main entry point
// =============================================================================
// One binary for every deployable role: the orchestrator with its ops API,
// a worker agent, the offline demo, archive migrations, and a health probe.
//
// Usage:
//
//	swarmflow serve                        # start orchestrator + ops API
//	swarmflow serve --config config.yaml   # with a config file
//	swarmflow agent --capability security  # run one worker agent
//	swarmflow demo                         # offline end-to-end demo
//	swarmflow migrate up                   # apply archive migrations
//	swarmflow migrate status               # show migration status
//	swarmflow version                      # show version information
//	swarmflow health                       # probe a running server
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/telemetry"
	"github.com/BaSui01/swarmflow/internal/tlsutil"
	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/transport"
)

// =============================================================================
// Version information (injected at build time)
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// Main
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "agent":
		runAgent(os.Args[2:])
	case "demo":
		runDemo(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// serve command
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting SwarmFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	server := NewServer(cfg, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("SwarmFlow stopped")
}

// =============================================================================
// health command
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// Version and help
// =============================================================================

func printVersion() {
	fmt.Printf("SwarmFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`SwarmFlow - Multi-Agent Coordination Layer

Usage:
  swarmflow <command> [options]

Commands:
  serve     Start the orchestrator and its ops HTTP API
  agent     Run one worker agent against the configured broker
  demo      Run the offline end-to-end demo (in-memory broker)
  migrate   Archive database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'agent':
  --config <path>      Path to configuration file (YAML)
  --id <id>            Agent identity (generated when empty)
  --capability <name>  security | performance | quality | testing | refactor | generic
  --orchestrator <id>  Orchestrator identity results are addressed to
  --vote <option>      Ballot cast on every vote request (empty = abstain)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version

Examples:
  swarmflow serve --config /etc/swarmflow/config.yaml
  swarmflow agent --capability security --vote Approve
  swarmflow demo
  swarmflow migrate up --config /etc/swarmflow/config.yaml
  swarmflow health --addr http://localhost:8080
  swarmflow version`)
}

// =============================================================================
// Configuration and logging
// =============================================================================

// loadConfig loads and validates configuration, exiting on failure. Every
// subcommand shares the same precedence: defaults, then the YAML file, then
// SWARMFLOW_* environment variables.
func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// Fall back to a basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}

// =============================================================================
// Config mapping
// =============================================================================

// brokerConfig maps the flat application config onto the transport package's
// broker configuration. The shared Redis connection settings apply to the
// redis broker; the memory broker ignores them.
func brokerConfig(cfg *config.Config) transport.Config {
	return transport.Config{
		Kind:         transport.Kind(cfg.Broker.Type),
		QueueDepth:   cfg.Broker.QueueDepth,
		StreamMaxLen: cfg.Broker.StreamMaxLen,
		Block:        cfg.Broker.Block,
		Redis: transport.RedisConnConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		},
	}
}

// registryConfig maps the application config onto the task registry
// configuration, reusing the shared Redis connection settings.
func registryConfig(cfg *config.Config) registry.Config {
	return registry.Config{
		Type:            registry.Kind(cfg.Orchestrator.Registry.Type),
		TTL:             cfg.Orchestrator.Registry.TTL,
		CleanupInterval: cfg.Orchestrator.Registry.CleanupInterval,
		Redis: registry.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: "swarmflow:",
		},
	}
}
