// Package archive persists a durable history of terminal tasks and consensus
// tallies, separate from the live task registry. The registry answers "what
// is in flight right now"; the archive answers "what happened" after records
// age out of the registry.
//
// Supported backends:
// - SQL via gorm: postgres, mysql, sqlite (pure Go, no cgo)
// - MongoDB
//
// The archive is optional. A deployment that leaves it disabled runs the
// orchestrator exactly as before; when enabled, a Recorder bridges the
// orchestrator event stream into the configured backend.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
)

// Common errors
var (
	ErrNotFound      = errors.New("archive record not found")
	ErrInvalidRecord = errors.New("invalid archive record")
)

// Driver names accepted by New. They match config.ArchiveConfig.Driver.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Store persists terminal task records and consensus tallies.
type Store interface {
	// SaveTask archives one terminal task. Re-archiving the same task id
	// overwrites the stored record, matching the registry's last-write-wins
	// completion semantics.
	SaveTask(ctx context.Context, task *registry.Task) error

	// SaveConsensus appends one consensus tally snapshot. Every call adds a
	// record: re-tallying a round after more ballots land is part of the
	// history, not an overwrite.
	SaveConsensus(ctx context.Context, result *orchestrator.ConsensusResult) error

	// RecentTasks returns archived tasks, newest first.
	RecentTasks(ctx context.Context, limit int) ([]TaskRecord, error)

	// TaskByID retrieves one archived task by its orchestrator task id.
	// Fails with ErrNotFound when the task was never archived.
	TaskByID(ctx context.Context, taskID string) (*TaskRecord, error)

	// RecentConsensus returns consensus snapshots, newest first.
	RecentConsensus(ctx context.Context, limit int) ([]ConsensusRecord, error)

	// Ping checks if the backend is healthy.
	Ping(ctx context.Context) error

	// Close closes the backend and releases resources.
	Close() error
}

// New creates a Store from the configuration.
func New(cfg config.ArchiveConfig, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres, DriverMySQL, DriverSQLite:
		return OpenSQL(cfg, logger)
	case DriverMongo:
		return OpenMongo(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported archive driver: %q", cfg.Driver)
	}
}
