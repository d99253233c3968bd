// Package registry tracks every task an orchestrator has assigned: who it
// went to, its status, and the collected results.
//
// Supported backends:
// - Memory: for development, tests, and single-process deployments (default)
// - Redis: for distributed deployments
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// Common errors
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Kind represents the type of storage backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// TaskStatus is the lifecycle state of an assigned task.
type TaskStatus string

const (
	// StatusAssigned means the task was recorded and published.
	StatusAssigned TaskStatus = "assigned"

	// StatusCompleted means a success result was collected.
	StatusCompleted TaskStatus = "completed"

	// StatusError means the agent reported a failure, or the assignment
	// publish itself failed.
	StatusError TaskStatus = "error"
)

// Terminal returns true when no further status transition is expected.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Task is one assignment record.
type Task struct {
	// TaskID is the orchestrator-generated unique identifier
	TaskID string `json:"task_id"`

	// AgentID is the agent the task was assigned to
	AgentID string `json:"agent_id"`

	// Type is the task type (review_code, refactor_code, ...)
	Type string `json:"type"`

	// Details is the task input
	Details map[string]any `json:"details,omitempty"`

	// Status is the current lifecycle state
	Status TaskStatus `json:"status"`

	// Results holds the collected result payload; nil until one lands
	Results map[string]any `json:"results,omitempty"`

	// AssignedAt is when the task was recorded
	AssignedAt time.Time `json:"assigned_at"`

	// UpdatedAt is the last write time
	UpdatedAt time.Time `json:"updated_at"`

	// CompletedAt is when a terminal status was recorded
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Filter selects tasks for List.
type Filter struct {
	// AgentID restricts to one agent when non-empty
	AgentID string

	// Status restricts to the given statuses when non-empty
	Status []TaskStatus

	// Limit caps the result count when positive
	Limit int
}

// Stats summarizes the store contents.
type Stats struct {
	Total     int64 `json:"total"`
	Assigned  int64 `json:"assigned"`
	Completed int64 `json:"completed"`
	Errored   int64 `json:"errored"`
}

// Config configures a task store.
type Config struct {
	// Backend type
	Type Kind `json:"type" yaml:"type"`

	// Retention for terminal task records (0 = keep forever)
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Sweep interval for expired records (0 disables the sweeper)
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Type:            KindMemory,
		TTL:             time.Hour,
		CleanupInterval: 5 * time.Minute,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "swarmflow:",
		},
	}
}

// Store persists assignment records.
type Store interface {
	// Create records a freshly assigned task. Fails with ErrTaskExists on
	// a duplicate task id.
	Create(ctx context.Context, task *Task) error

	// Get retrieves a task by id.
	Get(ctx context.Context, taskID string) (*Task, error)

	// Complete writes a terminal status and the collected results.
	// Last write wins: redelivered results simply overwrite.
	Complete(ctx context.Context, taskID string, status TaskStatus, results map[string]any) error

	// Fail marks the task errored with a readable message as its result.
	Fail(ctx context.Context, taskID string, message string) error

	// List retrieves tasks matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Stats summarizes the store contents.
	Stats(ctx context.Context) (*Stats, error)

	// Cleanup removes terminal tasks assigned before the retention window.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// failResults is the result payload written by Fail.
func failResults(message string) map[string]any {
	return types.ErrorResult(message)
}
