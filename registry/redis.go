package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed deployments: several orchestrator replicas can
// share one assignment ledger. Task records are JSON strings with sorted
// sets indexing status and agent, scored by assignment time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	config    Config
	closed    atomic.Bool
}

// NewRedisStore creates a new Redis-based task store.
func NewRedisStore(config Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "swarmflow:"
	}

	store := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "task:",
		config:    config,
	}

	if config.TTL > 0 && config.CleanupInterval > 0 {
		go store.cleanupLoop(config.CleanupInterval)
	}

	return store, nil
}

func (s *RedisStore) taskKey(taskID string) string {
	return s.keyPrefix + "data:" + taskID
}

func (s *RedisStore) statusKey(status TaskStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

func (s *RedisStore) agentKey(agentID string) string {
	return s.keyPrefix + "agent:" + agentID
}

func (s *RedisStore) allKey() string {
	return s.keyPrefix + "all"
}

// Create records a freshly assigned task.
func (s *RedisStore) Create(ctx context.Context, task *Task) error {
	if task == nil || task.TaskID == "" {
		return ErrInvalidInput
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	now := time.Now()
	if task.AssignedAt.IsZero() {
		task.AssignedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = StatusAssigned
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.taskKey(task.TaskID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskExists
	}

	score := float64(task.AssignedAt.UnixNano())
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.statusKey(task.Status), redis.Z{Score: score, Member: task.TaskID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: task.TaskID})
	if task.AgentID != "" {
		pipe.ZAdd(ctx, s.agentKey(task.AgentID), redis.Z{Score: score, Member: task.TaskID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a task by id.
func (s *RedisStore) Get(ctx context.Context, taskID string) (*Task, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Complete writes a terminal status and the collected results.
func (s *RedisStore) Complete(ctx context.Context, taskID string, status TaskStatus, results map[string]any) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}

	oldStatus := task.Status
	now := time.Now()
	task.Status = status
	task.Results = results
	task.UpdatedAt = now
	if status.Terminal() && task.CompletedAt == nil {
		task.CompletedAt = &now
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.taskKey(taskID), data, 0)
	if oldStatus != status {
		pipe.ZRem(ctx, s.statusKey(oldStatus), taskID)
		pipe.ZAdd(ctx, s.statusKey(status), redis.Z{
			Score:  float64(task.AssignedAt.UnixNano()),
			Member: taskID,
		})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Fail marks the task errored.
func (s *RedisStore) Fail(ctx context.Context, taskID string, message string) error {
	return s.Complete(ctx, taskID, StatusError, failResults(message))
}

// List retrieves tasks matching the filter, oldest first.
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var taskIDs []string
	var err error

	// Pick the narrowest index.
	if len(filter.Status) == 1 {
		taskIDs, err = s.client.ZRange(ctx, s.statusKey(filter.Status[0]), 0, -1).Result()
	} else if filter.AgentID != "" {
		taskIDs, err = s.client.ZRange(ctx, s.agentKey(filter.AgentID), 0, -1).Result()
	} else {
		taskIDs, err = s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, err
	}

	result := make([]*Task, 0)
	for _, taskID := range taskIDs {
		task, err := s.Get(ctx, taskID)
		if err != nil {
			continue
		}
		if matchesFilter(task, filter) {
			result = append(result, task)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AssignedAt.Before(result[j].AssignedAt)
	})

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Stats summarizes the store contents.
func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	stats := &Stats{}

	total, err := s.client.ZCard(ctx, s.allKey()).Result()
	if err != nil {
		return nil, err
	}
	stats.Total = total

	counts := []struct {
		status TaskStatus
		dest   *int64
	}{
		{StatusAssigned, &stats.Assigned},
		{StatusCompleted, &stats.Completed},
		{StatusError, &stats.Errored},
	}
	for _, c := range counts {
		n, err := s.client.ZCard(ctx, s.statusKey(c.status)).Result()
		if err != nil {
			continue
		}
		*c.dest = n
	}

	return stats, nil
}

// Cleanup removes terminal tasks assigned before the retention window.
func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan).UnixNano()
	count := 0

	for _, status := range []TaskStatus{StatusCompleted, StatusError} {
		taskIDs, err := s.client.ZRangeByScore(ctx, s.statusKey(status), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(cutoff, 10),
		}).Result()
		if err != nil {
			continue
		}
		for _, taskID := range taskIDs {
			if err := s.delete(ctx, taskID, status); err == nil {
				count++
			}
		}
	}

	return count, nil
}

func (s *RedisStore) delete(ctx context.Context, taskID string, status TaskStatus) error {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.taskKey(taskID))
	pipe.ZRem(ctx, s.statusKey(status), taskID)
	pipe.ZRem(ctx, s.allKey(), taskID)
	if task.AgentID != "" {
		pipe.ZRem(ctx, s.agentKey(task.AgentID), taskID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.client.Ping(ctx).Err()
}

// Close closes the store.
func (s *RedisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

// cleanupLoop runs periodic cleanup.
func (s *RedisStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if s.closed.Load() {
			return
		}
		_, _ = s.Cleanup(context.Background(), s.config.TTL)
	}
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
