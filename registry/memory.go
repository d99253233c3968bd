package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	tasks  map[string]*Task
	mu     sync.RWMutex
	closed bool
	config Config
}

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore(config Config) *MemoryStore {
	store := &MemoryStore{
		tasks:  make(map[string]*Task),
		config: config,
	}

	if config.TTL > 0 && config.CleanupInterval > 0 {
		go store.cleanupLoop(config.CleanupInterval)
	}

	return store
}

// Create records a freshly assigned task.
func (s *MemoryStore) Create(ctx context.Context, task *Task) error {
	if task == nil || task.TaskID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.tasks[task.TaskID]; ok {
		return ErrTaskExists
	}

	now := time.Now()
	if task.AssignedAt.IsZero() {
		task.AssignedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = StatusAssigned
	}

	stored := *task
	s.tasks[task.TaskID] = &stored
	return nil
}

// Get retrieves a task by id.
func (s *MemoryStore) Get(ctx context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}

	copied := *task
	return &copied, nil
}

// Complete writes a terminal status and the collected results.
func (s *MemoryStore) Complete(ctx context.Context, taskID string, status TaskStatus, results map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Status = status
	task.Results = results
	task.UpdatedAt = now
	if status.Terminal() && task.CompletedAt == nil {
		task.CompletedAt = &now
	}
	return nil
}

// Fail marks the task errored.
func (s *MemoryStore) Fail(ctx context.Context, taskID string, message string) error {
	return s.Complete(ctx, taskID, StatusError, failResults(message))
}

// List retrieves tasks matching the filter, oldest first.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Task, 0)
	for _, task := range s.tasks {
		if matchesFilter(task, filter) {
			copied := *task
			result = append(result, &copied)
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

func matchesFilter(task *Task, filter Filter) bool {
	if filter.AgentID != "" && task.AgentID != filter.AgentID {
		return false
	}
	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if task.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Stats summarizes the store contents.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := &Stats{}
	for _, task := range s.tasks {
		stats.Total++
		switch task.Status {
		case StatusAssigned:
			stats.Assigned++
		case StatusCompleted:
			stats.Completed++
		case StatusError:
			stats.Errored++
		}
	}
	return stats, nil
}

// Cleanup removes terminal tasks assigned before the retention window.
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	count := 0

	for taskID, task := range s.tasks {
		if !task.Status.Terminal() {
			continue
		}
		checkTime := task.UpdatedAt
		if task.CompletedAt != nil {
			checkTime = *task.CompletedAt
		}
		if checkTime.Before(cutoff) {
			delete(s.tasks, taskID)
			count++
		}
	}

	return count, nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// cleanupLoop runs periodic cleanup.
func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()

		if closed {
			return
		}

		_, _ = s.Cleanup(context.Background(), s.config.TTL)
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
