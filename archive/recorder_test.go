package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
)

func newRecorderFixture(t *testing.T) (*orchestrator.EventBus, registry.Store, *SQLStore, *Recorder) {
	t.Helper()

	archive := newSQLiteStore(t)
	tasks := registry.NewMemoryStore(registry.Config{})
	t.Cleanup(func() { _ = tasks.Close() })

	bus := orchestrator.NewEventBus(16)
	t.Cleanup(bus.Close)

	return bus, tasks, archive, NewRecorder(bus, tasks, archive, zap.NewNop())
}

func completedEvent(taskID string) orchestrator.Event {
	return orchestrator.Event{
		Type: orchestrator.EventTaskCompleted,
		Data: map[string]any{"task_id": taskID, "agent_id": "sec-1", "status": "success"},
	}
}

func TestRecorder_ArchivesCompletedTasks(t *testing.T) {
	bus, tasks, archive, rec := newRecorderFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tasks.Create(ctx, &registry.Task{
		TaskID:  "task-1",
		AgentID: "sec-1",
		Type:    "review_code",
		Details: map[string]any{"code_diff": "+ x := 1"},
	}))
	require.NoError(t, tasks.Complete(ctx, "task-1", registry.StatusCompleted,
		map[string]any{"status": "success", "review": "looks clean"}))

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	bus.Publish(completedEvent("task-1"))

	require.Eventually(t, func() bool {
		_, err := archive.TaskByID(context.Background(), "task-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	got, err := archive.TaskByID(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, string(registry.StatusCompleted), got.Status)
	assert.Equal(t, JSONMap{"status": "success", "review": "looks clean"}, got.Results)
	assert.Equal(t, JSONMap{"code_diff": "+ x := 1"}, got.Details)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
}

// Events the recorder cannot act on are skipped without stalling the drain:
// the later valid completion still lands.
func TestRecorder_SkipsUnknownAndIrrelevantEvents(t *testing.T) {
	bus, tasks, archive, rec := newRecorderFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tasks.Create(ctx, &registry.Task{
		TaskID:  "task-1",
		AgentID: "sec-1",
		Type:    "review_code",
	}))
	require.NoError(t, tasks.Complete(ctx, "task-1", registry.StatusCompleted,
		map[string]any{"status": "success"}))

	go func() { _ = rec.Run(ctx) }()

	bus.Publish(orchestrator.Event{Type: orchestrator.EventVoteRecorded,
		Data: map[string]any{"topic": "approve_code_fix"}})
	bus.Publish(completedEvent("ghost-task"))
	bus.Publish(orchestrator.Event{Type: orchestrator.EventTaskCompleted, Data: map[string]any{}})
	bus.Publish(completedEvent("task-1"))

	require.Eventually(t, func() bool {
		_, err := archive.TaskByID(context.Background(), "task-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err := archive.TaskByID(context.Background(), "ghost-task")
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := archive.RecentTasks(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecorder_StopsWhenBusCloses(t *testing.T) {
	bus, _, _, rec := newRecorderFixture(t)

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()

	bus.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop when the bus closed")
	}
}
