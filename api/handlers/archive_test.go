package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/archive"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/types"
)

func archiveFixture(t *testing.T) (archive.Store, *ArchiveHandler) {
	t.Helper()
	store := newSQLiteArchive(t)
	return store, NewArchiveHandler(store, zap.NewNop())
}

func saveArchivedTask(t *testing.T, store archive.Store, taskID, agentID string, status registry.TaskStatus) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.SaveTask(context.Background(), &registry.Task{
		TaskID:      taskID,
		AgentID:     agentID,
		Type:        "review_code",
		Status:      status,
		Results:     map[string]any{"status": "success"},
		AssignedAt:  now.Add(-time.Minute),
		UpdatedAt:   now,
		CompletedAt: &now,
	}))
}

func TestArchiveHandler_RecentTasks(t *testing.T) {
	store, h := archiveFixture(t)

	saveArchivedTask(t, store, "task-1", "coder-1", registry.StatusCompleted)
	saveArchivedTask(t, store, "task-2", "coder-2", registry.StatusError)

	w := httptest.NewRecorder()
	h.HandleRecentTasks(w, httptest.NewRequest(http.MethodGet, "/v1/archive/tasks", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	var records []archive.TaskRecord
	decodeData(t, resp.Data, &records)
	assert.Len(t, records, 2)
}

func TestArchiveHandler_RecentTasks_Limit(t *testing.T) {
	store, h := archiveFixture(t)

	saveArchivedTask(t, store, "task-1", "coder-1", registry.StatusCompleted)
	saveArchivedTask(t, store, "task-2", "coder-2", registry.StatusCompleted)

	w := httptest.NewRecorder()
	h.HandleRecentTasks(w, httptest.NewRequest(http.MethodGet, "/v1/archive/tasks?limit=1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var records []archive.TaskRecord
	decodeData(t, decodeResponse(t, w).Data, &records)
	assert.Len(t, records, 1)
}

func TestArchiveHandler_RecentTasks_BadLimit(t *testing.T) {
	_, h := archiveFixture(t)

	w := httptest.NewRecorder()
	h.HandleRecentTasks(w, httptest.NewRequest(http.MethodGet, "/v1/archive/tasks?limit=-5", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
}

func TestArchiveHandler_ArchivedTask(t *testing.T) {
	store, h := archiveFixture(t)
	saveArchivedTask(t, store, "task-1", "coder-1", registry.StatusCompleted)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/archive/tasks/{id}", h.HandleArchivedTask)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/archive/tasks/task-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var record archive.TaskRecord
	decodeData(t, decodeResponse(t, w).Data, &record)
	assert.Equal(t, "task-1", record.TaskID)
	assert.Equal(t, "coder-1", record.AgentID)
	assert.Equal(t, string(registry.StatusCompleted), record.Status)
}

func TestArchiveHandler_ArchivedTask_NotFound(t *testing.T) {
	_, h := archiveFixture(t)

	w := httptest.NewRecorder()
	h.HandleArchivedTask(w, httptest.NewRequest(http.MethodGet, "/v1/archive/tasks/no-such-task", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
}

func TestArchiveHandler_RecentConsensus(t *testing.T) {
	store, h := archiveFixture(t)

	result := orchestrator.ConsensusResult{
		VoteTopic:  "approve_code_fix",
		TaskID:     "task-1",
		TotalVotes: 3,
		VoteCounts: map[string]int{"Approve": 2, "Reject": 1},
		Consensus:  []string{"Approve"},
		Status:     orchestrator.ConsensusSuccess,
		Message:    "consensus reached",
	}
	require.NoError(t, store.SaveConsensus(context.Background(), &result))

	w := httptest.NewRecorder()
	h.HandleRecentConsensus(w, httptest.NewRequest(http.MethodGet, "/v1/archive/consensus", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var records []archive.ConsensusRecord
	decodeData(t, decodeResponse(t, w).Data, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "approve_code_fix", records[0].Topic)
	assert.Equal(t, 3, records[0].TotalVotes)
}
