package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/archive"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/types"
)

// newSQLiteArchive opens an in-memory archive store, schema included.
func newSQLiteArchive(t *testing.T) archive.Store {
	t.Helper()
	store, err := archive.New(config.ArchiveConfig{
		Enabled: true,
		Driver:  archive.DriverSQLite,
		Name:    ":memory:",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// awaitVotes polls the tally until the expected ballot count lands.
func awaitVotes(t *testing.T, orch *orchestrator.Orchestrator, topic, taskID string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return orch.CoordinateConsensus(topic, taskID).TotalVotes == want
	}, 2*time.Second, 10*time.Millisecond, "expected %d ballots for %s/%s", want, topic, taskID)
}

// =============================================================================
// Vote initiation
// =============================================================================

func TestVoteHandler_InitiateVote(t *testing.T) {
	orch, _ := startTestOrchestrator(t)
	h := NewVoteHandler(orch, nil, zap.NewNop())

	body := `{"task_id":"task-1","topic":"approve_code_fix","options":["Approve","Reject"]}`
	w := httptest.NewRecorder()
	h.HandleInitiateVote(w, httptest.NewRequest(http.MethodPost, "/v1/votes", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	var data struct {
		TaskID  string   `json:"task_id"`
		Topic   string   `json:"topic"`
		Options []string `json:"options"`
	}
	decodeData(t, resp.Data, &data)
	assert.Equal(t, "task-1", data.TaskID)
	assert.Equal(t, "approve_code_fix", data.Topic)
	assert.Equal(t, []string{"Approve", "Reject"}, data.Options)
}

func TestVoteHandler_InitiateVote_Validation(t *testing.T) {
	orch, _ := startTestOrchestrator(t)
	h := NewVoteHandler(orch, nil, zap.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{name: "missing task_id", body: `{"topic":"approve_code_fix"}`},
		{name: "missing topic", body: `{"task_id":"task-1"}`},
		{name: "unknown field", body: `{"task_id":"task-1","topic":"t","quorum":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleInitiateVote(w, httptest.NewRequest(http.MethodPost, "/v1/votes", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
		})
	}
}

// =============================================================================
// Consensus
// =============================================================================

func TestVoteHandler_Consensus_MissingParams(t *testing.T) {
	orch, _ := startTestOrchestrator(t)
	h := NewVoteHandler(orch, nil, zap.NewNop())

	tests := []struct {
		name  string
		query string
	}{
		{name: "no params", query: ""},
		{name: "topic only", query: "?topic=approve_code_fix"},
		{name: "task only", query: "?task_id=task-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleConsensus(w, httptest.NewRequest(http.MethodGet, "/v1/consensus"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestVoteHandler_Consensus_NoVotes(t *testing.T) {
	orch, _ := startTestOrchestrator(t)
	h := NewVoteHandler(orch, nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleConsensus(w, httptest.NewRequest(http.MethodGet, "/v1/consensus?topic=approve_code_fix&task_id=task-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	var result orchestrator.ConsensusResult
	decodeData(t, resp.Data, &result)
	assert.Equal(t, orchestrator.ConsensusNoVotes, result.Status)
	assert.Zero(t, result.TotalVotes)
}

func TestVoteHandler_Consensus_Majority(t *testing.T) {
	orch, broker := startTestOrchestrator(t)
	h := NewVoteHandler(orch, nil, zap.NewNop())

	require.NoError(t, orch.InitiateVote(context.Background(), "task-1", "approve_code_fix",
		[]string{"Approve", "Reject"}))

	publishVote(t, broker, "coder-1", "task-1", "approve_code_fix", "Approve")
	publishVote(t, broker, "coder-2", "task-1", "approve_code_fix", "Approve")
	publishVote(t, broker, "coder-3", "task-1", "approve_code_fix", "Reject")
	awaitVotes(t, orch, "approve_code_fix", "task-1", 3)

	w := httptest.NewRecorder()
	h.HandleConsensus(w, httptest.NewRequest(http.MethodGet, "/v1/consensus?topic=approve_code_fix&task_id=task-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)

	var result orchestrator.ConsensusResult
	decodeData(t, resp.Data, &result)
	assert.Equal(t, orchestrator.ConsensusSuccess, result.Status)
	assert.Equal(t, 3, result.TotalVotes)
	assert.Equal(t, []string{"Approve"}, result.Consensus)
	assert.Equal(t, 2, result.VoteCounts["Approve"])
	assert.Equal(t, 1, result.VoteCounts["Reject"])
}

func TestVoteHandler_Consensus_WritesArchive(t *testing.T) {
	orch, broker := startTestOrchestrator(t)
	hist := newSQLiteArchive(t)
	h := NewVoteHandler(orch, hist, zap.NewNop())

	require.NoError(t, orch.InitiateVote(context.Background(), "task-9", "release_gate", nil))
	publishVote(t, broker, "coder-1", "task-9", "release_gate", "Ship")
	awaitVotes(t, orch, "release_gate", "task-9", 1)

	w := httptest.NewRecorder()
	h.HandleConsensus(w, httptest.NewRequest(http.MethodGet, "/v1/consensus?topic=release_gate&task_id=task-9", nil))
	require.Equal(t, http.StatusOK, w.Code)

	records, err := hist.RecentConsensus(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "release_gate", records[0].Topic)
	assert.Equal(t, "task-9", records[0].TaskID)
	assert.Equal(t, 1, records[0].TotalVotes)
}

func TestVoteHandler_Consensus_ArchiveFailureDegrades(t *testing.T) {
	orch, _ := startTestOrchestrator(t)

	hist := newSQLiteArchive(t)
	require.NoError(t, hist.Close())

	h := NewVoteHandler(orch, hist, zap.NewNop())

	// A closed archive must not break the tally response.
	w := httptest.NewRecorder()
	h.HandleConsensus(w, httptest.NewRequest(http.MethodGet, "/v1/consensus?topic=t&task_id=task-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
}
