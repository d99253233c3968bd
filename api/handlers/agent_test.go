package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/orchestrator"
)

func TestAgentHandler_ListAgents_Empty(t *testing.T) {
	orch, _ := startTestOrchestrator(t)
	h := NewAgentHandler(orch, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleListAgents(w, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	var agents []orchestrator.AgentInfo
	decodeData(t, resp.Data, &agents)
	assert.Empty(t, agents)
}

func TestAgentHandler_ListAgents(t *testing.T) {
	orch, broker := startTestOrchestrator(t)

	publishAgentReady(t, broker, "coder-1", "coder")
	publishAgentReady(t, broker, "reviewer-1", "reviewer")

	require.Eventually(t, func() bool {
		return len(orch.Agents()) == 2
	}, 2*time.Second, 10*time.Millisecond, "agents never registered")

	h := NewAgentHandler(orch, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleListAgents(w, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)

	var agents []orchestrator.AgentInfo
	decodeData(t, resp.Data, &agents)
	require.Len(t, agents, 2)

	byID := map[string]orchestrator.AgentInfo{}
	for _, a := range agents {
		byID[a.AgentID] = a
	}
	assert.Equal(t, "coder", byID["coder-1"].AgentType)
	assert.Equal(t, "reviewer", byID["reviewer-1"].AgentType)
	assert.Equal(t, orchestrator.AgentStatusIdle, byID["coder-1"].Status)
}
