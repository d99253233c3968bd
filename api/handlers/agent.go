package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/orchestrator"
)

// =============================================================================
// Agent handler
// =============================================================================

// AgentHandler serves the informational agent roster. Entries appear when an
// agent announces itself and reflect the last observed status; the roster is
// never load-bearing for routing.
type AgentHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{orch: orch, logger: logger}
}

// HandleListAgents returns every known agent, ordered by registration time.
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.orch.Agents())
}
