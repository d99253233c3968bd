package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/archive"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/types"
)

// =============================================================================
// Vote handler
// =============================================================================

// VoteHandler opens vote rounds and serves consensus tallies. When an
// archive store is configured every tally is also persisted; an archive
// failure degrades to a warning because the tally is computed from live
// state either way.
type VoteHandler struct {
	orch    *orchestrator.Orchestrator
	archive archive.Store
	logger  *zap.Logger
}

// NewVoteHandler creates a vote handler. hist may be nil when the archive
// is disabled.
func NewVoteHandler(orch *orchestrator.Orchestrator, hist archive.Store, logger *zap.Logger) *VoteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoteHandler{orch: orch, archive: hist, logger: logger}
}

// InitiateVoteRequest is the body of POST /v1/votes.
type InitiateVoteRequest struct {
	TaskID  string   `json:"task_id"`
	Topic   string   `json:"topic"`
	Options []string `json:"options,omitempty"`
}

// HandleInitiateVote opens a vote round and broadcasts the request to every
// agent. Ballots arrive asynchronously; poll /v1/consensus for the tally.
func (h *VoteHandler) HandleInitiateVote(w http.ResponseWriter, r *http.Request) {
	var req InitiateVoteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.TaskID == "" || req.Topic == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"task_id and topic are required", h.logger)
		return
	}

	if err := h.orch.InitiateVote(r.Context(), req.TaskID, req.Topic, req.Options); err != nil {
		if apiErr, ok := types.AsError(err); ok {
			WriteError(w, apiErr, h.logger)
			return
		}
		WriteError(w, types.NewTransportError("vote request broadcast failed", err), h.logger)
		return
	}

	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: map[string]any{
			"task_id": req.TaskID,
			"topic":   req.Topic,
			"options": req.Options,
		},
		Timestamp: time.Now(),
	})
}

// HandleConsensus tallies a vote round identified by the topic and task_id
// query parameters. The tally reflects ballots received so far; calling
// again after more ballots land yields a fresh snapshot.
func (h *VoteHandler) HandleConsensus(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	taskID := r.URL.Query().Get("task_id")
	if topic == "" || taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"topic and task_id query parameters are required", h.logger)
		return
	}

	result := h.orch.CoordinateConsensus(topic, taskID)

	if h.archive != nil {
		if err := h.archive.SaveConsensus(r.Context(), &result); err != nil {
			h.logger.Warn("consensus archive write failed",
				zap.String("vote_topic", topic),
				zap.String("task_id", taskID),
				zap.Error(err))
		}
	}

	WriteSuccess(w, result)
}
