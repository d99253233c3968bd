package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/types"
)

// =============================================================================
// Task handler
// =============================================================================

// TaskHandler serves task assignment and registry queries.
type TaskHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewTaskHandler creates a task handler over a running orchestrator.
func NewTaskHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{orch: orch, logger: logger}
}

// AssignTaskRequest is the body of POST /v1/tasks.
type AssignTaskRequest struct {
	AgentID string         `json:"agent_id"`
	Type    string         `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

// AssignTaskResponse acknowledges an accepted assignment.
type AssignTaskResponse struct {
	TaskID  string              `json:"task_id"`
	AgentID string              `json:"agent_id"`
	Type    string              `json:"type"`
	Status  registry.TaskStatus `json:"status"`
}

// HandleAssignTask dispatches one task to an agent. The record is written
// and the envelope published before the 202 goes out, so the returned id is
// always queryable even if the agent has not consumed the task yet.
func (h *TaskHandler) HandleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req AssignTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.AgentID == "" || req.Type == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"agent_id and type are required", h.logger)
		return
	}

	taskID, err := h.orch.AssignTask(r.Context(), req.AgentID, req.Type, req.Details)
	if err != nil {
		h.writeAssignError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: AssignTaskResponse{
			TaskID:  taskID,
			AgentID: req.AgentID,
			Type:    req.Type,
			Status:  registry.StatusAssigned,
		},
		Timestamp: time.Now(),
	})
}

// writeAssignError maps assignment failures onto the envelope. Only the
// broker publish path surfaces untyped errors from AssignTask.
func (h *TaskHandler) writeAssignError(w http.ResponseWriter, err error) {
	if apiErr, ok := types.AsError(err); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteError(w, types.NewTransportError("task dispatch failed", err), h.logger)
}

// HandleGetTask returns one task by id.
func (h *TaskHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := pathID(r, "/v1/tasks/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"task id is required", h.logger)
		return
	}

	task, err := h.orch.Task(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, registry.ErrTaskNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound,
				"task not found: "+taskID, h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrStore, "task lookup failed").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, task)
}

// HandleListTasks returns tasks matching the agent_id, status, and limit
// query parameters, newest first.
func (h *TaskHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseTaskFilter(w, r, h.logger)
	if !ok {
		return
	}

	tasks, err := h.orch.Tasks(r.Context(), filter)
	if err != nil {
		WriteError(w, types.NewError(types.ErrStore, "task listing failed").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, tasks)
}

// HandleTaskStats returns lifecycle counts over the whole registry.
func (h *TaskHandler) HandleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orch.TaskStats(r.Context())
	if err != nil {
		WriteError(w, types.NewError(types.ErrStore, "stats query failed").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, stats)
}

// parseTaskFilter reads the list query parameters. It writes the 400 itself
// so callers can bail on !ok.
func parseTaskFilter(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (registry.Filter, bool) {
	q := r.URL.Query()
	filter := registry.Filter{AgentID: q.Get("agent_id")}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := registry.TaskStatus(strings.TrimSpace(s))
			switch status {
			case registry.StatusAssigned, registry.StatusCompleted, registry.StatusError:
				filter.Status = append(filter.Status, status)
			default:
				WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
					fmt.Sprintf("unknown status %q", strings.TrimSpace(s)), logger)
				return registry.Filter{}, false
			}
		}
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
				"limit must be a non-negative integer", logger)
			return registry.Filter{}, false
		}
		filter.Limit = limit
	}

	return filter, true
}
