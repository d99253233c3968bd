package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/archive"
	"github.com/BaSui01/swarmflow/types"
)

// =============================================================================
// Archive handler
// =============================================================================

// ArchiveHandler serves the durable task and consensus history. It is only
// mounted when the archive is enabled.
type ArchiveHandler struct {
	store  archive.Store
	logger *zap.Logger
}

// NewArchiveHandler creates an archive handler.
func NewArchiveHandler(store archive.Store, logger *zap.Logger) *ArchiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHandler{store: store, logger: logger}
}

// HandleRecentTasks returns archived tasks, newest first. limit caps the
// page; zero means the store default.
func (h *ArchiveHandler) HandleRecentTasks(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, h.logger)
	if !ok {
		return
	}

	records, err := h.store.RecentTasks(r.Context(), limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrStore, "archive query failed").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, records)
}

// HandleArchivedTask returns one archived task by its orchestrator task id.
func (h *ArchiveHandler) HandleArchivedTask(w http.ResponseWriter, r *http.Request) {
	taskID := pathID(r, "/v1/archive/tasks/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"task id is required", h.logger)
		return
	}

	record, err := h.store.TaskByID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound,
				"task was never archived: "+taskID, h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrStore, "archive query failed").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, record)
}

// HandleRecentConsensus returns consensus snapshots, newest first.
func (h *ArchiveHandler) HandleRecentConsensus(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, h.logger)
	if !ok {
		return
	}

	records, err := h.store.RecentConsensus(r.Context(), limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrStore, "archive query failed").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, records)
}

// parseLimit reads the limit query parameter; zero means the store default.
// It writes the 400 itself so callers can bail on !ok.
func parseLimit(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"limit must be a non-negative integer", logger)
		return 0, false
	}

	return limit, true
}
