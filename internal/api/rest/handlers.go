package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/service/orchestrator"
)

// Handler carries the HTTP surface over the orchestration service
type Handler struct {
	orchestrator orchestrator.Service
	logger       *slog.Logger

	// pollInterval is the cadence suggested to polling clients
	pollInterval string
}

func NewHandler(orch orchestrator.Service, logger *slog.Logger, pollIntervalSeconds int) *Handler {
	if pollIntervalSeconds <= 0 {
		pollIntervalSeconds = 2
	}
	return &Handler{
		orchestrator: orch,
		logger:       logger,
		pollInterval: strconv.Itoa(pollIntervalSeconds),
	}
}

func (h *Handler) handleCreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req createInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewValidationError("INVALID_REQUEST", "malformed request body"))
		return
	}

	cfg, err := req.toConfig()
	if err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.orchestrator.CreateInvestigation(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createInvestigationResponse{
		ID:             inv.ID.String(),
		Status:         inv.Status.String(),
		LifecycleStage: inv.LifecycleStage.String(),
		Version:        inv.Version,
	})
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.orchestrator.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	// Non-terminal investigations invite the client back
	if !snapshot.Terminal {
		w.Header().Set("X-Poll-Interval", h.pollInterval)
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.GetResults(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.orchestrator.RequestCancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation_requested"})
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.orchestrator.RequestPause(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pause_requested"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, errors.NewValidationError("INVALID_REQUEST", "user_id query parameter must be a valid UUID"))
		return
	}

	investigations, err := h.orchestrator.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	summaries := make([]investigationSummary, 0, len(investigations))
	for _, inv := range investigations {
		summaries = append(summaries, summaryOf(inv))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"investigations": summaries})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, errors.NewValidationError("INVALID_REQUEST", "investigation id must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}
