package rest

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// createInvestigationRequest is the wire shape for investigation creation
type createInvestigationRequest struct {
	UserID        string                     `json:"user_id"`
	EntityID      string                     `json:"entity_id"`
	EntityType    string                     `json:"entity_type"`
	TimeRange     timeRangePayload           `json:"time_range"`
	Tools         []investigation.ToolConfig `json:"tools"`
	ExecutionMode string                     `json:"execution_mode"`
	RiskThreshold int                        `json:"risk_threshold"`
}

type timeRangePayload struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// toConfig translates the wire request into a domain config. Enum parsing
// failures surface as InvalidConfiguration before anything is persisted.
func (req *createInvestigationRequest) toConfig() (investigation.Config, error) {
	var cfg investigation.Config

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return cfg, errors.NewInvalidConfigurationError("user_id", "must be a valid UUID")
	}

	entityType, err := investigation.ParseEntityType(req.EntityType)
	if err != nil {
		return cfg, err
	}

	mode := investigation.ExecutionModeParallel
	if req.ExecutionMode != "" {
		mode, err = investigation.ParseExecutionMode(req.ExecutionMode)
		if err != nil {
			return cfg, err
		}
	}

	return investigation.Config{
		UserID:     userID,
		EntityID:   req.EntityID,
		EntityType: entityType,
		TimeRange: investigation.TimeRange{
			Start: req.TimeRange.Start,
			End:   req.TimeRange.End,
		},
		ToolConfiguration: req.Tools,
		ExecutionMode:     mode,
		RiskThreshold:     req.RiskThreshold,
	}, nil
}

type createInvestigationResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	LifecycleStage string `json:"lifecycle_stage"`
	Version        int64  `json:"version"`
}

type investigationSummary struct {
	ID             string    `json:"id"`
	EntityID       string    `json:"entity_id"`
	EntityType     string    `json:"entity_type"`
	Status         string    `json:"status"`
	LifecycleStage string    `json:"lifecycle_stage"`
	ExecutionMode  string    `json:"execution_mode"`
	RiskThreshold  int       `json:"risk_threshold"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func summaryOf(inv *investigation.Investigation) investigationSummary {
	return investigationSummary{
		ID:             inv.ID.String(),
		EntityID:       inv.EntityID,
		EntityType:     inv.EntityType.String(),
		Status:         inv.Status.String(),
		LifecycleStage: inv.LifecycleStage.String(),
		ExecutionMode:  inv.ExecutionMode.String(),
		RiskThreshold:  inv.RiskThreshold,
		Version:        inv.Version,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

type errorPayload struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Error("encode response", "error", err)
		}
	}
}

// writeError maps the error taxonomy onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	code := "INTERNAL_ERROR"
	message := "An internal error occurred"

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
	}

	writeJSON(w, errors.GetStatusCode(err), errorPayload{
		Error: errorBody{Code: code, Message: message},
	})
}
