package investigation

import (
	"time"

	"github.com/google/uuid"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/validation"
)

// Investigation is the unit of work: one entity's risk analysis over a time
// range. It is owned by the state store; all mutation funnels through the
// store's compare-and-swap so the version counter stays linearizable.
type Investigation struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	TimeRange  TimeRange  `json:"time_range"`

	ToolConfiguration []ToolConfig  `json:"tool_configuration"`
	ExecutionMode     ExecutionMode `json:"execution_mode"`
	RiskThreshold     int           `json:"risk_threshold"`

	LifecycleStage LifecycleStage `json:"lifecycle_stage"`
	Status         Status         `json:"status"`
	FailureReason  string         `json:"failure_reason,omitempty"`

	// Version increases by exactly 1 on every successful mutating write.
	Version int64 `json:"version"`

	// Serialized AgentRun set and OverallAssessment, maintained by the
	// orchestrator through the state store.
	ProgressJSON []byte `json:"progress_json,omitempty"`
	ResultsJSON  []byte `json:"results_json,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// TimeRange is the analysis window, inclusive on both ends
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type EntityType int

const (
	EntityTypeUser EntityType = iota
	EntityTypeDevice
)

func (t EntityType) String() string {
	switch t {
	case EntityTypeUser:
		return "user"
	case EntityTypeDevice:
		return "device"
	default:
		return "unknown"
	}
}

// ParseEntityType maps a wire value to an EntityType
func ParseEntityType(s string) (EntityType, error) {
	switch s {
	case "user":
		return EntityTypeUser, nil
	case "device":
		return EntityTypeDevice, nil
	default:
		return 0, errors.NewInvalidConfigurationError("entity_type", "entity type must be user or device")
	}
}

type ExecutionMode int

const (
	ExecutionModeParallel ExecutionMode = iota
	ExecutionModeSequential
)

func (m ExecutionMode) String() string {
	switch m {
	case ExecutionModeParallel:
		return "parallel"
	case ExecutionModeSequential:
		return "sequential"
	default:
		return "unknown"
	}
}

// ParseExecutionMode maps a wire value to an ExecutionMode
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch s {
	case "parallel":
		return ExecutionModeParallel, nil
	case "sequential":
		return ExecutionModeSequential, nil
	default:
		return 0, errors.NewInvalidConfigurationError("execution_mode", "execution mode must be parallel or sequential")
	}
}

// LifecycleStage tracks forward-only progression and never regresses
type LifecycleStage int

const (
	StageCreated LifecycleStage = iota
	StageSettings
	StageInProgress
	StageCompleted
)

func (s LifecycleStage) String() string {
	switch s {
	case StageCreated:
		return "created"
	case StageSettings:
		return "settings"
	case StageInProgress:
		return "in_progress"
	case StageCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Status supersets LifecycleStage with the terminal failure and cancellation
// outcomes
type Status int

const (
	StatusCreated Status = iota
	StatusSettings
	StatusInProgress
	StatusCompleted
	StatusError
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusSettings:
		return "settings"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status admits no further transitions
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Config carries the creation-time parameters of an investigation
type Config struct {
	UserID            uuid.UUID
	EntityID          string
	EntityType        EntityType
	TimeRange         TimeRange
	ToolConfiguration []ToolConfig
	ExecutionMode     ExecutionMode
	RiskThreshold     int
}

// NewInvestigation allocates a new record in the created stage.
// Configuration violations surface as InvalidConfiguration with field detail.
func NewInvestigation(cfg Config) (*Investigation, error) {
	if err := validation.ValidateEntityID(cfg.EntityID); err != nil {
		return nil, errors.NewInvalidConfigurationError("entity_id", err.Error())
	}

	if err := validation.ValidateTimeRange(cfg.TimeRange.Start, cfg.TimeRange.End); err != nil {
		return nil, errors.NewInvalidConfigurationError("time_range", err.Error())
	}

	if len(cfg.ToolConfiguration) == 0 {
		return nil, errors.NewInvalidConfigurationError("tool_configuration", "at least one tool must be enabled")
	}

	seen := make(map[string]bool, len(cfg.ToolConfiguration))
	for i := range cfg.ToolConfiguration {
		tc := &cfg.ToolConfiguration[i]
		if err := tc.Validate(); err != nil {
			return nil, err
		}
		if seen[tc.Domain()] {
			return nil, errors.NewInvalidConfigurationError("tool_configuration", "duplicate tool for domain "+tc.Domain())
		}
		seen[tc.Domain()] = true
	}

	if err := validation.ValidateRiskThreshold(cfg.RiskThreshold); err != nil {
		return nil, errors.NewInvalidConfigurationError("risk_threshold", err.Error())
	}

	now := clock.Now()
	return &Investigation{
		ID:                uuid.New(),
		UserID:            cfg.UserID,
		EntityID:          cfg.EntityID,
		EntityType:        cfg.EntityType,
		TimeRange:         cfg.TimeRange,
		ToolConfiguration: cfg.ToolConfiguration,
		ExecutionMode:     cfg.ExecutionMode,
		RiskThreshold:     cfg.RiskThreshold,
		LifecycleStage:    StageCreated,
		Status:            StatusCreated,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastAccessedAt:    now,
	}, nil
}

func invalidTransition(from, to Status) error {
	return errors.NewBusinessError("INVALID_TRANSITION", "lifecycle transition not permitted").
		WithDetails(map[string]interface{}{"from": from.String(), "to": to.String()})
}

// EnterSettings moves a freshly created investigation into the holding state
// while the client finalizes configuration
func (inv *Investigation) EnterSettings() error {
	if inv.Status != StatusCreated {
		return invalidTransition(inv.Status, StatusSettings)
	}
	inv.LifecycleStage = StageSettings
	inv.Status = StatusSettings
	inv.touch()
	return nil
}

// Start transitions into in_progress once configuration validation passed
func (inv *Investigation) Start() error {
	switch inv.Status {
	case StatusCreated, StatusSettings:
	default:
		return invalidTransition(inv.Status, StatusInProgress)
	}
	inv.LifecycleStage = StageInProgress
	inv.Status = StatusInProgress
	inv.touch()
	return nil
}

// Complete records the terminal assessment. The results document is opaque to
// the entity; the reporting collaborator consumes it as-is.
func (inv *Investigation) Complete(resultsJSON []byte) error {
	if inv.Status != StatusInProgress {
		return invalidTransition(inv.Status, StatusCompleted)
	}
	inv.LifecycleStage = StageCompleted
	inv.Status = StatusCompleted
	inv.ResultsJSON = resultsJSON
	inv.touch()
	return nil
}

// Fail records a terminal error with a machine-readable reason code
func (inv *Investigation) Fail(reason string) error {
	if inv.Status.IsTerminal() {
		return errors.ErrInvestigationTerminal
	}
	inv.Status = StatusError
	inv.FailureReason = reason
	inv.touch()
	return nil
}

// Cancel handles an explicit control request. Partial findings are discarded:
// a cancelled investigation never yields an assessment.
func (inv *Investigation) Cancel() error {
	if inv.Status.IsTerminal() {
		return errors.ErrInvestigationTerminal
	}
	inv.Status = StatusCancelled
	inv.ResultsJSON = nil
	inv.touch()
	return nil
}

// Touch updates access bookkeeping. Exempt from optimistic-lock checks.
func (inv *Investigation) Touch() {
	inv.LastAccessedAt = clock.Now()
}

// Clone returns a deep copy safe to hand to concurrent readers
func (inv *Investigation) Clone() *Investigation {
	cp := *inv
	cp.ToolConfiguration = make([]ToolConfig, len(inv.ToolConfiguration))
	copy(cp.ToolConfiguration, inv.ToolConfiguration)
	if inv.ProgressJSON != nil {
		cp.ProgressJSON = append([]byte(nil), inv.ProgressJSON...)
	}
	if inv.ResultsJSON != nil {
		cp.ResultsJSON = append([]byte(nil), inv.ResultsJSON...)
	}
	return &cp
}

func (inv *Investigation) touch() {
	now := clock.Now()
	inv.UpdatedAt = now
	inv.LastAccessedAt = now
}
