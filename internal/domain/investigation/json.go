package investigation

import (
	"encoding/json"
	"fmt"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
)

// Enums cross process boundaries as their string names, never as raw ints.

func (t EntityType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EntityType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEntityType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (m ExecutionMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *ExecutionMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseExecutionMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (k ToolKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ToolKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseToolKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseLifecycleStage maps a stored value back to a LifecycleStage
func ParseLifecycleStage(s string) (LifecycleStage, error) {
	switch s {
	case "created":
		return StageCreated, nil
	case "settings":
		return StageSettings, nil
	case "in_progress":
		return StageInProgress, nil
	case "completed":
		return StageCompleted, nil
	default:
		return 0, errors.NewValidationError("INVALID_STAGE", fmt.Sprintf("unknown lifecycle stage %q", s))
	}
}

// ParseStatus maps a stored value back to a Status
func ParseStatus(s string) (Status, error) {
	switch s {
	case "created":
		return StatusCreated, nil
	case "settings":
		return StatusSettings, nil
	case "in_progress":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	case "error":
		return StatusError, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, errors.NewValidationError("INVALID_STATUS", fmt.Sprintf("unknown status %q", s))
	}
}

func (s LifecycleStage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *LifecycleStage) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseLifecycleStage(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
