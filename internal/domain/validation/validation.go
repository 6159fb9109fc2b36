package validation

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidateEntityID validates the identifier of the entity under investigation
func ValidateEntityID(entityID string) error {
	if entityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}

	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return fmt.Errorf("entity id cannot be blank")
	}

	if len(entityID) > 255 {
		return fmt.Errorf("entity id too long (max 255 characters)")
	}

	return nil
}

// ValidateTimeRange validates an analysis window
func ValidateTimeRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("time range bounds cannot be zero")
	}

	if start.After(end) {
		return fmt.Errorf("time range start must not be after end")
	}

	return nil
}

// ValidateRiskThreshold validates the escalation threshold
func ValidateRiskThreshold(threshold int) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("risk threshold must be within [0,100], got %d", threshold)
	}

	return nil
}

// ValidateRiskScore validates a per-domain or overall risk score
func ValidateRiskScore(score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("risk score must be within [0,100], got %d", score)
	}

	return nil
}

// ValidateConfidence validates an agent confidence score
func ValidateConfidence(confidence float64) error {
	if math.IsNaN(confidence) {
		return fmt.Errorf("confidence cannot be NaN")
	}

	if math.IsInf(confidence, 0) {
		return fmt.Errorf("confidence cannot be infinite")
	}

	if confidence < 0.0 || confidence > 1.0 {
		return fmt.Errorf("confidence must be within [0.0,1.0], got %f", confidence)
	}

	return nil
}

// ValidateProgress validates a progress percentage
func ValidateProgress(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("progress must be within [0,100], got %d", pct)
	}

	return nil
}

// ValidateWeight validates a configured per-domain aggregation weight
func ValidateWeight(weight float64, domain string) error {
	if math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("weight for %s is not a finite number", domain)
	}

	if weight <= 0 {
		return fmt.Errorf("weight for %s must be positive", domain)
	}

	return nil
}
