package agents

import (
	"time"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
)

// Record field accessors. Sources deliver loosely typed rows; missing or
// mistyped fields read as zero values rather than failing the whole run.

func recBool(r Record, key string) bool {
	v, _ := r[key].(bool)
	return v
}

func recString(r Record, key string) string {
	v, _ := r[key].(string)
	return v
}

func recFloat(r Record, key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func recTime(r Record, key string) time.Time {
	v, _ := r[key].(time.Time)
	return v
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func failedDomain(domain, reason string) *assessment.DomainResult {
	return &assessment.DomainResult{
		Domain:        domain,
		Status:        assessment.AgentFailed,
		FailureReason: reason,
	}
}
