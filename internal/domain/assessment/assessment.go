package assessment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fraudlens/investigation-backend/internal/domain/finding"
)

// AgentStatus tracks one agent's progression within a run
type AgentStatus int

const (
	AgentPending AgentStatus = iota
	AgentRunning
	AgentCompleted
	AgentFailed
)

func (s AgentStatus) String() string {
	switch s {
	case AgentPending:
		return "pending"
	case AgentRunning:
		return "running"
	case AgentCompleted:
		return "completed"
	case AgentFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the agent reached a final per-agent status
func (s AgentStatus) IsTerminal() bool {
	return s == AgentCompleted || s == AgentFailed
}

func (s AgentStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *AgentStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "pending":
		*s = AgentPending
	case "running":
		*s = AgentRunning
	case "completed":
		*s = AgentCompleted
	case "failed":
		*s = AgentFailed
	default:
		return fmt.Errorf("unknown agent status %q", str)
	}
	return nil
}

// AgentRun is the ephemeral progress record for one agent within one
// investigation. The orchestrator owns it for the duration of the run and
// folds it into the investigation's progress snapshot on each update.
type AgentRun struct {
	AgentName          string             `json:"agent_name"`
	Domain             string             `json:"domain"`
	Status             AgentStatus        `json:"status"`
	ProgressPercentage int                `json:"progress_percentage"`
	RiskScore          int                `json:"risk_score"`
	ToolsUsed          int                `json:"tools_used"`
	Findings           []*finding.Finding `json:"findings,omitempty"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	StartedAt          *time.Time         `json:"started_at,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	ExecutionTimeMS    int64              `json:"execution_time_ms"`
}

// DomainResult is the terminal output of one agent: a per-domain score plus
// the evidence behind it
type DomainResult struct {
	Domain          string             `json:"domain"`
	Status          AgentStatus        `json:"status"`
	RiskScore       int                `json:"risk_score"`
	Findings        []*finding.Finding `json:"findings,omitempty"`
	FailureReason   string             `json:"failure_reason,omitempty"`
	ToolsUsed       int                `json:"tools_used"`
	ExecutionTimeMS int64              `json:"execution_time_ms"`
}

// Failed reports whether the domain contributed no usable score
func (r *DomainResult) Failed() bool {
	return r.Status == AgentFailed
}

// OverallAssessment is the aggregated, final risk verdict for an
// investigation. Produced exactly once, immutable thereafter.
type OverallAssessment struct {
	InvestigationID  uuid.UUID          `json:"investigation_id"`
	OverallRiskScore int                `json:"overall_risk_score"`
	DomainScores     map[string]int     `json:"domain_scores"`
	FailedDomains    []string           `json:"failed_domains,omitempty"`
	Findings         []*finding.Finding `json:"findings,omitempty"`
	Summary          string             `json:"summary"`
	Escalate         bool               `json:"escalate"`
	CompletedAt      time.Time          `json:"completed_at"`
	DurationMS       int64              `json:"duration_ms"`
}

// StatusSnapshot is the single observation payload shared by the polling
// endpoint and the push channel. Both transports must emit the same sequence
// of lifecycle transitions.
type StatusSnapshot struct {
	InvestigationID    uuid.UUID   `json:"investigation_id"`
	Status             string      `json:"status"`
	LifecycleStage     string      `json:"lifecycle_stage"`
	ProgressPercentage int         `json:"progress_percentage"`
	AgentRuns          []*AgentRun `json:"agent_runs,omitempty"`
	Version            int64       `json:"version"`
	Terminal           bool        `json:"terminal"`
	ResultsAvailable   bool        `json:"results_available"`
	FailureReason      string      `json:"failure_reason,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
}

// OverallProgress derives investigation progress as the equally weighted mean
// of per-agent progress, truncated to an integer percentage.
func OverallProgress(runs []*AgentRun) int {
	if len(runs) == 0 {
		return 0
	}
	total := 0
	for _, run := range runs {
		total += run.ProgressPercentage
	}
	return total / len(runs)
}
