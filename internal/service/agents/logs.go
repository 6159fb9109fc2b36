package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/finding"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// LogAgent scores behavioral signals mined from activity logs:
// authentication failure pressure and sensitive account events.
type LogAgent struct {
	source DataSource
}

func NewLogAgent(source DataSource) *LogAgent {
	return &LogAgent{source: source}
}

func (a *LogAgent) Name() string   { return "log-analysis" }
func (a *LogAgent) Domain() string { return investigation.DomainLogs }

func (a *LogAgent) Run(ctx context.Context, actx *AgentContext) (*assessment.DomainResult, error) {
	started := time.Now()
	params := actx.Params.Logs

	if actx.Cancelled() {
		return nil, context.Canceled
	}
	actx.Progress(10)

	queryParams := map[string]interface{}{}
	if len(params.Levels) > 0 {
		queryParams["levels"] = params.Levels
	}

	records, err := a.source.Query(ctx, QueryRequest{
		Domain:     a.Domain(),
		Dataset:    "activity_logs",
		EntityID:   actx.EntityID,
		EntityType: actx.EntityType,
		TimeRange:  actx.TimeRange,
		Limit:      params.MaxRecords,
		Params:     queryParams,
	})
	if err != nil {
		return failedDomain(a.Domain(), fmt.Sprintf("activity log query: %v", err)), nil
	}
	if actx.Cancelled() {
		return nil, context.Canceled
	}
	actx.Progress(60)

	var (
		score        int
		findings     []*finding.Finding
		authFailures int
		credChanges  int
	)

	for _, rec := range records {
		switch recString(rec, "event") {
		case "auth_failure":
			authFailures++
		case "password_change", "mfa_disabled":
			credChanges++
		}
	}

	if total := len(records); total > 0 && authFailures*5 >= total && authFailures >= 3 {
		score += 35
		findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityHigh,
			"authentication failure pressure",
			fmt.Sprintf("%d failed authentications out of %d events in window", authFailures, total), 0.75).
			WithAffectedEntities(actx.EntityID))
	}

	if credChanges > 0 {
		score += 20
		findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityMedium,
			"credential changes in window",
			fmt.Sprintf("%d password or MFA changes during the analysis window", credChanges), 0.65))
	}

	// Sequential runs get corroboration: behavioral signals are weighted up
	// when another domain already produced evidence
	if score > 0 && len(actx.PriorFindings) > 0 {
		score += 10
		findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityLow,
			"cross-domain corroboration",
			fmt.Sprintf("behavioral anomalies corroborated by %d prior findings", len(actx.PriorFindings)), 0.5))
	}

	actx.Progress(100)

	return &assessment.DomainResult{
		Domain:          a.Domain(),
		Status:          assessment.AgentCompleted,
		RiskScore:       clampScore(score),
		Findings:        findings,
		ToolsUsed:       1,
		ExecutionTimeMS: time.Since(started).Milliseconds(),
	}, nil
}
