package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/finding"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// DeviceAgent scores device integrity signals: emulator and root indicators
// plus fingerprint churn across the analysis window.
type DeviceAgent struct {
	source DataSource
}

func NewDeviceAgent(source DataSource) *DeviceAgent {
	return &DeviceAgent{source: source}
}

func (a *DeviceAgent) Name() string   { return "device-analysis" }
func (a *DeviceAgent) Domain() string { return investigation.DomainDevice }

func (a *DeviceAgent) Run(ctx context.Context, actx *AgentContext) (*assessment.DomainResult, error) {
	started := time.Now()
	params := actx.Params.Device

	if actx.Cancelled() {
		return nil, context.Canceled
	}
	actx.Progress(10)

	records, err := a.source.Query(ctx, QueryRequest{
		Domain:     a.Domain(),
		Dataset:    "fingerprints",
		EntityID:   actx.EntityID,
		EntityType: actx.EntityType,
		TimeRange:  actx.TimeRange,
		Limit:      params.FingerprintDepth * 100,
	})
	if err != nil {
		return failedDomain(a.Domain(), fmt.Sprintf("fingerprint query: %v", err)), nil
	}
	if actx.Cancelled() {
		return nil, context.Canceled
	}
	actx.Progress(60)

	var (
		score        int
		findings     []*finding.Finding
		fingerprints = make(map[string]struct{})
	)

	for _, rec := range records {
		if fp := recString(rec, "fingerprint"); fp != "" {
			fingerprints[fp] = struct{}{}
		}

		if params.EmulatorChecks && recBool(rec, "emulator") {
			score += 40
			findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityCritical,
				"emulator detected",
				"device fingerprint matches a known emulator profile", 0.9).
				WithAffectedEntities(actx.EntityID))
		}

		if recBool(rec, "rooted") {
			score += 25
			findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityHigh,
				"rooted device",
				"integrity attestation reports a rooted or jailbroken device", 0.85).
				WithAffectedEntities(actx.EntityID))
		}

		if recBool(rec, "os_mismatch") {
			score += 15
			findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityMedium,
				"OS fingerprint mismatch",
				"reported OS diverges from the TLS and header fingerprint", 0.6))
		}
	}

	// More distinct fingerprints than the configured depth means the entity
	// rotates devices faster than plausible organic use
	if len(fingerprints) > params.FingerprintDepth {
		score += 20
		findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityMedium,
			"device churn",
			fmt.Sprintf("%d distinct fingerprints in window, expected at most %d",
				len(fingerprints), params.FingerprintDepth), 0.7))
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
