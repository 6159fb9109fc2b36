package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/finding"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// NetworkAgent scores connection-level indicators: anonymizing
// infrastructure, ASN reputation and routing anomalies.
type NetworkAgent struct {
	source DataSource
}

func NewNetworkAgent(source DataSource) *NetworkAgent {
	return &NetworkAgent{source: source}
}

func (a *NetworkAgent) Name() string   { return "network-analysis" }
func (a *NetworkAgent) Domain() string { return investigation.DomainNetwork }

func (a *NetworkAgent) Run(ctx context.Context, actx *AgentContext) (*assessment.DomainResult, error) {
	started := time.Now()
	params := actx.Params.Network

	if actx.Cancelled() {
		return nil, context.Canceled
	}
	actx.Progress(10)

	records, err := a.source.Query(ctx, QueryRequest{
		Domain:     a.Domain(),
		Dataset:    "connections",
		EntityID:   actx.EntityID,
		EntityType: actx.EntityType,
		TimeRange:  actx.TimeRange,
	})
	if err != nil {
		return failedDomain(a.Domain(), fmt.Sprintf("connection query: %v", err)), nil
	}
	if actx.Cancelled() {
		return nil, context.Canceled
	}
	actx.Progress(60)

	var (
		score    int
		findings []*finding.Finding
		proxied  int
	)

	for _, rec := range records {
		if params.ProxyDetection && (recBool(rec, "proxy") || recBool(rec, "vpn")) {
			proxied++
		}

		if params.ASNLookups {
			switch recString(rec, "asn_reputation") {
			case "malicious":
				score += 40
				findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityCritical,
					"connection from malicious ASN",
					fmt.Sprintf("ASN %s is on the abuse blocklist", recString(rec, "asn")), 0.85).
					WithAffectedEntities(actx.EntityID))
			case "suspicious":
				score += 15
				findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityMedium,
					"connection from suspicious ASN",
					fmt.Sprintf("ASN %s has elevated abuse reports", recString(rec, "asn")), 0.6))
			}
		}

		if hops := int(recFloat(rec, "hops")); hops > params.MaxHops {
			score += 10
			findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityLow,
				"anomalous route length",
				fmt.Sprintf("%d hops observed, above the %d hop ceiling", hops, params.MaxHops), 0.5))
		}
	}

	if proxied > 0 {
		score += 25
		findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityHigh,
			"anonymizing infrastructure",
			fmt.Sprintf("%d of %d connections via proxy or VPN exit nodes", proxied, len(records)), 0.8).
			WithAffectedEntities(actx.EntityID))
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
