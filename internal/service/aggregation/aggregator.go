// Package aggregation turns heterogeneous per-domain results into one risk
// verdict. Aggregate is a pure function: identical inputs produce
// byte-identical output, which idempotent retries and the test suite rely on.
package aggregation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/finding"
)

// Input carries everything Aggregate needs. Results must be in domain
// execution order; that order breaks ranking ties among findings.
type Input struct {
	Results       []*assessment.DomainResult
	Weights       map[string]float64
	RiskThreshold int
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Aggregate computes the overall assessment from per-domain results.
//
// Failed domains are excluded from the weighted denominator rather than
// contributing zero risk, so an agent outage cannot dilute the score. The
// denominator renormalizes over surviving weights. When every domain failed
// there is nothing to renormalize over and aggregation itself fails.
func Aggregate(investigationID uuid.UUID, in Input) (*assessment.OverallAssessment, error) {
	if len(in.Results) == 0 {
		return nil, errors.NewAggregationImpossibleError(nil)
	}

	var (
		weightedSum   = decimal.Zero
		totalWeight   = decimal.Zero
		scores        = make(map[string]int)
		failedDomains []string
		reasons       = make(map[string]string, len(in.Results))
		merged        []*finding.Finding
	)

	for _, res := range in.Results {
		if res.Failed() {
			failedDomains = append(failedDomains, res.Domain)
			reason := res.FailureReason
			if reason == "" {
				reason = "agent failed"
			}
			reasons[res.Domain] = reason
			continue
		}

		weight := decimal.NewFromInt(1)
		if w, ok := in.Weights[res.Domain]; ok && w > 0 {
			weight = decimal.NewFromFloat(w)
		}

		weightedSum = weightedSum.Add(weight.Mul(decimal.NewFromInt(int64(res.RiskScore))))
		totalWeight = totalWeight.Add(weight)
		scores[res.Domain] = res.RiskScore
		merged = append(merged, res.Findings...)
	}

	if totalWeight.IsZero() {
		return nil, errors.NewAggregationImpossibleError(reasons)
	}

	// Round half-up to the nearest integer
	overall := int(weightedSum.Div(totalWeight).Round(0).IntPart())

	// Highest severity first, then confidence; stable sort keeps execution
	// order on exact ties
	sort.SliceStable(merged, func(i, j int) bool {
		return finding.Ranks(merged[i], merged[j])
	})

	return &assessment.OverallAssessment{
		InvestigationID:  investigationID,
		OverallRiskScore: overall,
		DomainScores:     scores,
		FailedDomains:    failedDomains,
		Findings:         merged,
		Summary:          summarize(in.Results, overall, failedDomains, merged),
		Escalate:         overall >= in.RiskThreshold,
		CompletedAt:      in.CompletedAt,
		DurationMS:       in.CompletedAt.Sub(in.StartedAt).Milliseconds(),
	}, nil
}

func summarize(results []*assessment.DomainResult, overall int, failed []string, findings []*finding.Finding) string {
	var b strings.Builder

	covered := len(results) - len(failed)
	fmt.Fprintf(&b, "overall risk %d/100 across %d of %d domains", overall, covered, len(results))

	parts := make([]string, 0, covered)
	for _, res := range results {
		if !res.Failed() {
			parts = append(parts, fmt.Sprintf("%s %d", res.Domain, res.RiskScore))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}

	if len(failed) > 0 {
		fmt.Fprintf(&b, "; degraded coverage, %d domain(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}

	if n := len(findings); n > 0 {
		critical := 0
		for _, f := range findings {
			if f.Severity == finding.SeverityCritical {
				critical++
			}
		}
		fmt.Fprintf(&b, "; %d finding(s)", n)
		if critical > 0 {
			fmt.Fprintf(&b, ", %d critical", critical)
		}
	}

	return b.String()
}
