package agents

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/finding"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// LocationAgent scores movement plausibility: impossible travel between
// consecutive observations and unusual country spread.
type LocationAgent struct {
	source DataSource
}

func NewLocationAgent(source DataSource) *LocationAgent {
	return &LocationAgent{source: source}
}

func (a *LocationAgent) Name() string   { return "location-analysis" }
func (a *LocationAgent) Domain() string { return investigation.DomainLocation }

func (a *LocationAgent) Run(ctx context.Context, actx *AgentContext) (*assessment.DomainResult, error) {
	started := time.Now()
	params := actx.Params.Location

	if actx.Cancelled() {
		return nil, context.Canceled
	}
	actx.Progress(10)

	// Source returns observations in ascending timestamp order
	records, err := a.source.Query(ctx, QueryRequest{
		Domain:     a.Domain(),
		Dataset:    "locations",
		EntityID:   actx.EntityID,
		EntityType: actx.EntityType,
		TimeRange:  actx.TimeRange,
		Limit:      params.MaxLocations,
	})
	if err != nil {
		return failedDomain(a.Domain(), fmt.Sprintf("location query: %v", err)), nil
	}
	if actx.Cancelled() {
		return nil, context.Canceled
	}
	actx.Progress(60)

	var (
		score     int
		findings  []*finding.Finding
		countries = make(map[string]struct{})
	)

	for i, rec := range records {
		if c := recString(rec, "country"); c != "" {
			countries[c] = struct{}{}
		}
		if i == 0 {
			continue
		}

		prev := records[i-1]
		elapsed := recTime(rec, "timestamp").Sub(recTime(prev, "timestamp")).Hours()
		if elapsed <= 0 {
			continue
		}

		distance := haversineKm(
			recFloat(prev, "lat"), recFloat(prev, "lon"),
			recFloat(rec, "lat"), recFloat(rec, "lon"))
		speed := distance / elapsed

		if speed > params.ImpossibleSpeedKmh {
			score += 45
			findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityCritical,
				"impossible travel",
				fmt.Sprintf("%.0f km in %.1f h implies %.0f km/h, above the %.0f km/h limit",
					distance, elapsed, speed, params.ImpossibleSpeedKmh), 0.9).
				WithAffectedEntities(actx.EntityID))
		}
	}

	if len(countries) > 3 {
		score += 20
		findings = append(findings, finding.MustNew(a.Domain(), finding.SeverityMedium,
			"wide country spread",
			fmt.Sprintf("activity observed from %d countries within the window", len(countries)), 0.6))
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

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
