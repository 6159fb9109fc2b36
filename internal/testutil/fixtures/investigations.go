package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// InvestigationBuilder builds test Investigation entities
type InvestigationBuilder struct {
	t          *testing.T
	userID     uuid.UUID
	entityID   string
	entityType investigation.EntityType
	timeRange  investigation.TimeRange
	tools      []investigation.ToolConfig
	mode       investigation.ExecutionMode
	threshold  int
}

// NewInvestigationBuilder creates a new InvestigationBuilder with defaults
func NewInvestigationBuilder(t *testing.T) *InvestigationBuilder {
	t.Helper()
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &InvestigationBuilder{
		t:          t,
		userID:     uuid.New(),
		entityID:   "user-4821",
		entityType: investigation.EntityTypeUser,
		timeRange:  investigation.TimeRange{Start: end.Add(-24 * time.Hour), End: end},
		tools: []investigation.ToolConfig{
			{Kind: investigation.ToolKindDevice, Device: &investigation.DeviceToolParams{FingerprintDepth: 3}},
			{Kind: investigation.ToolKindNetwork, Network: &investigation.NetworkToolParams{MaxHops: 8}},
		},
		mode:      investigation.ExecutionModeParallel,
		threshold: 50,
	}
}

// WithUserID sets the owning user
func (b *InvestigationBuilder) WithUserID(id uuid.UUID) *InvestigationBuilder {
	b.userID = id
	return b
}

// WithEntity sets the entity under investigation
func (b *InvestigationBuilder) WithEntity(id string, entityType investigation.EntityType) *InvestigationBuilder {
	b.entityID = id
	b.entityType = entityType
	return b
}

// WithTimeRange sets the analysis window
func (b *InvestigationBuilder) WithTimeRange(start, end time.Time) *InvestigationBuilder {
	b.timeRange = investigation.TimeRange{Start: start, End: end}
	return b
}

// WithTools replaces the tool configuration
func (b *InvestigationBuilder) WithTools(tools ...investigation.ToolConfig) *InvestigationBuilder {
	b.tools = tools
	return b
}

// WithExecutionMode sets the execution mode
func (b *InvestigationBuilder) WithExecutionMode(mode investigation.ExecutionMode) *InvestigationBuilder {
	b.mode = mode
	return b
}

// WithRiskThreshold sets the escalation threshold
func (b *InvestigationBuilder) WithRiskThreshold(threshold int) *InvestigationBuilder {
	b.threshold = threshold
	return b
}

// Build creates the Investigation, failing the test on invalid configuration
func (b *InvestigationBuilder) Build() *investigation.Investigation {
	b.t.Helper()
	inv, err := investigation.NewInvestigation(investigation.Config{
		UserID:            b.userID,
		EntityID:          b.entityID,
		EntityType:        b.entityType,
		TimeRange:         b.timeRange,
		ToolConfiguration: b.tools,
		ExecutionMode:     b.mode,
		RiskThreshold:     b.threshold,
	})
	require.NoError(b.t, err)
	return inv
}

// BuildStarted creates an Investigation already in progress
func (b *InvestigationBuilder) BuildStarted() *investigation.Investigation {
	b.t.Helper()
	inv := b.Build()
	require.NoError(b.t, inv.Start())
	return inv
}
