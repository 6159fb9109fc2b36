package agents_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/finding"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
	"github.com/fraudlens/investigation-backend/internal/service/agents"
	"github.com/fraudlens/investigation-backend/internal/testutil"
)

func newContext(params investigation.ToolConfig) *agents.AgentContext {
	return &agents.AgentContext{
		EntityID:   "user-4821",
		EntityType: investigation.EntityTypeUser,
		TimeRange: investigation.TimeRange{
			Start: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 5, 8, 0, 0, 0, 0, time.UTC),
		},
		Params:    params,
		Progress:  func(int) {},
		Cancelled: func() bool { return false },
	}
}

func deviceParams(depth int, emulatorChecks bool) investigation.ToolConfig {
	return investigation.ToolConfig{
		Kind:   investigation.ToolKindDevice,
		Device: &investigation.DeviceToolParams{FingerprintDepth: depth, EmulatorChecks: emulatorChecks},
	}
}

func TestDeviceAgent(t *testing.T) {
	t.Run("clean device scores zero", func(t *testing.T) {
		source := testutil.NewStubDataSource().WithDataset("fingerprints",
			agents.Record{"fingerprint": "fp-1"},
		)
		agent := agents.NewDeviceAgent(source)

		result, err := agent.Run(context.Background(), newContext(deviceParams(3, true)))
		require.NoError(t, err)
		assert.Equal(t, assessment.AgentCompleted, result.Status)
		assert.Equal(t, 0, result.RiskScore)
		assert.Empty(t, result.Findings)
	})

	t.Run("emulator and churn accumulate", func(t *testing.T) {
		source := testutil.NewStubDataSource().WithDataset("fingerprints",
			agents.Record{"fingerprint": "fp-1", "emulator": true},
			agents.Record{"fingerprint": "fp-2"},
			agents.Record{"fingerprint": "fp-3"},
		)
		agent := agents.NewDeviceAgent(source)

		result, err := agent.Run(context.Background(), newContext(deviceParams(2, true)))
		require.NoError(t, err)
		// 40 for the emulator, 20 for fingerprint churn above depth 2
		assert.Equal(t, 60, result.RiskScore)
		require.Len(t, result.Findings, 2)
		assert.Equal(t, finding.SeverityCritical, result.Findings[0].Severity)
	})

	t.Run("emulator checks disabled", func(t *testing.T) {
		source := testutil.NewStubDataSource().WithDataset("fingerprints",
			agents.Record{"fingerprint": "fp-1", "emulator": true},
		)
		agent := agents.NewDeviceAgent(source)

		result, err := agent.Run(context.Background(), newContext(deviceParams(3, false)))
		require.NoError(t, err)
		assert.Equal(t, 0, result.RiskScore)
	})

	t.Run("source failure becomes failed result", func(t *testing.T) {
		source := testutil.NewStubDataSource().WithError("fingerprints", stderrors.New("store down"))
		agent := agents.NewDeviceAgent(source)

		result, err := agent.Run(context.Background(), newContext(deviceParams(3, true)))
		require.NoError(t, err)
		assert.Equal(t, assessment.AgentFailed, result.Status)
		assert.Contains(t, result.FailureReason, "store down")
	})

	t.Run("cancellation observed before query", func(t *testing.T) {
		source := testutil.NewStubDataSource()
		agent := agents.NewDeviceAgent(source)

		actx := newContext(deviceParams(3, true))
		actx.Cancelled = func() bool { return true }

		_, err := agent.Run(context.Background(), actx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, source.Queries())
	})
}

func TestLocationAgent_ImpossibleTravel(t *testing.T) {
	base := time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)
	source := testutil.NewStubDataSource().WithDataset("locations",
		agents.Record{"lat": 40.7128, "lon": -74.0060, "country": "US", "timestamp": base},
		// New York to Tokyo in one hour
		agents.Record{"lat": 35.6762, "lon": 139.6503, "country": "JP", "timestamp": base.Add(time.Hour)},
	)
	agent := agents.NewLocationAgent(source)

	actx := newContext(investigation.ToolConfig{
		Kind:     investigation.ToolKindLocation,
		Location: &investigation.LocationToolParams{MaxLocations: 100, ImpossibleSpeedKmh: 1000},
	})

	result, err := agent.Run(context.Background(), actx)
	require.NoError(t, err)
	assert.Equal(t, 45, result.RiskScore)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "impossible travel", result.Findings[0].Title)
	assert.Equal(t, finding.SeverityCritical, result.Findings[0].Severity)
}

func TestNetworkAgent(t *testing.T) {
	source := testutil.NewStubDataSource().WithDataset("connections",
		agents.Record{"proxy": true, "asn": "AS64500", "asn_reputation": "malicious", "hops": 12},
		agents.Record{"vpn": true, "asn": "AS64501", "asn_reputation": "clean", "hops": 8},
	)
	agent := agents.NewNetworkAgent(source)

	actx := newContext(investigation.ToolConfig{
		Kind:    investigation.ToolKindNetwork,
		Network: &investigation.NetworkToolParams{ProxyDetection: true, ASNLookups: true, MaxHops: 10},
	})

	result, err := agent.Run(context.Background(), actx)
	require.NoError(t, err)
	// 40 malicious ASN + 10 route length + 25 proxy usage
	assert.Equal(t, 75, result.RiskScore)
	assert.Len(t, result.Findings, 3)
}

func TestLogAgent(t *testing.T) {
	logParams := investigation.ToolConfig{
		Kind: investigation.ToolKindLogs,
		Logs: &investigation.LogToolParams{MaxRecords: 1000},
	}

	t.Run("auth failure pressure", func(t *testing.T) {
		source := testutil.NewStubDataSource().WithDataset("activity_logs",
			agents.Record{"event": "auth_failure"},
			agents.Record{"event": "auth_failure"},
			agents.Record{"event": "auth_failure"},
			agents.Record{"event": "login"},
		)
		agent := agents.NewLogAgent(source)

		result, err := agent.Run(context.Background(), newContext(logParams))
		require.NoError(t, err)
		assert.Equal(t, 35, result.RiskScore)
	})

	t.Run("prior findings corroborate", func(t *testing.T) {
		source := testutil.NewStubDataSource().WithDataset("activity_logs",
			agents.Record{"event": "password_change"},
		)
		agent := agents.NewLogAgent(source)

		actx := newContext(logParams)
		actx.PriorFindings = []*finding.Finding{
			finding.MustNew(investigation.DomainDevice, finding.SeverityHigh, "rooted device", "", 0.8),
		}

		result, err := agent.Run(context.Background(), actx)
		require.NoError(t, err)
		// 20 credential change + 10 corroboration
		assert.Equal(t, 30, result.RiskScore)
	})
}

func TestRegistry(t *testing.T) {
	registry := agents.NewRegistry(testutil.NewStubDataSource())

	t.Run("builtin kinds resolve", func(t *testing.T) {
		for _, kind := range []investigation.ToolKind{
			investigation.ToolKindDevice,
			investigation.ToolKindLocation,
			investigation.ToolKindNetwork,
			investigation.ToolKindLogs,
		} {
			agent, err := registry.Resolve(investigation.ToolConfig{Kind: kind})
			require.NoError(t, err)
			assert.Equal(t, kind.String(), agent.Domain())
		}
	})

	t.Run("unknown custom tool rejected", func(t *testing.T) {
		_, err := registry.Resolve(investigation.ToolConfig{
			Kind:   investigation.ToolKindCustom,
			Custom: &investigation.CustomToolParams{Name: "chargeback-graph", Domain: "payments"},
		})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "INVALID_CONFIGURATION"))
	})

	t.Run("registered custom tool resolves", func(t *testing.T) {
		custom := agents.NewLogAgent(testutil.NewStubDataSource())
		registry.RegisterCustom("chargeback-graph", custom)

		agent, err := registry.Resolve(investigation.ToolConfig{
			Kind:   investigation.ToolKindCustom,
			Custom: &investigation.CustomToolParams{Name: "chargeback-graph", Domain: "payments"},
		})
		require.NoError(t, err)
		assert.Same(t, agents.Agent(custom), agent)
	})
}
