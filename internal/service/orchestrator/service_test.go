package orchestrator_test

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/repository"
	"github.com/fraudlens/investigation-backend/internal/service/agents"
	"github.com/fraudlens/investigation-backend/internal/service/orchestrator"
	"github.com/fraudlens/investigation-backend/internal/testutil"
)

// recordingPublisher captures every emitted snapshot in order
type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []*assessment.StatusSnapshot
}

func (p *recordingPublisher) PublishSnapshot(_ context.Context, snap *assessment.StatusSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snap)
}

func (p *recordingPublisher) all() []*assessment.StatusSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*assessment.StatusSnapshot, len(p.snapshots))
	copy(out, p.snapshots)
	return out
}

// blockingAgent runs until cancelled or released
type blockingAgent struct {
	name    string
	domain  string
	release chan struct{}
}

func (a *blockingAgent) Name() string   { return a.name }
func (a *blockingAgent) Domain() string { return a.domain }

func (a *blockingAgent) Run(ctx context.Context, actx *agents.AgentContext) (*assessment.DomainResult, error) {
	actx.Progress(10)
	for {
		if actx.Cancelled() {
			return nil, context.Canceled
		}
		select {
		case <-a.release:
			actx.Progress(100)
			return &assessment.DomainResult{
				Domain:    a.domain,
				Status:    assessment.AgentCompleted,
				RiskScore: 10,
			}, nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// countingAgent tracks how many times it was invoked
type countingAgent struct {
	*blockingAgent
	runs atomic.Int32
}

func (a *countingAgent) Run(ctx context.Context, actx *agents.AgentContext) (*assessment.DomainResult, error) {
	a.runs.Add(1)
	return a.blockingAgent.Run(ctx, actx)
}

// degradeAwareAgent records whether earlier domains were reported degraded
type degradeAwareAgent struct {
	name, domain string
	sawDegraded  atomic.Bool
}

func (a *degradeAwareAgent) Name() string   { return a.name }
func (a *degradeAwareAgent) Domain() string { return a.domain }

func (a *degradeAwareAgent) Run(_ context.Context, actx *agents.AgentContext) (*assessment.DomainResult, error) {
	a.sawDegraded.Store(actx.PriorDomainDegraded)
	return &assessment.DomainResult{
		Domain:    a.domain,
		Status:    assessment.AgentCompleted,
		RiskScore: 20,
	}, nil
}

// faultStore fails the nth Get to simulate a repository outage mid-run
type faultStore struct {
	*repository.MemoryStore
	gets   atomic.Int32
	failOn int32
}

func (s *faultStore) Get(ctx context.Context, id uuid.UUID) (*investigation.Investigation, error) {
	if s.gets.Add(1) == s.failOn {
		return nil, errors.NewInternalError("repository unavailable")
	}
	return s.MemoryStore.Get(ctx, id)
}

func fastConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxConcurrentAgents:   4,
		AgentAcquireTimeout:   200 * time.Millisecond,
		InvestigationTimeout:  5 * time.Second,
		ProgressFlushInterval: 10 * time.Millisecond,
		CASMaxRetries:         5,
	}
}

type harness struct {
	store     *repository.MemoryStore
	source    *testutil.StubDataSource
	registry  *agents.Registry
	publisher *recordingPublisher
	svc       orchestrator.Service
}

func newHarness(t *testing.T, cfg orchestrator.Config) *harness {
	t.Helper()

	store := repository.NewMemoryStore()
	source := testutil.NewStubDataSource()
	registry := agents.NewRegistry(source)
	publisher := &recordingPublisher{}
	svc := orchestrator.NewService(store, registry, publisher, zaptest.NewLogger(t), cfg)

	return &harness{store: store, source: source, registry: registry, publisher: publisher, svc: svc}
}

func (h *harness) create(t *testing.T, cfg investigation.Config) *investigation.Investigation {
	t.Helper()
	inv, err := h.store.Create(context.Background(), cfg)
	require.NoError(t, err)
	return inv
}

func baseConfig(tools ...investigation.ToolConfig) investigation.Config {
	return investigation.Config{
		UserID:     uuid.New(),
		EntityID:   "user-4821",
		EntityType: investigation.EntityTypeUser,
		TimeRange: investigation.TimeRange{
			Start: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 5, 8, 0, 0, 0, 0, time.UTC),
		},
		ToolConfiguration: tools,
		ExecutionMode:     investigation.ExecutionModeParallel,
		RiskThreshold:     50,
	}
}

func deviceTool() investigation.ToolConfig {
	return investigation.ToolConfig{
		Kind:   investigation.ToolKindDevice,
		Device: &investigation.DeviceToolParams{FingerprintDepth: 3, EmulatorChecks: true},
	}
}

func networkTool() investigation.ToolConfig {
	return investigation.ToolConfig{
		Kind:    investigation.ToolKindNetwork,
		Network: &investigation.NetworkToolParams{ProxyDetection: true, ASNLookups: true, MaxHops: 30},
	}
}

func logsTool() investigation.ToolConfig {
	return investigation.ToolConfig{
		Kind: investigation.ToolKindLogs,
		Logs: &investigation.LogToolParams{MaxRecords: 1000},
	}
}

func TestRun_ParallelCompletes(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.source.
		WithDataset("fingerprints", agents.Record{"fingerprint": "fp-1", "emulator": true}).
		WithDataset("connections", agents.Record{"proxy": true, "asn": "AS64500", "asn_reputation": "clean", "hops": 4})

	inv := h.create(t, baseConfig(deviceTool(), networkTool()))
	require.NoError(t, h.svc.Run(context.Background(), inv.ID))

	status, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.True(t, status.Terminal)
	assert.True(t, status.ResultsAvailable)
	assert.Equal(t, 100, status.ProgressPercentage)

	result, err := h.svc.GetResults(context.Background(), inv.ID)
	require.NoError(t, err)
	// device 40 (emulator), network 25 (proxy): round-half-up of 32.5
	assert.Equal(t, 33, result.OverallRiskScore)
	assert.Equal(t, map[string]int{"device": 40, "network": 25}, result.DomainScores)
	assert.False(t, result.Escalate)
}

func TestRun_PublishesMonotonicSnapshots(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.source.
		WithDataset("fingerprints", agents.Record{"fingerprint": "fp-1"}).
		WithDataset("connections", agents.Record{})

	inv := h.create(t, baseConfig(deviceTool(), networkTool()))
	require.NoError(t, h.svc.Run(context.Background(), inv.ID))

	snaps := h.publisher.all()
	require.NotEmpty(t, snaps)

	last := int64(0)
	for _, snap := range snaps {
		assert.Greater(t, snap.Version, last, "versions must strictly increase")
		last = snap.Version
	}
	assert.True(t, snaps[len(snaps)-1].Terminal, "final snapshot must be terminal")
	assert.Equal(t, "completed", snaps[len(snaps)-1].Status)
}

func TestRun_PartialFailureStillCompletes(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.source.
		WithDataset("fingerprints", agents.Record{"fingerprint": "fp-1", "rooted": true}).
		WithError("connections", stderrors.New("upstream timeout"))

	inv := h.create(t, baseConfig(deviceTool(), networkTool()))
	require.NoError(t, h.svc.Run(context.Background(), inv.ID))

	result, err := h.svc.GetResults(context.Background(), inv.ID)
	require.NoError(t, err)
	// Only the device score survives; network is excluded from the average
	assert.Equal(t, 25, result.OverallRiskScore)
	assert.Equal(t, []string{"network"}, result.FailedDomains)
	assert.Contains(t, result.Summary, "degraded coverage")
}

func TestRun_AllAgentsFailed(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.source.
		WithError("fingerprints", stderrors.New("store down")).
		WithError("connections", stderrors.New("upstream timeout"))

	inv := h.create(t, baseConfig(deviceTool(), networkTool()))
	err := h.svc.Run(context.Background(), inv.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "AGGREGATION_IMPOSSIBLE"))

	status, getErr := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, getErr)
	assert.Equal(t, "error", status.Status)
	assert.Equal(t, "AGGREGATION_IMPOSSIBLE", status.FailureReason)

	_, resErr := h.svc.GetResults(context.Background(), inv.ID)
	assert.True(t, errors.IsType(resErr, errors.ErrorTypeNotFound))
}

func TestRun_SequentialOrderAndPriorFindings(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.source.
		WithDataset("fingerprints", agents.Record{"fingerprint": "fp-1", "rooted": true}).
		WithDataset("activity_logs", agents.Record{"event": "password_change"})

	cfg := baseConfig(deviceTool(), logsTool())
	cfg.ExecutionMode = investigation.ExecutionModeSequential

	inv := h.create(t, cfg)
	require.NoError(t, h.svc.Run(context.Background(), inv.ID))

	queries := h.source.Queries()
	require.Len(t, queries, 2)
	assert.Equal(t, "fingerprints", queries[0].Dataset)
	assert.Equal(t, "activity_logs", queries[1].Dataset)

	result, err := h.svc.GetResults(context.Background(), inv.ID)
	require.NoError(t, err)
	// Device found a rooted device, so the log agent's credential-change
	// signal picks up the corroboration bonus: (25 + 30) / 2 rounds to 28
	assert.Equal(t, 28, result.OverallRiskScore)
}

func TestRun_SequentialStoreErrorDegradesLaterDomains(t *testing.T) {
	cfg := fastConfig()
	// Keep the background flusher quiet so the Get ordinals below are stable
	cfg.ProgressFlushInterval = time.Hour

	// Reads 1-3 are the run's lifecycle commits; the fourth is the first
	// agent's entity lookup
	store := &faultStore{MemoryStore: repository.NewMemoryStore(), failOn: 4}
	source := testutil.NewStubDataSource()
	registry := agents.NewRegistry(source)
	aware := &degradeAwareAgent{name: "graph-review", domain: "payments"}
	registry.RegisterCustom("graph-review", aware)
	svc := orchestrator.NewService(store, registry, &recordingPublisher{}, zaptest.NewLogger(t), cfg)

	invCfg := baseConfig(
		deviceTool(),
		investigation.ToolConfig{
			Kind:   investigation.ToolKindCustom,
			Custom: &investigation.CustomToolParams{Name: "graph-review", Domain: "payments"},
		},
	)
	invCfg.ExecutionMode = investigation.ExecutionModeSequential

	inv, err := store.Create(context.Background(), invCfg)
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background(), inv.ID))

	assert.True(t, aware.sawDegraded.Load(), "agents after a store failure must see degraded coverage")

	result, err := svc.GetResults(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"device"}, result.FailedDomains)
	assert.Equal(t, 20, result.OverallRiskScore)
}

func TestRun_Cancellation(t *testing.T) {
	h := newHarness(t, fastConfig())
	blocker := &blockingAgent{name: "slow-graph", domain: "payments", release: make(chan struct{})}
	h.registry.RegisterCustom("slow-graph", blocker)

	inv := h.create(t, baseConfig(investigation.ToolConfig{
		Kind:   investigation.ToolKindCustom,
		Custom: &investigation.CustomToolParams{Name: "slow-graph", Domain: "payments"},
	}))

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(context.Background(), inv.ID) }()

	require.Eventually(t, func() bool {
		status, err := h.svc.GetStatus(context.Background(), inv.ID)
		return err == nil && status.Status == "in_progress"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.RequestCancel(context.Background(), inv.ID))
	require.NoError(t, <-done)

	status, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", status.Status)
	assert.True(t, status.Terminal)
	assert.False(t, status.ResultsAvailable)

	_, resErr := h.svc.GetResults(context.Background(), inv.ID)
	assert.True(t, errors.IsType(resErr, errors.ErrorTypeNotFound))
}

func TestRun_Timeout(t *testing.T) {
	cfg := fastConfig()
	cfg.InvestigationTimeout = 50 * time.Millisecond

	h := newHarness(t, cfg)
	blocker := &blockingAgent{name: "slow-graph", domain: "payments", release: make(chan struct{})}
	h.registry.RegisterCustom("slow-graph", blocker)

	inv := h.create(t, baseConfig(investigation.ToolConfig{
		Kind:   investigation.ToolKindCustom,
		Custom: &investigation.CustomToolParams{Name: "slow-graph", Domain: "payments"},
	}))

	err := h.svc.Run(context.Background(), inv.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "TIMEOUT_EXCEEDED"))

	status, getErr := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, getErr)
	assert.Equal(t, "error", status.Status)
	assert.Equal(t, "TIMEOUT_EXCEEDED", status.FailureReason)
}

func TestRun_WorkerPoolExhaustion(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxConcurrentAgents = 1
	cfg.AgentAcquireTimeout = 30 * time.Millisecond

	h := newHarness(t, cfg)
	release := make(chan struct{})
	h.registry.RegisterCustom("slow-payments", &blockingAgent{name: "slow-payments", domain: "payments", release: release})
	h.registry.RegisterCustom("slow-chargebacks", &blockingAgent{name: "slow-chargebacks", domain: "chargebacks", release: release})

	inv := h.create(t, baseConfig(
		investigation.ToolConfig{
			Kind:   investigation.ToolKindCustom,
			Custom: &investigation.CustomToolParams{Name: "slow-payments", Domain: "payments"},
		},
		investigation.ToolConfig{
			Kind:   investigation.ToolKindCustom,
			Custom: &investigation.CustomToolParams{Name: "slow-chargebacks", Domain: "chargebacks"},
		},
	))

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(context.Background(), inv.ID) }()

	// With a single slot, whichever agent acquires it blocks the other past
	// the acquire timeout: exactly one ends in a pool failure
	require.Eventually(t, func() bool {
		status, err := h.svc.GetStatus(context.Background(), inv.ID)
		if err != nil {
			return false
		}
		for _, run := range status.AgentRuns {
			if run.Status == assessment.AgentFailed {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-done)

	result, err := h.svc.GetResults(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, result.FailedDomains, 1)

	status, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	for _, run := range status.AgentRuns {
		if run.Status == assessment.AgentFailed {
			assert.Equal(t, "worker pool acquisition timed out", run.FailureReason)
		}
	}
}

func TestRun_Pause(t *testing.T) {
	h := newHarness(t, fastConfig())
	release := make(chan struct{})
	slow := &blockingAgent{name: "slow-graph", domain: "payments", release: release}
	h.registry.RegisterCustom("slow-graph", slow)
	h.source.WithDataset("fingerprints", agents.Record{"fingerprint": "fp-1"})

	cfg := baseConfig(
		investigation.ToolConfig{
			Kind:   investigation.ToolKindCustom,
			Custom: &investigation.CustomToolParams{Name: "slow-graph", Domain: "payments"},
		},
		deviceTool(),
	)
	cfg.ExecutionMode = investigation.ExecutionModeSequential

	inv := h.create(t, cfg)

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(context.Background(), inv.ID) }()

	require.Eventually(t, func() bool {
		status, err := h.svc.GetStatus(context.Background(), inv.ID)
		return err == nil && status.Status == "in_progress"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.RequestPause(context.Background(), inv.ID))
	close(release)
	require.NoError(t, <-done)

	// Paused runs keep their progress and never reach a terminal state
	status, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", status.Status)
	assert.False(t, status.Terminal)

	// The second agent never ran
	for _, run := range status.AgentRuns {
		if run.Domain == "device" {
			assert.Equal(t, assessment.AgentPending, run.Status)
		}
	}
}

func TestRun_ResumeAfterPause(t *testing.T) {
	h := newHarness(t, fastConfig())
	release := make(chan struct{})
	slow := &countingAgent{blockingAgent: &blockingAgent{name: "slow-graph", domain: "payments", release: release}}
	h.registry.RegisterCustom("slow-graph", slow)
	h.source.WithDataset("fingerprints", agents.Record{"fingerprint": "fp-1"})

	cfg := baseConfig(
		investigation.ToolConfig{
			Kind:   investigation.ToolKindCustom,
			Custom: &investigation.CustomToolParams{Name: "slow-graph", Domain: "payments"},
		},
		deviceTool(),
	)
	cfg.ExecutionMode = investigation.ExecutionModeSequential

	inv := h.create(t, cfg)

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(context.Background(), inv.ID) }()

	require.Eventually(t, func() bool {
		status, err := h.svc.GetStatus(context.Background(), inv.ID)
		return err == nil && status.Status == "in_progress"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.RequestPause(context.Background(), inv.ID))
	close(release)
	require.NoError(t, <-done)

	status, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, "in_progress", status.Status)

	// A second Run picks the paused investigation back up and finishes it
	require.NoError(t, h.svc.Run(context.Background(), inv.ID))

	assert.Equal(t, int32(1), slow.runs.Load(), "finished agents must not execute again on resume")

	status, err = h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.True(t, status.Terminal)
	assert.True(t, status.ResultsAvailable)

	result, err := h.svc.GetResults(context.Background(), inv.ID)
	require.NoError(t, err)
	// The payments score survives the pause; the clean fingerprint scores 0
	assert.Equal(t, map[string]int{"payments": 10, "device": 0}, result.DomainScores)
	assert.Equal(t, 5, result.OverallRiskScore)
}

func TestRequestCancel_NoActiveRun(t *testing.T) {
	h := newHarness(t, fastConfig())
	inv := h.create(t, baseConfig(deviceTool()))

	require.NoError(t, h.svc.RequestCancel(context.Background(), inv.ID))

	status, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", status.Status)

	// Cancelling again hits the terminal guard
	err = h.svc.RequestCancel(context.Background(), inv.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "INVESTIGATION_TERMINAL"))
}

func TestRequestPause_NoActiveRun(t *testing.T) {
	h := newHarness(t, fastConfig())
	inv := h.create(t, baseConfig(deviceTool()))

	err := h.svc.RequestPause(context.Background(), inv.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "INVESTIGATION_NOT_RUNNING"))
}

func TestCreateInvestigation_RunsInBackground(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.source.WithDataset("fingerprints", agents.Record{"fingerprint": "fp-1"})

	inv, err := h.svc.CreateInvestigation(context.Background(), baseConfig(deviceTool()))
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, int64(1), inv.Version)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(shutdownCtx))

	status, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
}

func TestGetStatus_TerminalPollsAreIdentical(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.source.WithDataset("fingerprints", agents.Record{"fingerprint": "fp-1"})

	inv := h.create(t, baseConfig(deviceTool()))
	require.NoError(t, h.svc.Run(context.Background(), inv.ID))

	first, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	require.True(t, first.Terminal)

	time.Sleep(10 * time.Millisecond)

	second, err := h.svc.GetStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	// Observing a terminal investigation twice yields the same snapshot,
	// timestamp included
	assert.Equal(t, first, second)
}

func TestGetResults_UnknownInvestigation(t *testing.T) {
	h := newHarness(t, fastConfig())
	_, err := h.svc.GetResults(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
