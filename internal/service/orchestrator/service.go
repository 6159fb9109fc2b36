// Package orchestrator runs investigations: it transitions lifecycle state
// through the store's compare-and-swap, fans agent executions out over a
// bounded worker pool, folds progress back into durable snapshots and
// commits the aggregated verdict.
package orchestrator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/finding"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/repository"
	"github.com/fraudlens/investigation-backend/internal/service/agents"
	"github.com/fraudlens/investigation-backend/internal/service/aggregation"
)

type service struct {
	store     repository.Store
	registry  *agents.Registry
	publisher Publisher
	logger    *zap.Logger
	cfg       Config
	tracer    trace.Tracer

	// sem is the worker pool shared across investigations
	sem chan struct{}

	mu      sync.Mutex
	handles map[uuid.UUID]*runHandle

	// commitMu serializes CAS commits with their snapshot publication so the
	// emitted sequence matches the version sequence
	commitMu sync.Mutex

	background sync.WaitGroup
}

// NewService wires an orchestrator over the given store, agent registry and
// snapshot emission point
func NewService(
	store repository.Store,
	registry *agents.Registry,
	publisher Publisher,
	logger *zap.Logger,
	cfg Config,
) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	return &service{
		store:     store,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		tracer:    otel.Tracer("fraudlens.orchestrator"),
		sem:       make(chan struct{}, cfg.MaxConcurrentAgents),
		handles:   make(map[uuid.UUID]*runHandle),
	}
}

func (s *service) CreateInvestigation(ctx context.Context, cfg investigation.Config) (*investigation.Investigation, error) {
	inv, err := s.store.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.logger.Info("investigation created",
		zap.String("investigation_id", inv.ID.String()),
		zap.String("entity_id", inv.EntityID),
		zap.String("execution_mode", inv.ExecutionMode.String()))

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		// The run outlives the creating request
		if err := s.Run(context.Background(), inv.ID); err != nil {
			s.logger.Error("investigation run ended with error",
				zap.String("investigation_id", inv.ID.String()),
				zap.Error(err))
		}
	}()

	return inv, nil
}

func (s *service) Run(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "orchestrator.Run",
		trace.WithAttributes(attribute.String("investigation.id", id.String())))
	defer span.End()

	handle, err := s.register(id)
	if err != nil {
		return err
	}
	defer s.unregister(id)

	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status.IsTerminal() {
		return errors.ErrInvestigationTerminal
	}

	// A non-terminal in_progress record belongs to a paused run: resume it
	// in place rather than re-entering the lifecycle from the top
	resuming := inv.Status == investigation.StatusInProgress

	if inv.Status == investigation.StatusCreated {
		inv, err = s.commit(ctx, id, nil, func(inv *investigation.Investigation) error {
			return inv.EnterSettings()
		})
		if err != nil {
			return err
		}
	}

	planned, err := s.plan(inv)
	if err != nil {
		s.failRun(ctx, id, nil, ReasonInvalidConfiguration, err.Error())
		return err
	}

	var tracker *progressTracker
	if resuming {
		tracker = rehydrateProgressTracker(planned, decodeRuns(inv.ProgressJSON))
		s.flushProgress(ctx, id, tracker)
	} else {
		tracker = newProgressTracker(planned)
		inv, err = s.commit(ctx, id, tracker, func(inv *investigation.Investigation) error {
			if err := inv.Start(); err != nil {
				return err
			}
			inv.ProgressJSON = tracker.marshal()
			return nil
		})
		if err != nil {
			return err
		}
	}

	started := time.Now()
	s.logger.Info("investigation started",
		zap.String("investigation_id", id.String()),
		zap.Int("agents", len(planned)),
		zap.Bool("resumed", resuming),
		zap.String("execution_mode", inv.ExecutionMode.String()))

	runCtx, cancelRun := context.WithTimeout(ctx, s.cfg.InvestigationTimeout)
	defer cancelRun()

	stopFlush := make(chan struct{})
	flushDone := make(chan struct{})
	go s.flushLoop(ctx, id, tracker, stopFlush, flushDone)

	switch inv.ExecutionMode {
	case investigation.ExecutionModeSequential:
		s.executeSequential(runCtx, ctx, id, handle, tracker, planned)
	default:
		s.executeParallel(runCtx, ctx, id, handle, tracker, planned)
	}

	close(stopFlush)
	<-flushDone

	switch {
	case handle.cancelled.Load():
		runsTotal.WithLabelValues("cancelled").Inc()
		_, err := s.commit(ctx, id, nil, func(inv *investigation.Investigation) error {
			if err := inv.Cancel(); err != nil {
				return err
			}
			inv.ProgressJSON = tracker.marshalRedacted()
			return nil
		})
		return err

	case runCtx.Err() == context.DeadlineExceeded:
		runsTotal.WithLabelValues("timeout").Inc()
		s.failRun(ctx, id, tracker, ReasonTimeoutExceeded,
			fmt.Sprintf("investigation exceeded %s", s.cfg.InvestigationTimeout))
		return errors.NewTimeoutExceededError("investigation")

	case handle.paused.Load():
		// Paused runs stay in progress; accumulated agent state is already
		// durable through the terminal-flush path
		runsTotal.WithLabelValues("paused").Inc()
		s.flushProgress(ctx, id, tracker)
		return nil
	}

	result, err := aggregation.Aggregate(id, aggregation.Input{
		Results:       tracker.terminalResults(),
		Weights:       domainWeights(inv.ToolConfiguration),
		RiskThreshold: inv.RiskThreshold,
		StartedAt:     started,
		CompletedAt:   time.Now(),
	})
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		s.failRun(ctx, id, tracker, ReasonAggregationImpossible, "every agent failed, no score to aggregate")
		return err
	}

	resultsJSON, err := json.Marshal(result)
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return errors.NewInternalError("marshal assessment").WithCause(err)
	}

	_, err = s.commit(ctx, id, tracker, func(inv *investigation.Investigation) error {
		if err := inv.Complete(resultsJSON); err != nil {
			return err
		}
		inv.ProgressJSON = tracker.marshal()
		return nil
	})
	if err != nil {
		return err
	}

	runsTotal.WithLabelValues("completed").Inc()
	s.logger.Info("investigation completed",
		zap.String("investigation_id", id.String()),
		zap.Int("overall_risk_score", result.OverallRiskScore),
		zap.Bool("escalate", result.Escalate),
		zap.Strings("failed_domains", result.FailedDomains))
	return nil
}

// plan resolves every configured tool to its agent before anything runs.
// A single unresolvable tool fails the whole investigation up front.
func (s *service) plan(inv *investigation.Investigation) ([]plannedAgent, error) {
	planned := make([]plannedAgent, 0, len(inv.ToolConfiguration))
	for _, tool := range inv.ToolConfiguration {
		agent, err := s.registry.Resolve(tool)
		if err != nil {
			return nil, err
		}
		planned = append(planned, plannedAgent{agent: agent, tool: tool})
	}
	return planned, nil
}

func (s *service) executeParallel(
	runCtx, commitCtx context.Context,
	id uuid.UUID,
	handle *runHandle,
	tracker *progressTracker,
	planned []plannedAgent,
) {
	var wg sync.WaitGroup
	for idx := range planned {
		if tracker.resultAt(idx) != nil {
			continue
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s.runAgent(runCtx, commitCtx, id, handle, tracker, idx, planned[idx], nil, false)
		}(idx)
	}
	wg.Wait()
}

func (s *service) executeSequential(
	runCtx, commitCtx context.Context,
	id uuid.UUID,
	handle *runHandle,
	tracker *progressTracker,
	planned []plannedAgent,
) {
	var (
		prior    []*finding.Finding
		degraded bool
	)

	for idx := range planned {
		if handle.cancelled.Load() || handle.paused.Load() || runCtx.Err() != nil {
			return
		}

		result := tracker.resultAt(idx)
		if result == nil {
			result = s.runAgent(runCtx, commitCtx, id, handle, tracker, idx, planned[idx], prior, degraded)
		}
		if result == nil {
			continue
		}
		if result.Failed() {
			degraded = true
			continue
		}
		prior = append(prior, result.Findings...)
	}
}

// runAgent executes one agent behind the worker pool and records its
// terminal state durably. Returns nil when the run was cancelled or paused
// before the agent produced anything.
func (s *service) runAgent(
	runCtx, commitCtx context.Context,
	id uuid.UUID,
	handle *runHandle,
	tracker *progressTracker,
	idx int,
	p plannedAgent,
	prior []*finding.Finding,
	degraded bool,
) *assessment.DomainResult {
	if handle.cancelled.Load() || handle.paused.Load() || runCtx.Err() != nil {
		return nil
	}

	// Worker pool acquisition is bounded; saturation is a per-agent failure,
	// never an indefinite block
	acquireTimer := time.NewTimer(s.cfg.AgentAcquireTimeout)
	defer acquireTimer.Stop()

	select {
	case s.sem <- struct{}{}:
	case <-acquireTimer.C:
		agentFailuresTotal.WithLabelValues(p.agent.Domain()).Inc()
		tracker.fail(idx, agentReasonWorkerPoolTimeout, time.Now())
		s.flushProgress(commitCtx, id, tracker)
		return tracker.resultAt(idx)
	case <-runCtx.Done():
		return nil
	}
	defer func() { <-s.sem }()

	if handle.cancelled.Load() {
		return nil
	}

	agentCtx, span := s.tracer.Start(runCtx, "orchestrator.agent",
		trace.WithAttributes(
			attribute.String("investigation.id", id.String()),
			attribute.String("agent.domain", p.agent.Domain())))
	defer span.End()

	tracker.start(idx, time.Now())

	inv, err := s.store.Get(commitCtx, id)
	if err != nil {
		tracker.fail(idx, fmt.Sprintf("load investigation: %v", err), time.Now())
		s.flushProgress(commitCtx, id, tracker)
		return tracker.resultAt(idx)
	}

	actx := &agents.AgentContext{
		EntityID:            inv.EntityID,
		EntityType:          inv.EntityType,
		TimeRange:           inv.TimeRange,
		Params:              p.tool,
		PriorFindings:       prior,
		PriorDomainDegraded: degraded,
		Progress:            func(pct int) { tracker.progress(idx, pct) },
		Cancelled: func() bool {
			return handle.cancelled.Load() || runCtx.Err() != nil
		},
	}

	result, err := p.agent.Run(agentCtx, actx)
	switch {
	case stderrors.Is(err, context.Canceled) || (err != nil && runCtx.Err() != nil):
		// Cooperative stop; terminal cancel or timeout commit follows
		return nil
	case err != nil:
		agentFailuresTotal.WithLabelValues(p.agent.Domain()).Inc()
		s.logger.Warn("agent aborted",
			zap.String("investigation_id", id.String()),
			zap.String("domain", p.agent.Domain()),
			zap.Error(err))
		tracker.fail(idx, err.Error(), time.Now())
	case result.Failed():
		agentFailuresTotal.WithLabelValues(p.agent.Domain()).Inc()
		s.logger.Warn("agent failed",
			zap.String("investigation_id", id.String()),
			zap.String("domain", p.agent.Domain()),
			zap.String("reason", result.FailureReason))
		tracker.fail(idx, result.FailureReason, time.Now())
	default:
		tracker.complete(idx, result, time.Now())
	}

	// Terminal per-agent updates flush durably, outside the coalescing window
	s.flushProgress(commitCtx, id, tracker)

	res := tracker.resultAt(idx)
	return res
}

// flushLoop coalesces non-terminal progress updates into periodic durable
// writes
func (s *service) flushLoop(ctx context.Context, id uuid.UUID, tracker *progressTracker, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.ProgressFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if tracker.takeDirty() {
				s.flushProgress(ctx, id, tracker)
			}
		}
	}
}

// flushProgress commits the tracker state through CAS and republishes the
// snapshot. Conflicts with a concurrent terminal commit are benign: the
// terminal writer wins and progress stops mattering.
func (s *service) flushProgress(ctx context.Context, id uuid.UUID, tracker *progressTracker) {
	_, err := s.commit(ctx, id, tracker, func(inv *investigation.Investigation) error {
		if inv.Status.IsTerminal() {
			return errors.ErrInvestigationTerminal
		}
		inv.ProgressJSON = tracker.marshal()
		return nil
	})
	if err != nil && !errors.IsCode(err, "INVESTIGATION_TERMINAL") {
		s.logger.Warn("progress flush failed",
			zap.String("investigation_id", id.String()),
			zap.Error(err))
	}
}

// commit applies a mutation through the store's compare-and-swap with
// fresh-read retries, then publishes the resulting snapshot. Commits are
// serialized so subscribers observe snapshots in version order.
func (s *service) commit(ctx context.Context, id uuid.UUID, tracker *progressTracker, mutate repository.Mutator) (*investigation.Investigation, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	for attempt := 0; attempt <= s.cfg.CASMaxRetries; attempt++ {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		updated, err := s.store.CompareAndSwap(ctx, id, current.Version, mutate)
		if err == nil {
			s.publish(ctx, updated, tracker)
			return updated, nil
		}
		if !errors.IsCode(err, "VERSION_CONFLICT") {
			return nil, err
		}
		casConflictsTotal.Inc()
	}
	return nil, errors.NewConcurrentModificationError("investigation")
}

// failRun commits a terminal error state; commit failures are logged, not
// propagated, so the original failure stays the reported one
func (s *service) failRun(ctx context.Context, id uuid.UUID, tracker *progressTracker, reason, detail string) {
	_, err := s.commit(ctx, id, tracker, func(inv *investigation.Investigation) error {
		if err := inv.Fail(reason); err != nil {
			return err
		}
		if tracker != nil {
			inv.ProgressJSON = tracker.marshal()
		}
		return nil
	})
	if err != nil {
		s.logger.Error("terminal failure commit failed",
			zap.String("investigation_id", id.String()),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	s.logger.Warn("investigation failed",
		zap.String("investigation_id", id.String()),
		zap.String("reason", reason),
		zap.String("detail", detail))
}

// publish emits the snapshot for a committed state through the single
// emission point
func (s *service) publish(ctx context.Context, inv *investigation.Investigation, tracker *progressTracker) {
	var runs []*assessment.AgentRun
	if tracker != nil {
		runs = tracker.snapshotRuns()
	} else {
		runs = decodeRuns(inv.ProgressJSON)
	}
	s.publisher.PublishSnapshot(ctx, snapshotOf(inv, runs))
}

func (s *service) RequestCancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	handle, active := s.handles[id]
	s.mu.Unlock()

	if active {
		handle.cancelled.Store(true)
		s.logger.Info("cancellation requested", zap.String("investigation_id", id.String()))
		return nil
	}

	// No active run: cancel directly through the store
	_, err := s.commit(ctx, id, nil, func(inv *investigation.Investigation) error {
		return inv.Cancel()
	})
	return err
}

func (s *service) RequestPause(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	handle, active := s.handles[id]
	s.mu.Unlock()

	if !active {
		return errors.NewBusinessError("INVESTIGATION_NOT_RUNNING", "investigation has no active run to pause")
	}
	handle.paused.Store(true)
	s.logger.Info("pause requested", zap.String("investigation_id", id.String()))
	return nil
}

func (s *service) GetStatus(ctx context.Context, id uuid.UUID) (*assessment.StatusSnapshot, error) {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snapshotOf(inv, decodeRuns(inv.ProgressJSON)), nil
}

func (s *service) GetResults(ctx context.Context, id uuid.UUID) (*assessment.OverallAssessment, error) {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != investigation.StatusCompleted || len(inv.ResultsJSON) == 0 {
		return nil, errors.ErrResultsNotFound
	}

	var result assessment.OverallAssessment
	if err := json.Unmarshal(inv.ResultsJSON, &result); err != nil {
		return nil, errors.NewInternalError("decode stored assessment").WithCause(err)
	}
	return &result, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]*investigation.Investigation, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) register(id uuid.UUID) (*runHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handles[id]; exists {
		return nil, errors.NewBusinessError("INVESTIGATION_ALREADY_RUNNING", "investigation already has an active run")
	}
	handle := &runHandle{}
	s.handles[id] = handle
	return handle, nil
}

func (s *service) unregister(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, id)
}

// snapshotOf derives the observation payload both transports serve
func snapshotOf(inv *investigation.Investigation, runs []*assessment.AgentRun) *assessment.StatusSnapshot {
	return &assessment.StatusSnapshot{
		InvestigationID:    inv.ID,
		Status:             inv.Status.String(),
		LifecycleStage:     inv.LifecycleStage.String(),
		ProgressPercentage: assessment.OverallProgress(runs),
		AgentRuns:          runs,
		Version:            inv.Version,
		Terminal:           inv.Status.IsTerminal(),
		ResultsAvailable:   inv.Status == investigation.StatusCompleted,
		FailureReason:      inv.FailureReason,
		// The commit time, not observation time: two reads of the same
		// version yield the same snapshot
		Timestamp: inv.UpdatedAt.UTC(),
	}
}

func decodeRuns(progressJSON []byte) []*assessment.AgentRun {
	if len(progressJSON) == 0 {
		return nil
	}
	var runs []*assessment.AgentRun
	if err := json.Unmarshal(progressJSON, &runs); err != nil {
		return nil
	}
	return runs
}

// domainWeights extracts configured aggregation weights, keyed by domain
func domainWeights(tools []investigation.ToolConfig) map[string]float64 {
	weights := make(map[string]float64, len(tools))
	for _, tool := range tools {
		if tool.Weight > 0 {
			weights[tool.Domain()] = tool.Weight
		}
	}
	return weights
}
