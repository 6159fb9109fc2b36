package orchestrator

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
	"github.com/fraudlens/investigation-backend/internal/service/agents"
)

// Config tunes orchestration concurrency and durability cadence
type Config struct {
	// MaxConcurrentAgents bounds agent executions across all investigations
	MaxConcurrentAgents int

	// AgentAcquireTimeout bounds how long an agent waits for a worker slot
	AgentAcquireTimeout time.Duration

	// InvestigationTimeout bounds one investigation end to end
	InvestigationTimeout time.Duration

	// ProgressFlushInterval is the coalescing window for non-terminal
	// progress writes
	ProgressFlushInterval time.Duration

	// CASMaxRetries bounds fresh-read retries on version conflict
	CASMaxRetries int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentAgents <= 0 {
		c.MaxConcurrentAgents = defaultMaxConcurrentAgents
	}
	if c.AgentAcquireTimeout <= 0 {
		c.AgentAcquireTimeout = defaultAgentAcquireTimeout
	}
	if c.InvestigationTimeout <= 0 {
		c.InvestigationTimeout = defaultInvestigationTimeout
	}
	if c.ProgressFlushInterval <= 0 {
		c.ProgressFlushInterval = defaultProgressFlushInterval
	}
	if c.CASMaxRetries <= 0 {
		c.CASMaxRetries = defaultCASMaxRetries
	}
	return c
}

// runHandle is the cooperative control surface of one active run
type runHandle struct {
	cancelled atomic.Bool
	paused    atomic.Bool
}

// plannedAgent pairs a resolved agent with the tool config that selected it
type plannedAgent struct {
	agent agents.Agent
	tool  investigation.ToolConfig
}

// progressTracker holds the in-memory AgentRun set for one run. Agents
// report into it concurrently; the flusher and terminal commits read
// consistent copies out of it.
type progressTracker struct {
	mu      sync.Mutex
	runs    []*assessment.AgentRun
	results []*assessment.DomainResult
	dirty   bool
}

func newProgressTracker(planned []plannedAgent) *progressTracker {
	t := &progressTracker{
		runs:    make([]*assessment.AgentRun, len(planned)),
		results: make([]*assessment.DomainResult, len(planned)),
	}
	for i, p := range planned {
		t.runs[i] = &assessment.AgentRun{
			AgentName: p.agent.Name(),
			Domain:    p.agent.Domain(),
			Status:    assessment.AgentPending,
		}
	}
	return t
}

// rehydrateProgressTracker rebuilds tracker state from a durable progress
// record so a resumed run keeps agents that already finished instead of
// executing them again. Agents persisted mid-flight fall back to pending.
func rehydrateProgressTracker(planned []plannedAgent, stored []*assessment.AgentRun) *progressTracker {
	t := newProgressTracker(planned)

	byDomain := make(map[string]*assessment.AgentRun, len(stored))
	for _, run := range stored {
		byDomain[run.Domain] = run
	}

	for i, p := range planned {
		run, ok := byDomain[p.agent.Domain()]
		if !ok || run.AgentName != p.agent.Name() || !run.Status.IsTerminal() {
			continue
		}
		clone := *run
		t.runs[i] = &clone
		t.results[i] = &assessment.DomainResult{
			Domain:          run.Domain,
			Status:          run.Status,
			RiskScore:       run.RiskScore,
			Findings:        run.Findings,
			FailureReason:   run.FailureReason,
			ToolsUsed:       run.ToolsUsed,
			ExecutionTimeMS: run.ExecutionTimeMS,
		}
	}
	return t
}

func (t *progressTracker) start(idx int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[idx].Status = assessment.AgentRunning
	t.runs[idx].StartedAt = &now
	t.dirty = true
}

func (t *progressTracker) progress(idx, pct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.runs[idx].ProgressPercentage = pct
	t.dirty = true
}

func (t *progressTracker) complete(idx int, result *assessment.DomainResult, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run := t.runs[idx]
	run.Status = assessment.AgentCompleted
	run.ProgressPercentage = 100
	run.RiskScore = result.RiskScore
	run.Findings = result.Findings
	run.ToolsUsed = result.ToolsUsed
	run.CompletedAt = &now
	run.ExecutionTimeMS = result.ExecutionTimeMS
	t.results[idx] = result
	t.dirty = true
}

func (t *progressTracker) fail(idx int, reason string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run := t.runs[idx]
	run.Status = assessment.AgentFailed
	run.FailureReason = reason
	run.CompletedAt = &now
	t.results[idx] = &assessment.DomainResult{
		Domain:        run.Domain,
		Status:        assessment.AgentFailed,
		FailureReason: reason,
	}
	t.dirty = true
}

// snapshotRuns returns a deep copy safe to hand to marshaling and publishing
func (t *progressTracker) snapshotRuns() []*assessment.AgentRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneRuns(t.runs)
}

// marshal serializes the current run set for durable progress storage
func (t *progressTracker) marshal() []byte {
	data, _ := json.Marshal(t.snapshotRuns())
	return data
}

// marshalRedacted serializes the run set with findings stripped, for the
// cancellation path where partial evidence must not survive
func (t *progressTracker) marshalRedacted() []byte {
	runs := t.snapshotRuns()
	for _, r := range runs {
		r.Findings = nil
	}
	data, _ := json.Marshal(runs)
	return data
}

// takeDirty reports and clears the pending-change flag
func (t *progressTracker) takeDirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.dirty
	t.dirty = false
	return d
}

// terminalResults returns the per-domain results of every agent that reached
// a terminal status, in configuration order
func (t *progressTracker) terminalResults() []*assessment.DomainResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*assessment.DomainResult, 0, len(t.results))
	for _, r := range t.results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// resultAt returns the terminal result for one agent slot, nil while the
// agent is still pending or running
func (t *progressTracker) resultAt(idx int) *assessment.DomainResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.results[idx]
}

func cloneRuns(runs []*assessment.AgentRun) []*assessment.AgentRun {
	out := make([]*assessment.AgentRun, len(runs))
	for i, r := range runs {
		c := *r
		out[i] = &c
	}
	return out
}
