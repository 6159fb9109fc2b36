package agents

import (
	"context"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/finding"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// Agent analyzes one risk domain for one entity. Implementations must be
// safe for concurrent Run calls: the orchestrator shares a single agent
// instance across investigations.
type Agent interface {
	// Name identifies the agent in progress records and logs
	Name() string

	// Domain is the risk domain the agent scores
	Domain() string

	// Run executes the analysis. A failure is reported through the
	// DomainResult status, not the error return; the error is reserved for
	// contract violations that should abort the investigation.
	Run(ctx context.Context, actx *AgentContext) (*assessment.DomainResult, error)
}

// AgentContext is the per-execution environment handed to an agent. Progress
// and Cancelled are never nil; the orchestrator wires them before dispatch.
type AgentContext struct {
	EntityID   string
	EntityType investigation.EntityType
	TimeRange  investigation.TimeRange

	// Params is the validated tool variant for this agent's domain
	Params investigation.ToolConfig

	// PriorFindings carries findings from earlier agents in sequential mode;
	// empty in parallel mode.
	PriorFindings []*finding.Finding

	// PriorDomainDegraded is set in sequential mode once any earlier agent
	// has failed
	PriorDomainDegraded bool

	// Progress reports completion percentage, called at each I/O boundary
	Progress func(pct int)

	// Cancelled is the cooperative cancellation check; agents consult it
	// before and after every query
	Cancelled func() bool
}

// Record is one row returned by a data source query
type Record map[string]interface{}

// QueryRequest describes one read against an upstream fraud-signal source
type QueryRequest struct {
	Domain     string
	Dataset    string
	EntityID   string
	EntityType investigation.EntityType
	TimeRange  investigation.TimeRange
	Limit      int
	Params     map[string]interface{}
}

// DataSource abstracts the upstream signal stores the agents read from.
// Implementations translate QueryRequest into whatever the backing system
// speaks.
type DataSource interface {
	Query(ctx context.Context, req QueryRequest) ([]Record, error)
}
