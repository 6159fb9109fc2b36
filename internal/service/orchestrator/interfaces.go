package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// Service drives investigations through their lifecycle. All state lives in
// the injected Store; the service keeps only transient per-run bookkeeping.
type Service interface {
	// CreateInvestigation persists a new investigation and starts its run in
	// the background
	CreateInvestigation(ctx context.Context, cfg investigation.Config) (*investigation.Investigation, error)

	// Run executes one investigation to a terminal state (or until paused).
	// Calling it again on a paused investigation resumes it: agents that
	// already finished keep their recorded outcome and only unfinished ones
	// execute. It is exported for callers that want synchronous execution;
	// create normally schedules it.
	Run(ctx context.Context, id uuid.UUID) error

	// RequestCancel flips the cooperative cancellation token of a running
	// investigation, or cancels a not-yet-running one directly
	RequestCancel(ctx context.Context, id uuid.UUID) error

	// RequestPause stops scheduling further agents for a running
	// investigation; accumulated progress is kept
	RequestPause(ctx context.Context, id uuid.UUID) error

	// GetStatus returns the current status snapshot, identical in content to
	// what the push channel emits
	GetStatus(ctx context.Context, id uuid.UUID) (*assessment.StatusSnapshot, error)

	// GetResults returns the final assessment of a completed investigation.
	// Cancelled and failed investigations report results-not-found.
	GetResults(ctx context.Context, id uuid.UUID) (*assessment.OverallAssessment, error)

	// List returns a user's investigations, newest first
	List(ctx context.Context, userID uuid.UUID) ([]*investigation.Investigation, error)

	// Shutdown waits for background runs to finish, bounded by ctx
	Shutdown(ctx context.Context) error
}

// Publisher is the single emission point for status snapshots. Every
// committed state change goes through it so poll and push consumers observe
// the same sequence.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap *assessment.StatusSnapshot)
}
