package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// Mutator is applied to a fresh copy of the stored record inside
// CompareAndSwap. It must not touch Version; the store owns the counter.
type Mutator func(inv *investigation.Investigation) error

// Store is the investigation state store. It is the single owner of
// Investigation records; the orchestrator holds only transient working copies
// and must re-read-or-retry on conflict.
type Store interface {
	// Create validates the configuration, allocates an id and persists the
	// record with version 1
	Create(ctx context.Context, cfg investigation.Config) (*investigation.Investigation, error)

	// Get returns the record and updates last-accessed bookkeeping as a side
	// effect exempt from optimistic-lock checks
	Get(ctx context.Context, id uuid.UUID) (*investigation.Investigation, error)

	// CompareAndSwap applies mutate to a fresh read and persists iff the
	// stored version still equals expectedVersion, incrementing the version
	// by exactly 1. On mismatch it returns VersionConflict and writes
	// nothing. This is the only sanctioned way to mutate a record.
	CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutator) (*investigation.Investigation, error)

	// ListByUser returns the user's investigations, newest first
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*investigation.Investigation, error)
}
