package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// MemoryStore is an in-process Store with the same compare-and-swap semantics
// as the PostgreSQL store. Used in tests and dev mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*investigation.Investigation
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*investigation.Investigation),
	}
}

// Create validates the configuration and persists a fresh record
func (s *MemoryStore) Create(ctx context.Context, cfg investigation.Config) (*investigation.Investigation, error) {
	inv, err := investigation.NewInvestigation(cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[inv.ID] = inv.Clone()
	s.mu.Unlock()

	return inv, nil
}

// Get returns a copy of the record and bumps last-accessed bookkeeping
// without a version change
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*investigation.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[id]
	if !ok {
		return nil, errors.ErrInvestigationNotFound
	}

	stored.Touch()
	return stored.Clone(), nil
}

// CompareAndSwap applies mutate against a fresh copy and commits iff the
// stored version still matches
func (s *MemoryStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutator) (*investigation.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[id]
	if !ok {
		return nil, errors.ErrInvestigationNotFound
	}

	if stored.Version != expectedVersion {
		return nil, errors.NewVersionConflictError(expectedVersion, stored.Version)
	}

	working := stored.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}

	working.Version = expectedVersion + 1
	s.records[id] = working

	return working.Clone(), nil
}

// ListByUser returns the user's investigations, newest first
func (s *MemoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*investigation.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*investigation.Investigation
	for _, inv := range s.records {
		if inv.UserID == userID {
			out = append(out, inv.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}
