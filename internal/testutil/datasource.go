package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/fraudlens/investigation-backend/internal/service/agents"
)

// StubDataSource serves canned records keyed by dataset name and records
// every query it receives. Safe for concurrent use.
type StubDataSource struct {
	mu      sync.Mutex
	records map[string][]agents.Record
	errs    map[string]error
	latency map[string]time.Duration
	queries []agents.QueryRequest
}

func NewStubDataSource() *StubDataSource {
	return &StubDataSource{
		records: make(map[string][]agents.Record),
		errs:    make(map[string]error),
		latency: make(map[string]time.Duration),
	}
}

// WithDataset sets the rows returned for a dataset
func (s *StubDataSource) WithDataset(dataset string, records ...agents.Record) *StubDataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[dataset] = records
	return s
}

// WithError makes queries against a dataset fail
func (s *StubDataSource) WithError(dataset string, err error) *StubDataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[dataset] = err
	return s
}

// WithLatency makes queries against a dataset block, for tests that need a
// run to stay in flight
func (s *StubDataSource) WithLatency(dataset string, d time.Duration) *StubDataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[dataset] = d
	return s
}

func (s *StubDataSource) Query(ctx context.Context, req agents.QueryRequest) ([]agents.Record, error) {
	s.mu.Lock()
	s.queries = append(s.queries, req)
	delay := s.latency[req.Dataset]
	err := s.errs[req.Dataset]
	records := s.records[req.Dataset]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Queries returns a copy of every request seen so far
func (s *StubDataSource) Queries() []agents.QueryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agents.QueryRequest, len(s.queries))
	copy(out, s.queries)
	return out
}
