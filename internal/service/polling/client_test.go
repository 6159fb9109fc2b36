package polling_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/service/polling"
)

// scriptedFetcher returns its responses in order, repeating the last one
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []fetchResponse
	calls     int
}

type fetchResponse struct {
	snapshot *assessment.StatusSnapshot
	err      error
}

func (f *scriptedFetcher) FetchStatus(_ context.Context, _ uuid.UUID) (*assessment.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	resp := f.responses[idx]
	return resp.snapshot, resp.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func running() fetchResponse {
	return fetchResponse{snapshot: &assessment.StatusSnapshot{Status: "in_progress", ProgressPercentage: 50}}
}

func terminal() fetchResponse {
	return fetchResponse{snapshot: &assessment.StatusSnapshot{Status: "completed", Terminal: true, ResultsAvailable: true}}
}

func failure() fetchResponse {
	return fetchResponse{err: stderrors.New("connection refused")}
}

func fastConfig() polling.Config {
	return polling.Config{
		Interval:    time.Millisecond,
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func TestWaitForTerminal_RunningThenTerminal(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{running(), running(), terminal()}}
	client := polling.NewClient(fetcher, fastConfig(), zaptest.NewLogger(t))

	snapshot, err := client.WaitForTerminal(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, snapshot.Terminal)
	assert.True(t, snapshot.ResultsAvailable)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestWaitForTerminal_TransientFailureRecovers(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{failure(), failure(), terminal()}}
	client := polling.NewClient(fetcher, fastConfig(), zaptest.NewLogger(t))

	snapshot, err := client.WaitForTerminal(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, snapshot.Terminal)
}

func TestWaitForTerminal_ExhaustsAfterMaxAttempts(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{failure()}}
	client := polling.NewClient(fetcher, fastConfig(), zaptest.NewLogger(t))

	_, err := client.WaitForTerminal(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "POLLING_EXHAUSTED"))
	assert.Equal(t, 3, fetcher.callCount())
}

func TestWaitForTerminal_RunningPollsDoNotConsumeBudget(t *testing.T) {
	// Two failures, a successful running poll resetting the counter, then two
	// more failures: never three consecutive, so the budget never exhausts.
	fetcher := &scriptedFetcher{responses: []fetchResponse{
		failure(), failure(), running(), failure(), failure(), terminal(),
	}}
	client := polling.NewClient(fetcher, fastConfig(), zaptest.NewLogger(t))

	snapshot, err := client.WaitForTerminal(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, snapshot.Terminal)
	assert.Equal(t, 6, fetcher.callCount())
}

func TestWaitForTerminal_ContextCancellation(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{running()}}
	cfg := fastConfig()
	cfg.Interval = time.Minute
	client := polling.NewClient(fetcher, cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.WaitForTerminal(ctx, uuid.New())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackoffProgression(t *testing.T) {
	// 4 failures with base 10ms, cap 25ms: delays 10, 20, 25 before the
	// 4th attempt exhausts. Total sleep at least 55ms.
	fetcher := &scriptedFetcher{responses: []fetchResponse{failure()}}
	client := polling.NewClient(fetcher, polling.Config{
		Interval:    time.Millisecond,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  25 * time.Millisecond,
		MaxAttempts: 4,
	}, zaptest.NewLogger(t))

	start := time.Now()
	_, err := client.WaitForTerminal(context.Background(), uuid.New())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "POLLING_EXHAUSTED"))
	assert.GreaterOrEqual(t, elapsed, 55*time.Millisecond)
}

func TestPoll_SingleFetch(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []fetchResponse{running()}}
	client := polling.NewClient(fetcher, fastConfig(), zaptest.NewLogger(t))

	snapshot, err := client.Poll(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, snapshot.Terminal)
	assert.Equal(t, 1, fetcher.callCount())
}
