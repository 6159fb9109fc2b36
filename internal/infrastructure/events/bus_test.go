package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
)

func snapshotWithVersion(id uuid.UUID, version int64, terminal bool) *assessment.StatusSnapshot {
	return &assessment.StatusSnapshot{
		InvestigationID: id,
		Status:          "in_progress",
		Version:         version,
		Terminal:        terminal,
		Timestamp:       time.Now(),
	}
}

func TestBus_SubscribeReceivesPublished(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	id := uuid.New()

	ch, cancel := bus.Subscribe(id)
	defer cancel()

	bus.PublishSnapshot(context.Background(), snapshotWithVersion(id, 2, false))

	select {
	case snap := <-ch:
		assert.Equal(t, int64(2), snap.Version)
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot")
	}
}

func TestBus_SubscribersAreScopedByInvestigation(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	id := uuid.New()
	other := uuid.New()

	ch, cancel := bus.Subscribe(id)
	defer cancel()

	bus.PublishSnapshot(context.Background(), snapshotWithVersion(other, 2, false))

	select {
	case <-ch:
		t.Fatal("snapshot leaked across investigations")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SlowSubscriberKeepsLatest(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	id := uuid.New()

	ch, cancel := bus.Subscribe(id)
	defer cancel()

	// Overflow the buffer; the terminal snapshot is published last and must
	// survive eviction.
	for v := int64(1); v <= int64(subscriberBuffer)+10; v++ {
		bus.PublishSnapshot(context.Background(), snapshotWithVersion(id, v, false))
	}
	terminal := snapshotWithVersion(id, 100, true)
	terminal.Status = "completed"
	bus.PublishSnapshot(context.Background(), terminal)

	var last *assessment.StatusSnapshot
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}

	require.NotNil(t, last)
	assert.True(t, last.Terminal)
	assert.Equal(t, int64(100), last.Version)
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	id := uuid.New()

	ch, cancel := bus.Subscribe(id)
	cancel()

	// Publishing after cancel must not panic or deliver
	bus.PublishSnapshot(context.Background(), snapshotWithVersion(id, 2, false))

	_, open := <-ch
	assert.False(t, open, "cancelled subscription channel is closed")
}

type recordingSink struct {
	received []*assessment.StatusSnapshot
}

func (s *recordingSink) Publish(ctx context.Context, snap *assessment.StatusSnapshot) error {
	s.received = append(s.received, snap)
	return nil
}

func TestBus_SinksReceiveEverySnapshot(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	sink := &recordingSink{}
	bus.AttachSink(sink)

	id := uuid.New()
	for v := int64(1); v <= 5; v++ {
		bus.PublishSnapshot(context.Background(), snapshotWithVersion(id, v, v == 5))
	}

	require.Len(t, sink.received, 5)
	assert.Equal(t, int64(5), sink.received[4].Version)
}
