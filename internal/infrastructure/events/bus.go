package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
)

// Publisher is the single emission point for committed status snapshots.
// Every successful compare-and-swap in the orchestrator goes through it, so
// polling and push consumers can never observe diverging sequences.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap *assessment.StatusSnapshot)
}

// Sink is an external transport attached to the bus (snapshot cache,
// webhook fan-out). Sink errors are logged, never propagated to the
// orchestrator.
type Sink interface {
	Publish(ctx context.Context, snap *assessment.StatusSnapshot) error
}

const subscriberBuffer = 16

// Bus fans committed snapshots out to in-process subscribers and attached
// sinks
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	sinks       []Sink
	subscribers map[uuid.UUID]map[uint64]chan *assessment.StatusSnapshot
	nextSubID   uint64
}

// NewBus creates an empty snapshot bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:      logger,
		subscribers: make(map[uuid.UUID]map[uint64]chan *assessment.StatusSnapshot),
	}
}

// AttachSink registers an external transport
func (b *Bus) AttachSink(sink Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Subscribe returns a channel of snapshots for one investigation and a
// cancel function that must be called when the consumer detaches
func (b *Bus) Subscribe(id uuid.UUID) (<-chan *assessment.StatusSnapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[id]
	if !ok {
		subs = make(map[uint64]chan *assessment.StatusSnapshot)
		b.subscribers[id] = subs
	}

	subID := b.nextSubID
	b.nextSubID++
	ch := make(chan *assessment.StatusSnapshot, subscriberBuffer)
	subs[subID] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subscribers[id]; ok {
			if ch, ok := subs[subID]; ok {
				delete(subs, subID)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subscribers, id)
			}
		}
	}

	return ch, cancel
}

// PublishSnapshot delivers the snapshot to all subscribers and sinks.
// Slow subscribers lose intermediate snapshots, never the latest one: on a
// full buffer the oldest buffered snapshot is evicted. Terminal snapshots
// are always the last published, so no consumer can miss a terminal
// transition.
func (b *Bus) PublishSnapshot(ctx context.Context, snap *assessment.StatusSnapshot) {
	// Sends happen under the read lock: cancel() needs the write lock to
	// close a channel, so no send can race a close.
	b.mu.RLock()
	for _, ch := range b.subscribers[snap.InvestigationID] {
		for {
			select {
			case ch <- snap:
			default:
				// Full buffer: evict the oldest and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			b.logger.Warn("snapshot sink publish failed",
				zap.String("investigation_id", snap.InvestigationID.String()),
				zap.Error(err))
		}
	}
}
