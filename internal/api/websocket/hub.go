// Package websocket pushes investigation status snapshots to subscribed
// clients. It consumes the same emission point the polling endpoint reads
// from, so both transports observe identical lifecycle sequences.
package websocket

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
)

// SnapshotSource is the subscription side of the status emission point
type SnapshotSource interface {
	Subscribe(id uuid.UUID) (<-chan *assessment.StatusSnapshot, func())
}

// Hub tracks connected clients and wires each one to the snapshot stream of
// its investigation
type Hub struct {
	source SnapshotSource
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

func NewHub(source SnapshotSource, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		source:  source,
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
}

// register attaches a client to its investigation's snapshot stream
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	snapshots, cancel := h.source.Subscribe(client.investigationID)
	client.unsubscribe = cancel

	go func() {
		for snap := range snapshots {
			select {
			case client.send <- snap:
			default:
				// Slow consumer: drop in favor of newer snapshots; the
				// terminal snapshot always arrives last from the source
				select {
				case <-client.send:
				default:
				}
				client.send <- snap
			}
		}
		close(client.send)
	}()

	h.logger.Info("websocket client connected",
		zap.String("investigation_id", client.investigationID.String()),
		zap.String("remote_addr", client.conn.RemoteAddr().String()))
}

// unregister detaches a client; safe to call more than once
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if !present {
		return
	}
	client.unsubscribe()
	client.conn.Close()

	h.logger.Info("websocket client disconnected",
		zap.String("investigation_id", client.investigationID.String()))
}

// ClientCount reports connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}
