package websocket

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusReader serves the current snapshot so freshly connected clients do
// not wait for the next transition
type StatusReader interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*assessment.StatusSnapshot, error)
}

// Handler upgrades HTTP requests into status subscriptions
type Handler struct {
	hub    *Hub
	status StatusReader
	logger *zap.Logger
}

func NewHandler(hub *Hub, status StatusReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, status: status, logger: logger}
}

// ServeHTTP handles GET /api/v1/investigations/{id}/ws
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "investigation id must be a valid UUID", http.StatusBadRequest)
		return
	}

	// Reject unknown investigations before upgrading
	current, err := h.status.GetStatus(r.Context(), id)
	if err != nil {
		http.Error(w, "investigation not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := newClient(h.hub, conn, id, h.logger)

	// Seed the stream with the current state before live snapshots flow
	client.send <- current
	h.hub.register(client)

	go client.writePump()
	go client.readPump()
}
