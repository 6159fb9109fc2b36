package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/domain/assessment"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// sendBuffer bounds queued snapshots per client; the hub drops stale
	// ones when the client lags
	sendBuffer = 16
)

// Client is one WebSocket subscription to one investigation's status stream
type Client struct {
	investigationID uuid.UUID
	conn            *websocket.Conn
	send            chan *assessment.StatusSnapshot
	unsubscribe     func()
	hub             *Hub
	logger          *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, investigationID uuid.UUID, logger *zap.Logger) *Client {
	return &Client{
		investigationID: investigationID,
		conn:            conn,
		send:            make(chan *assessment.StatusSnapshot, sendBuffer),
		unsubscribe:     func() {},
		hub:             hub,
		logger:          logger,
	}
}

// writePump serializes snapshots to the connection and keeps it alive with
// pings. One writePump per connection; gorilla allows a single writer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
	}()

	for {
		select {
		case snap, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(snap); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is one-way. It exists to
// process control frames and detect disconnects.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
