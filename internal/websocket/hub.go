package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Heartbeat interval for version updates. The frontend only refetches
	// players.json when the version changes, at most once per heartbeat.
	versionHeartbeatInterval = 2 * time.Second
)

// VersionFunc reports the current snapshot version
type VersionFunc func(ctx context.Context) (int64, error)

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts snapshot-version
// heartbeats so browser tables refresh after a regeneration.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	version VersionFunc
	logger  *logrus.Logger

	mu          sync.RWMutex
	lastVersion int64
}

// VersionUpdate is the heartbeat message sent to clients
type VersionUpdate struct {
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

// NewHub creates a new WebSocket hub
func NewHub(version VersionFunc, logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		version:    version,
		logger:     logger,
	}
}

// Run starts the hub loop; it exits when the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(versionHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", count).Debug("WebSocket client connected")

			h.sendInitialVersion(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", count).Debug("WebSocket client disconnected")

		case <-ticker.C:
			h.checkAndBroadcastVersion(ctx)

		case <-ctx.Done():
			return
		}
	}
}

// checkAndBroadcastVersion broadcasts a heartbeat when the version changed
func (h *Hub) checkAndBroadcastVersion(ctx context.Context) {
	current, err := h.version(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read snapshot version")
		return
	}

	h.mu.Lock()
	changed := current != h.lastVersion
	h.lastVersion = current
	h.mu.Unlock()

	if !changed {
		return
	}

	message, err := json.Marshal(VersionUpdate{Type: "VERSION_UPDATE", Version: current})
	if err != nil {
		return
	}

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// Client's send buffer is full, skip it this round
		}
	}
	h.mu.RUnlock()
}

// sendInitialVersion pushes the current version to a new client so it can
// decide whether its table is stale.
func (h *Hub) sendInitialVersion(ctx context.Context, client *Client) {
	current, err := h.version(ctx)
	if err != nil {
		return
	}

	message, err := json.Marshal(VersionUpdate{Type: "VERSION_UPDATE", Version: current})
	if err != nil {
		return
	}

	select {
	case client.send <- message:
	case <-time.After(2 * time.Second):
		h.logger.Warn("Timeout sending initial version to client")
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains client messages until disconnect. Clients are not
// expected to send anything.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump forwards hub messages to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ServeWS handles an upgraded WebSocket connection
func ServeWS(hub *Hub, conn *websocket.Conn) {
	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 16),
	}

	client.hub.register <- client

	go client.writePump()
	client.readPump()
}
