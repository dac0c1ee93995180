package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// catchupLimit bounds how many buffered events a newly-subscribed connection
// replays; the core keeps no persistent event log (§3: engine state is
// in-memory only), so catchup only covers what's still in the ring buffer.
const catchupLimit = 200

// Hub fans OrchestratorEvents out to WebSocket-connected dashboard clients.
// It is an optional hook for a live feed; nothing in the core depends on a
// Hub existing. One Hub serves the whole daemon.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*conn

	ringMu sync.Mutex
	ring   []OrchestratorEvent

	writeTimeout time.Duration
	logger       *slog.Logger
}

type conn struct {
	id     string
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub builds a Hub. writeTimeout bounds how long a single client send may
// block before the Hub gives up on it.
func NewHub(writeTimeout time.Duration) *Hub {
	return &Hub{
		connections:  make(map[string]*conn),
		writeTimeout: writeTimeout,
		logger:       slog.Default().With("component", "eventbus.hub"),
	}
}

// HandleConnection serves one already-accepted WebSocket client. It blocks until
// the connection closes; replays buffered events on connect, then streams
// live Broadcast calls. Callers typically run this in its own goroutine per
// accepted connection.
func (h *Hub) HandleConnection(parentCtx context.Context, id string, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &conn{id: id, ws: ws, ctx: ctx, cancel: cancel}

	h.mu.Lock()
	h.connections[id] = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.connections, id)
		h.mu.Unlock()
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	h.replayBuffered(c)

	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
		// Clients have nothing to send us besides keepalive pings; any
		// inbound frame is simply acknowledged by the read loop continuing.
	}
}

// Broadcast records ev in the ring buffer and pushes it to every connected
// client. Send failures are logged and otherwise ignored — a slow or
// disconnected dashboard client must never block the engine.
func (h *Hub) Broadcast(ev OrchestratorEvent) {
	h.ringMu.Lock()
	h.ring = append(h.ring, ev)
	if len(h.ring) > catchupLimit {
		h.ring = h.ring[len(h.ring)-catchupLimit:]
	}
	h.ringMu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to marshal event", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.send(c, payload)
	}
}

// ActiveConnections reports how many dashboard clients are currently
// attached.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) replayBuffered(c *conn) {
	h.ringMu.Lock()
	buffered := make([]OrchestratorEvent, len(h.ring))
	copy(buffered, h.ring)
	h.ringMu.Unlock()

	for _, ev := range buffered {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if !h.send(c, payload) {
			return
		}
	}
}

func (h *Hub) send(c *conn, payload []byte) bool {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	if err := c.ws.Write(writeCtx, websocket.MessageText, payload); err != nil {
		h.logger.Warn("failed to send event to dashboard client", "connection_id", c.id, "error", err)
		return false
	}
	return true
}
