// Package hub holds the single browser-peer WebSocket connection and routes
// its traffic to per-request event queues.
package hub

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/lumabridge/lumabridge/internal/registry"
	"github.com/lumabridge/lumabridge/pkg/types"
)

// Hub accepts one peer at a time. A new upgrade atomically replaces the
// previous socket; the old one is closed. Writes are serialised.
type Hub struct {
	registry *registry.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	refreshing atomic.Bool

	onConnect    []func()
	onDisconnect []func()

	upgrader websocket.Upgrader
}

// New creates a hub routing inbound fragments into reg.
func New(reg *registry.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 1 << 20,
			// The peer is a local userscript; its Origin is the remote
			// web app, not this server.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// OnConnect registers a callback run after every successful upgrade. Used
// by the recovery layer to replay pending requests.
func (h *Hub) OnConnect(fn func()) {
	h.onConnect = append(h.onConnect, fn)
}

// OnDisconnect registers a callback run when the active peer drops.
func (h *Hub) OnDisconnect(fn func()) {
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Connected reports whether a peer is currently bound.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// ServeWS upgrades the request and runs the peer read loop until the socket
// drops. The handler goroutine is the read loop.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	h.mu.Lock()
	old := h.conn
	h.conn = conn
	h.mu.Unlock()
	if old != nil {
		h.logger.Warn("replacing existing peer connection")
		_ = old.Close()
	}

	h.refreshing.Store(false)
	h.logger.Info("browser peer connected", "remote", r.RemoteAddr)
	for _, fn := range h.onConnect {
		fn()
	}

	h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		current := h.conn == conn
		if current {
			h.conn = nil
		}
		h.mu.Unlock()
		_ = conn.Close()

		if current {
			h.logger.Warn("browser peer disconnected")
			for _, fn := range h.onDisconnect {
				fn()
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("peer read error", "error", err)
			}
			return
		}

		var msg types.PeerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("malformed peer message", "error", err)
			continue
		}
		if msg.RequestID == "" {
			h.logger.Warn("peer message without request id")
			continue
		}
		switch h.registry.Push(msg.RequestID, msg.Data) {
		case registry.PushUnknownID:
			h.logger.Warn("dropping fragment for unknown request", "request_id", msg.RequestID)
		case registry.PushQueueClosed:
			h.logger.Debug("dropping fragment for released request", "request_id", msg.RequestID)
		case registry.PushQueueFull:
			h.logger.Warn("dropping fragment, event queue full", "request_id", msg.RequestID)
		case registry.PushOK:
		}
	}
}

// SendRequest relays one translated payload to the peer.
func (h *Hub) SendRequest(req types.PeerRequest) error {
	return h.sendJSON(req)
}

// SendCommand sends an out-of-band command frame to the peer.
func (h *Hub) SendCommand(command string) error {
	return h.sendJSON(types.PeerCommand{Command: command})
}

func (h *Hub) sendJSON(v any) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return ErrNoPeer
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// TriggerRefresh asks the peer to reload the page once. Repeat calls while
// a refresh is already pending are ignored; the flag clears on the next
// upgrade.
func (h *Hub) TriggerRefresh() bool {
	if !h.refreshing.CompareAndSwap(false, true) {
		return false
	}
	if err := h.SendCommand(types.CommandRefresh); err != nil {
		h.refreshing.Store(false)
		return false
	}
	h.logger.Info("asked peer to refresh for human verification")
	return true
}

// Refreshing reports whether a verification refresh is pending.
func (h *Hub) Refreshing() bool {
	return h.refreshing.Load()
}
