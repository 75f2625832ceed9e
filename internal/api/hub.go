package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"piperoute-system/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// controlMessage is what browsers send back over the socket.
type controlMessage struct {
	Action string `json:"action"`
}

// Hub streams stepper snapshots to websocket clients. Publish never
// blocks: frames are dropped when the broadcast buffer is full.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
	done      chan struct{}
	logger    *zap.Logger

	mu      sync.RWMutex
	latest  []byte
	control func(action string) error
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 64),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// OnControl installs the handler for pause/resume/step messages.
func (h *Hub) OnControl(fn func(action string) error) {
	h.mu.Lock()
	h.control = fn
	h.mu.Unlock()
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.logger.Warn("Failed to send snapshot to websocket client", zap.Error(err))
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

func (h *Hub) Publish(snap domain.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
	default:
		h.logger.Debug("Dropping snapshot, broadcast buffer full", zap.Int("step", snap.Step))
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	latest := h.latest
	h.mu.RUnlock()
	if latest != nil {
		conn.WriteMessage(websocket.TextMessage, latest)
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-h.done:
			}
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("WebSocket error", zap.Error(err))
				}
				return
			}

			var msg controlMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			h.mu.RLock()
			control := h.control
			h.mu.RUnlock()
			if control == nil {
				continue
			}
			if err := control(msg.Action); err != nil {
				h.logger.Debug("Ignoring control message", zap.String("action", msg.Action), zap.Error(err))
			}
		}
	}()
}
