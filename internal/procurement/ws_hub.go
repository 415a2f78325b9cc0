package procurement

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/procurement-engine/internal/agent"
	"github.com/atmx/procurement-engine/internal/metrics"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type         string `json:"type"`
	DealID       string `json:"deal_id"`
	Agent        string `json:"agent"`
	Counterparty string `json:"counterparty,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	Price        string `json:"price,omitempty"`
	Round        int    `json:"round"`
	Detail       string `json:"detail,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// WSHub fans negotiation events out to connected WebSocket clients. It
// implements agent.Publisher.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client connection.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues a negotiation event for every client. Events are dropped
// when the buffer is full so negotiation never blocks on slow clients.
func (h *WSHub) Publish(e agent.Event) {
	msg := WSMessage{
		Type:         e.Type,
		DealID:       e.DealID,
		Agent:        e.Agent,
		Counterparty: e.Counterparty,
		ProductID:    e.ProductID,
		Round:        e.Round,
		Detail:       e.Detail,
		Timestamp:    e.Timestamp.Format(time.RFC3339Nano),
	}
	if !e.Price.IsZero() {
		msg.Price = e.Price.StringFixed(2)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: detects disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.Lock()
			_, ok := h.clients[conn]
			var err error
			if ok {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			h.mu.Unlock()
			if !ok || err != nil {
				return
			}
		}
	}()
}
