package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"readywatch/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub fans collected samples and raised alerts out to websocket clients so
// dashboards refresh without polling. Slow clients are skipped, never
// allowed to stall the collector.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{log: logger, clients: map[*wsClient]struct{}{}}
}

// Run blocks until the context ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	return nil
}

func (h *Hub) BroadcastSamples(samples []models.Sample) {
	h.broadcast("samples", samples)
}

func (h *Hub) BroadcastAlert(ev models.AlertEvent) {
	h.broadcast("alert", ev)
}

func (h *Hub) broadcast(kind string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(map[string]any{"type": kind, "data": payload})
	if err != nil {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// client too slow, skip this frame
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handle upgrades the request and pumps broadcast frames to the client.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *wsClient) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	for {
		// Inbound frames are ignored; reading only detects disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
