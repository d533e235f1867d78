package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"perfeval-dashboard/internal/models"
)

// UpdatesChannel is the Redis channel dashboard events are fanned out on.
const UpdatesChannel = "dashboard_updates"

const writeTimeout = 10 * time.Second

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes workflow, chat and export events to every connected dashboard.
// With a Redis client events go through UpdatesChannel, so every gateway
// replica sees every event; without one they are broadcast in-process.
type Hub struct {
	mu          sync.RWMutex
	connections map[*conn]struct{}
	redisClient *redis.Client
	upgrader    websocket.Upgrader
	initial     func() []models.WSMessage
}

func NewHub(redisClient *redis.Client, allowedOrigin string) *Hub {
	h := &Hub{
		connections: make(map[*conn]struct{}),
		redisClient: redisClient,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
	return h
}

// SetInitial registers the messages sent to a dashboard right after it connects.
func (h *Hub) SetInitial(fn func() []models.WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initial = fn
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS Hub] Upgrade failed: %v", err)
		return
	}

	c := &conn{ws: ws}
	h.register(c)

	h.mu.RLock()
	initial := h.initial
	h.mu.RUnlock()
	if initial != nil {
		for _, msg := range initial() {
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.write(data); err != nil {
				h.unregister(c)
				return
			}
		}
	}

	go func() {
		defer h.unregister(c)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
	log.Printf("[WS Hub] Dashboard connected (total: %d)", len(h.connections))
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; !ok {
		return
	}
	delete(h.connections, c)
	c.ws.Close()
	log.Printf("[WS Hub] Dashboard disconnected (total: %d)", len(h.connections))
}

// Publish sends msg to every dashboard, through Redis when configured.
func (h *Hub) Publish(ctx context.Context, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS Hub] Failed to encode %s message: %v", msg.Type, err)
		return
	}

	if h.redisClient != nil {
		err := h.redisClient.Publish(ctx, UpdatesChannel, data).Err()
		if err == nil {
			return
		}
		log.Printf("[WS Hub] Redis publish failed, broadcasting locally: %v", err)
	}
	h.broadcast(data)
}

// Run relays UpdatesChannel to local connections until ctx is done. It is a
// no-op wait when the hub has no Redis client.
func (h *Hub) Run(ctx context.Context) error {
	if h.redisClient == nil {
		<-ctx.Done()
		return nil
	}

	sub := h.redisClient.Subscribe(ctx, UpdatesChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.broadcast([]byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			h.unregister(c)
		}
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects every dashboard.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.connections {
		c.ws.Close()
		delete(h.connections, c)
	}
}

// Forward publishes every value received on updates as a msgType message
// until updates is closed or ctx is done.
func Forward[T any](ctx context.Context, h *Hub, msgType string, updates <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			h.Publish(ctx, models.WSMessage{Type: msgType, Payload: v})
		}
	}
}
