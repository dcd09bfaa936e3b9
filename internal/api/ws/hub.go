package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/monitoring"
)

// Client is one connected page client. Writes are serialized; gorilla
// connections allow a single concurrent writer.
type Client struct {
	ID string

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *Client) write(message any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(message)
}

// Hub is the live client list. Watch deliveries resolve clients against it
// by id on every notification rather than holding cached references.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(logger *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		metrics: metrics,
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Inc()
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	_, present := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if present && h.metrics != nil {
		h.metrics.WSClients.Dec()
	}
}

// Send posts a message to one client, reporting false when the client no
// longer exists or its connection is dead. A dead connection is dropped from
// the hub so the caller can garbage-collect state tied to it.
func (h *Hub) Send(clientID string, message any) bool {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := c.write(message); err != nil {
		h.logger.Debug("client write failed, dropping",
			zap.String("client_id", clientID), zap.Error(err))
		h.remove(clientID)
		c.conn.Close()
		return false
	}
	return true
}

// Broadcast posts a lifecycle notice to every connected client.
func (h *Hub) Broadcast(message any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(message); err != nil {
			h.remove(c.ID)
			c.conn.Close()
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
