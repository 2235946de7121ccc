package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 32
)

// client is one websocket connection. Only writePump writes to conn.
type client struct {
	sourceID string
	conn     *websocket.Conn
	send     chan []byte
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans pipeline events out to websocket clients subscribed per source
type Hub struct {
	clients    map[string]map[*client]bool
	mu         sync.RWMutex
	statsEvery uint64
	log        logs.Log
}

// NewHub creates a hub that sends a stats message every statsEvery frames
func NewHub(statsEvery int, log logs.Log) *Hub {
	if statsEvery <= 0 {
		statsEvery = 1
	}
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		statsEvery: uint64(statsEvery),
		log:        logging.Component(log, "WS"),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.sourceID] == nil {
		h.clients[c.sourceID] = make(map[*client]bool)
	}
	h.clients[c.sourceID][c] = true
	h.log.Infof("Client registered for source %s (total: %d)", c.sourceID, len(h.clients[c.sourceID]))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[c.sourceID]; ok && conns[c] {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.sourceID)
		}
		c.close()
		h.log.Infof("Client unregistered for source %s", c.sourceID)
	}
}

// HasClients returns true if any client watches sourceID
func (h *Hub) HasClients(sourceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sourceID]) > 0
}

// ClientCount returns the total number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// BroadcastToSource queues message for every client of sourceID. Clients
// whose queue is full miss the message.
func (h *Hub) BroadcastToSource(sourceID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[sourceID] {
		select {
		case c.send <- message:
		default:
			h.log.Debugf("Dropping message for slow client on %s", sourceID)
		}
	}
}

func (h *Hub) broadcastJSON(sourceID string, msg any) {
	if !h.HasClients(sourceID) {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Errorf("Error marshaling message: %v", err)
		return
	}
	h.BroadcastToSource(sourceID, data)
}

// OnFrameResult sends every violation, and periodic stats
func (h *Hub) OnFrameResult(result *pipeline.FrameResult) {
	for i := range result.Violations {
		h.broadcastJSON(result.SourceID, NewViolationMessage(&result.Violations[i]))
	}
	if result.Seq%h.statsEvery == 0 {
		h.broadcastJSON(result.SourceID, NewStatsMessage(result))
	}
}

// OnStatus forwards pipeline state changes
func (h *Hub) OnStatus(event pipeline.StatusEvent) {
	h.broadcastJSON(event.SourceID, NewStatusMessage(event))
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sourceID, conns := range h.clients {
		for c := range conns {
			c.close()
		}
		delete(h.clients, sourceID)
	}
}

var (
	_ pipeline.ResultHandler = (*Hub)(nil)
	_ pipeline.StatusHandler = (*Hub)(nil)
)
