package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades /ws requests. The source is picked with ?source=, and
// defaults to the handler's source.
type Handler struct {
	hub           *Hub
	defaultSource string
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, defaultSource string) *Handler {
	return &Handler{hub: hub, defaultSource: defaultSource}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source")
	if sourceID == "" {
		sourceID = h.defaultSource
	}
	if sourceID == "" {
		http.Error(w, "source required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warnf("Upgrade error: %v", err)
		return
	}
	h.hub.log.Debugf("New connection for source %s from %s", sourceID, r.RemoteAddr)

	c := &client{sourceID: sourceID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.hub.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only detects disconnection and keeps the read deadline fresh
func (h *Handler) readPump(c *client) {
	defer h.hub.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.log.Warnf("Read error for source %s: %v", c.sourceID, err)
			}
			return
		}
	}
}

// writePump owns all writes to the connection
func (h *Handler) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.hub.log.Debugf("Error sending to client: %v", err)
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
