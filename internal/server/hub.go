package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/metrics"
	"github.com/abelbrown/edisco/internal/otel"
)

const (
	// DefaultClientBuffer is how many undelivered events a client may lag
	// before it is dropped.
	DefaultClientBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Clients never send data frames; this only bounds control replies.
	maxClientMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	id   string
	send chan []byte
}

// Hub fans relayed events out to /ws/live clients. A client whose buffer
// is full when an event arrives is disconnected rather than blocking the
// others.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	buffer  int
	metrics *metrics.Metrics
	events  *otel.Logger
}

// NewHub creates a Hub. m and events may be nil.
func NewHub(buffer int, m *metrics.Metrics, events *otel.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	if events == nil {
		events = otel.NewNullLogger()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		buffer:  buffer,
		metrics: m,
		events:  events,
	}
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logging.Warn("dropping slow stream client", "client", c.id)
			h.removeLocked(c, true)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c, false)
	}
}

func (h *Hub) register() *client {
	c := &client{id: uuid.NewString(), send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.ClientJoined()
	h.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindStreamJoin, Comp: "server", Msg: c.id})
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, false)
}

// removeLocked closes c's send channel; a no-op when c is already gone.
func (h *Hub) removeLocked(c *client, dropped bool) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	h.metrics.ClientLeft(dropped)
	h.events.Emit(otel.Event{
		Level: otel.LevelInfo,
		Kind:  otel.KindStreamLeave,
		Comp:  "server",
		Msg:   c.id,
		Extra: map[string]any{"dropped": dropped},
	})
}

// serveWS upgrades the request and pumps events until either side closes.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logging.Debug("websocket upgrade failed", "err", err)
		return
	}
	c := h.register()
	go h.writePump(conn, c)
	h.readPump(conn, c)
}

// readPump discards client frames and answers pongs; it returns, and
// unregisters the client, when the connection fails.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		h.unregister(c)
		conn.Close()
	}()
	conn.SetReadLimit(maxClientMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's only writer.
func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
