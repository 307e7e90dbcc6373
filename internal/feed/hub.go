// Package feed broadcasts market state over websockets. Clients get a
// full snapshot on connect, then coalesced delta batches as the engine
// mutates items.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventSnapshot is sent once per connection, before any deltas.
const EventSnapshot = "productsSnapshot"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	sendBufferSize = 32
)

// Envelope is the wire frame for every feed message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SnapshotFunc produces the catalog state sent to a newly connected
// client. An error skips the snapshot but keeps the connection.
type SnapshotFunc func(ctx context.Context) (any, error)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast frames out to every connected client. A client
// that cannot keep up with the send buffer is dropped rather than
// allowed to stall the broadcast loop.
type Hub struct {
	log      *slog.Logger
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:      logger,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Emit broadcasts one envelope to all connected clients. Implements
// the aggregator's sink interface.
func (h *Hub) Emit(event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.log.Error("feed marshal failed", "event", event, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Slow consumer; cut it loose and let the read loop clean up.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and runs the connection until the
// peer goes away or the send side is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.sendSnapshot(r.Context(), c)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("feed client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) sendSnapshot(ctx context.Context, c *client) {
	if h.snapshot == nil {
		return
	}
	data, err := h.snapshot(ctx)
	if err != nil {
		h.log.Error("feed snapshot failed", "err", err)
		return
	}
	frame, err := json.Marshal(Envelope{Event: EventSnapshot, Data: data})
	if err != nil {
		h.log.Error("feed marshal failed", "event", EventSnapshot, "err", err)
		return
	}
	c.send <- frame
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames; the feed is one-way. It exists to
// notice disconnects and service pongs.
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
	h.log.Info("feed client disconnected")
}
