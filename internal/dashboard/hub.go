package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	clientSendBuf  = 64
)

// Hub fans out every Event to all connected operator clients, adapted
// from the teacher's internal/api/stream.go Hub: a single goroutine owns
// the client set, register/unregister/broadcast arrive as channel sends
// so no mutex is held across a client write.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan Event

	logger *slog.Logger
}

// NewHub constructs a Hub. Call Run in its own goroutine before accepting
// WebSocket upgrades.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		logger:     logger.With("component", "dashboard_hub"),
	}
}

// Run drives the Hub's single-goroutine client-set mutation loop until
// ctx is cancelled via Stop (closing done).
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("marshal event failed", "error", err)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.logger.Warn("dropping slow client")
					go h.Unregister(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast pushes evt to every connected client. Never blocks the
// caller — the channel is buffered, and a full buffer drops the event
// with a log line rather than stalling the round that produced it.
func (h *Hub) Broadcast(evt Event) {
	select {
	case h.broadcast <- evt:
	default:
		h.logger.Warn("broadcast buffer full, dropping event", "type", evt.Type)
	}
}

// Register adds a client to the fan-out set.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes a client, closing its send channel.
func (h *Hub) Unregister(c *Client) {
	defer func() { recover() }()
	h.unregister <- c
}

// Client is one connected operator's WebSocket session: a read pump that
// only exists to keep the connection's pong/close handling alive (the
// dashboard stream is server-to-client only), and a write pump that
// drains send and applies the ping/keepalive cadence.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wires conn into hub and starts its read/write pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{hub: hub, conn: conn, send: make(chan []byte, clientSendBuf)}
	hub.Register(c)
	go c.writePump()
	go c.readPump()
	return c
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
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

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
