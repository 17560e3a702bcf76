// Package ringevents broadcasts ring-topology and replication events to
// observers over a websocket feed. It is purely an observability side
// channel: chord.Core pushes join, leave and stabilization events through
// the Broadcaster interface defined here, and the dhash package does not
// use this package at all.
package ringevents

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chordhash/chordhash/internal/telemetry"
)

// Event types carried over the feed. chord.Core emits the first three;
// nothing in this module emits the fragment event types.
const (
	EventNodeJoin      = "node_join"
	EventNodeLeave      = "node_leave"
	EventStabilization  = "stabilization"
	EventFragmentPlaced = "fragment_placed"
	EventFragmentHealed = "fragment_healed"
)

// Broadcaster is the interface chord.Core pushes events through. Passing nil
// to chord.New is valid; the core treats a nil Broadcaster as "no
// observers configured" and skips the call.
type Broadcaster interface {
	BroadcastRingUpdate(update any) error
}

// RingUpdateEvent is the JSON shape pushed to every connected observer.
type RingUpdateEvent struct {
	Type      string `json:"type"`
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans ring events out to every connected websocket observer.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	log        *telemetry.Logger
}

// NewHub builds a Hub. Call Run in its own goroutine before serving
// HandleWebSocket requests.
func NewHub(log *telemetry.Logger) *Hub {
	if log == nil {
		log = telemetry.L()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
		log:        log,
	}
}

// Run processes register/unregister/broadcast events until Stop is called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.log.Logger.Warn().Msg("ringevents: client send buffer full, disconnecting")
					go func(cl *client) { h.unregister <- cl }(c)
				}
			}
			h.mu.RUnlock()

		case <-h.shutdown:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down and waits for Run to return.
func (h *Hub) Stop() {
	close(h.shutdown)
	h.wg.Wait()
}

// BroadcastRingUpdate implements Broadcaster.
func (h *Hub) BroadcastRingUpdate(update any) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Logger.Warn().Msg("ringevents: broadcast channel full, dropping event")
	}
	return nil
}

// HandleWebSocket upgrades an HTTP request into a live event observer.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Logger.Error().Err(err).Msg("ringevents: upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
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

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
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
