// Package relay pushes bus events to consumers outside the process: browser
// clients over WebSocket and a Kafka topic.
package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/efreitasn/predictbook/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256

	// MarketChannelPrefix scopes a subscription to every event of one market,
	// e.g. "market:election-2028".
	MarketChannelPrefix = "market:"
)

// subscribeRequest is a client control message.
type subscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// Hub maintains WebSocket clients and forwards events to the ones
// subscribed to the event's channel or market.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a Hub. Origin checks are left to the CORS layer in front
// of it.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("ws"),
	}
}

// Run forwards events from the channel to clients until ctx is done or
// the channel is closed. Every client is disconnected on return.
func (h *Hub) Run(ctx context.Context, evs <-chan events.Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Broadcast sends ev to every subscribed client. A client whose send
// buffer is full is disconnected.
func (h *Hub) Broadcast(ev events.Event) {
	msg, err := json.Marshal(events.Wrap(ev))
	if err != nil {
		h.logger.Error("marshal event", zap.String("type", string(ev.EventType())), zap.Error(err))
		return
	}
	marketChannel := MarketChannelPrefix + ev.Market()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.isSubscribed(ev.Channel()) && !c.isSubscribed(marketChannel) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("slow client dropped", zap.String("client", c.id))
			h.removeLocked(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		id:            uuid.New().String(),
		subscriptions: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected",
		zap.String("client", c.id),
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Int("total", total),
	)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removeLocked(c) {
		h.logger.Info("client disconnected", zap.String("client", c.id), zap.Int("total", len(h.clients)))
	}
}

// removeLocked drops c and closes its send channel. h.mu must be held.
func (h *Hub) removeLocked(c *client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// client is a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *client) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *client) setSubscribed(channel string, on bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if on {
		c.subscriptions[channel] = true
	} else {
		delete(c.subscriptions, channel)
	}
}

// validChannel reports whether name is a known channel or a market scope.
func validChannel(name string) bool {
	switch name {
	case events.ChannelMarketUpdates, events.ChannelNewBets,
		events.ChannelMarketResolved, events.ChannelNewMarkets:
		return true
	}
	return strings.HasPrefix(name, MarketChannelPrefix) && len(name) > len(MarketChannelPrefix)
}

// readPump applies subscribe and unsubscribe requests until the
// connection fails.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Debug("invalid message", zap.String("client", c.id), zap.Error(err))
			continue
		}

		var on bool
		switch req.Op {
		case "subscribe":
			on = true
		case "unsubscribe":
			on = false
		default:
			c.hub.logger.Debug("unknown op", zap.String("client", c.id), zap.String("op", req.Op))
			continue
		}
		for _, ch := range req.Channels {
			if !validChannel(ch) {
				continue
			}
			c.setSubscribed(ch, on)
		}
	}
}

// drainQueued appends up to one buffer's worth of queued messages to w, each
// on its own line, without blocking. It reports whether send was closed.
func drainQueued(w io.Writer, send <-chan []byte) bool {
	for i := 0; i < cap(send); i++ {
		select {
		case msg, ok := <-send:
			if !ok {
				return true
			}
			w.Write([]byte{'\n'})
			w.Write(msg)
		default:
			return false
		}
	}
	return false
}

// writePump writes queued messages and keeps the connection alive with
// pings. Messages already queued are batched into one frame, one per line.
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
			closed := drainQueued(w, c.send)
			if err := w.Close(); err != nil {
				return
			}
			if closed {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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
