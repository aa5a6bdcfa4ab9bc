package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/internal/util"
)

const (
	// wsWriteWait bounds a single message write.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a silent connection survives. Pings go
	// out at wsPingPeriod so a healthy client always answers in time.
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second

	// wsReadLimit caps inbound messages. Clients only ever send small
	// subscription frames.
	wsReadLimit = 64 * 1024

	// wsSendBuffer is the per-client outbound queue. A client that
	// falls this far behind gets dropped.
	wsSendBuffer = 256
)

// WebSocketMessage is one frame on the event feed.
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	hub        *WebSocketHub
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

// WebSocketHub manages WebSocket clients and broadcasting
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan *WebSocketMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan *WebSocketMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
	}
}

// Run pumps registrations and broadcasts until the context is
// canceled, then closes every client.
func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Closing done first unblocks any pump stuck on the
			// register/unregister channels below.
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("event feed client connected",
				"total_clients", total,
				logging.Component("websocket"))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("event feed client disconnected",
				"total_clients", total,
				logging.Component("websocket"))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver fans one message out. Clients whose send buffer is full are
// collected first and dropped after the read lock is released.
func (h *WebSocketHub) deliver(msg *WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	var stale []*WebSocketClient

	h.mu.RLock()
	for client := range h.clients {
		if !client.wantsChannel(msg.Channel) {
			continue
		}
		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		logging.Warn("dropping lagging event feed client",
			logging.Component("websocket"))
	}
}

// Broadcast sends a message to every client regardless of filters
func (h *WebSocketHub) Broadcast(eventType string, data interface{}) {
	h.enqueue(&WebSocketMessage{Type: eventType, Data: data})
}

// BroadcastToChannel sends a message tagged with a channel. Clients
// with channel filters only receive it when subscribed.
func (h *WebSocketHub) BroadcastToChannel(channel string, eventType string, data interface{}) {
	h.enqueue(&WebSocketMessage{Type: eventType, Channel: channel, Data: data})
}

func (h *WebSocketHub) enqueue(msg *WebSocketMessage) {
	select {
	case h.broadcast <- msg:
	default:
		logging.Warn("event feed broadcast buffer full",
			"channel", msg.Channel,
			logging.Component("websocket"))
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// newWebSocketClient creates a new WebSocket client
func newWebSocketClient(hub *WebSocketHub, conn *websocket.Conn) *WebSocketClient {
	return &WebSocketClient{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, wsSendBuffer),
		subscribed: make(map[string]bool),
	}
}

// wantsChannel reports whether a message on the channel should reach
// this client. A client with no subscriptions receives everything;
// subscribing narrows the feed to the named channels.
func (c *WebSocketClient) wantsChannel(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscribed) == 0 || channel == "" {
		return true
	}
	return c.subscribed[channel]
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *WebSocketClient) readPump() {
	defer func() {
		c.conn.Close()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("event feed read error",
					"error", err.Error(),
					logging.Component("websocket"))
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		c.handleMessage(&msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming WebSocket messages
func (c *WebSocketClient) handleMessage(msg *WebSocketMessage) {
	switch msg.Type {
	case "subscribe":
		c.handleSubscribe(msg)
	case "unsubscribe":
		c.handleUnsubscribe(msg)
	case "ping":
		c.sendMessage(&WebSocketMessage{Type: "pong"})
	}
}

// channelsFromData extracts the channels list from a message payload.
func channelsFromData(data interface{}) []string {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var req struct {
		Channels []string `json:"channels"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return req.Channels
}

// handleSubscribe narrows the client's feed to the named channels
func (c *WebSocketClient) handleSubscribe(msg *WebSocketMessage) {
	c.mu.Lock()
	for _, channel := range channelsFromData(msg.Data) {
		if channel == "" {
			continue
		}
		c.subscribed[channel] = true
	}
	c.mu.Unlock()

	c.sendMessage(&WebSocketMessage{
		Type: "subscribed",
		Data: map[string]interface{}{
			"channels": c.subscribedChannels(),
		},
	})
}

// handleUnsubscribe removes channel filters
func (c *WebSocketClient) handleUnsubscribe(msg *WebSocketMessage) {
	c.mu.Lock()
	for _, channel := range channelsFromData(msg.Data) {
		delete(c.subscribed, channel)
	}
	c.mu.Unlock()

	c.sendMessage(&WebSocketMessage{
		Type: "unsubscribed",
		Data: map[string]interface{}{
			"channels": c.subscribedChannels(),
		},
	})
}

// sendMessage queues a message for the client, dropping it when the
// buffer is full
func (c *WebSocketClient) sendMessage(msg *WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	default:
	}
}

// subscribedChannels returns the client's current channel filters
func (c *WebSocketClient) subscribedChannels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		channels = append(channels, ch)
	}
	return channels
}

// relayEvents forwards daemon bus events into the WebSocket hub until
// the context is canceled. Event names double as channel names, so
// clients can filter to e.g. just "anonymity.bootstrap".
func (s *Server) relayEvents(ctx context.Context) {
	ch, cancel := s.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.wsHub.BroadcastToChannel(ev.Name, "event", ev)
		}
	}
}

// handleWebSocket upgrades GET /v1/events to the event feed
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("event feed upgrade failed",
			"error", err.Error(),
			logging.Component("websocket"))
		return
	}

	client := newWebSocketClient(s.wsHub, conn)
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}

	util.SafeGoWithName("api-ws-write", client.writePump)
	util.SafeGoWithName("api-ws-read", client.readPump)
}
