// Package ws bridges the signal bus to WebSocket clients: fill and claim
// events published by the clearing service fan out to every connected
// client subscribed to the matching channel.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be under pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced upstream by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one WebSocket connection with its channel subscriptions.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON frame a client sends to manage subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// event pairs a bus payload with its source channel so the hub routes it
// only to clients subscribed there.
type event struct {
	channel string
	data    []byte
}

// Hub tracks connected clients and forwards bus events to them. There is
// one hub per API node; the bus carries events between nodes.
type Hub struct {
	bus      domain.SignalBus
	channels []string
	metrics  *metrics.Metrics
	logger   *slog.Logger

	clients   map[*client]bool
	events    chan event
	attach    chan *client
	detach    chan *client
	mu        sync.RWMutex
	startedAt time.Time
}

// NewHub creates a hub forwarding the given bus channels. m may be nil to
// disable the connection gauges.
func NewHub(bus domain.SignalBus, channels []string, m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		bus:       bus,
		channels:  channels,
		metrics:   m,
		logger:    logger,
		clients:   make(map[*client]bool),
		events:    make(chan event, 256),
		attach:    make(chan *client),
		detach:    make(chan *client),
		startedAt: time.Now().UTC(),
	}
}

// Run drives the hub until ctx ends: one goroutine per bus channel feeding
// events, plus this loop handling attach/detach and fan-out.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range h.channels {
		go h.pump(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.attach:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.WSClientConnected()
			}
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.detach:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				if h.metrics != nil {
					h.metrics.WSClientDisconnected()
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case ev := <-h.events:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(ev.channel) {
					continue
				}
				select {
				case c.send <- ev.data:
				default:
					// Full send buffer: drop rather than stall the hub.
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump subscribes to one bus channel and feeds its payloads into the hub.
func (h *Hub) pump(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", channel))
				return
			}
			h.events <- event{channel: channel, data: data}
		}
	}
}

// HandleWS upgrades the request and attaches the client. New clients start
// subscribed to every hub channel and can narrow from there.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(h.channels)),
	}
	for _, ch := range h.channels {
		c.subs[ch] = true
	}

	h.attach <- c
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

// readPump consumes client frames; the only accepted input is subscription
// management JSON.
func (c *client) readPump() {
	defer func() {
		c.hub.detach <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.applySubscription(sub)
		}
	}
}

func (c *client) applySubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendStatus pushes a small envelope so clients can mark the connection
// healthy before any clearing events flow.
func (c *client) sendStatus() {
	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"ws_connected":   true,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
			"channels":       c.hub.channels,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump writes events as JSON text frames and keeps idle connections
// alive with pings.
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
