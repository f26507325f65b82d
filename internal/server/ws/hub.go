// Package ws relays live book metrics from the signal bus to websocket
// clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/l2book/internal/cache/redis"
	"github.com/alanyoungcy/l2book/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Envelope is the frame sent to clients.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// controlMsg is what clients send to change their subscriptions:
//
//	{"action":"subscribe","symbols":["BTCUSDT"]}
//	{"action":"unsubscribe","channels":["book:metrics:*"]}
type controlMsg struct {
	Action   string   `json:"action"`
	Symbols  []string `json:"symbols"`
	Channels []string `json:"channels"`
}

// Config captures metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans signal bus messages out to connected clients. Every client starts
// subscribed to all symbols.
type Hub struct {
	bus     domain.SignalBus
	pattern string
	cfg     Config
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

type outbound struct {
	channel string
	data    []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// NewHub creates a hub that relays the metrics channels of bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:        bus,
		pattern:    redis.MetricsPattern,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgs, err := h.bus.Subscribe(ctx, h.pattern)
	if err != nil {
		return err
	}
	h.logger.Info("ws hub subscribed", slog.String("pattern", h.pattern))
	go h.relay(ctx, msgs)

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

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay wraps bus payloads in envelopes. The bus delivers pattern matches
// without their channel name, so it is rebuilt from the payload's symbol.
func (h *Hub) relay(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("pattern", h.pattern))
				return
			}
			var head struct {
				Symbol string `json:"symbol"`
			}
			if err := json.Unmarshal(data, &head); err != nil || head.Symbol == "" {
				h.logger.Debug("dropping message without symbol")
				continue
			}
			channel := redis.MetricsChannel(head.Symbol)
			frame, err := json.Marshal(Envelope{Type: "book_metrics", Channel: channel, Payload: data})
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- outbound{channel: channel, data: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{h.pattern: true},
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err == nil {
			c.apply(msg)
		}
	}
}

// apply updates subscriptions from a control message.
func (c *client) apply(msg controlMsg) {
	channels := append([]string(nil), msg.Channels...)
	for _, s := range msg.Symbols {
		channels = append(channels, redis.MetricsChannel(strings.ToUpper(strings.TrimSpace(s))))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		// An explicit symbol list replaces the default catch-all.
		if len(msg.Symbols) > 0 {
			delete(c.subs, c.hub.pattern)
		}
		for _, ch := range channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range channels {
			delete(c.subs, ch)
		}
	}
}

// sendHello tells the client what it is connected to before any book
// traffic flows.
func (c *client) sendHello() {
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.cfg.Mode,
		"uptime_seconds": max(int64(time.Since(c.hub.cfg.StartedAt).Seconds()), 0),
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Type: "status", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed matches exact channels and trailing-* patterns.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
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
