package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/exchange"
	"github.com/efreitasn/marketsim/internal/metrics"
	"github.com/efreitasn/marketsim/internal/sim"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// HubConfig configures an EventHub.
type HubConfig struct {
	EventBuffer  int // exchange subscription buffer
	ClientBuffer int // messages queued per client before it is dropped
	Logger       *slog.Logger
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{EventBuffer: 256, ClientBuffer: 64}
}

type client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	symbol string // empty streams every symbol
	send   chan []byte
}

// EventHub streams the events of one exchange to WebSocket clients.
// It subscribes to the exchange like any other observer; a slow client
// is disconnected rather than allowed to back up the hub.
type EventHub struct {
	sub     *exchange.Subscription
	ex      *exchange.Exchange
	symbols map[string]bool
	cfg     HubConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewEventHub subscribes to ex. Products must be listed before the hub
// is created. Call Run to start delivering.
func NewEventHub(arena *sim.Arena, ex *exchange.Exchange, cfg HubConfig) *EventHub {
	def := DefaultHubConfig()
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	symbols := make(map[string]bool)
	for _, sym := range ex.Symbols() {
		symbols[sym] = true
	}
	key := arena.Stamp(domain.KindObserver).Key()
	return &EventHub{
		sub:     ex.Subscribe(key, cfg.EventBuffer),
		ex:      ex,
		symbols: symbols,
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run fans events out until ctx is done or the subscription closes.
// Must be called in a goroutine.
func (h *EventHub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			h.ex.Unsubscribe(h.sub.Key())
			return
		case ev, ok := <-h.sub.Events():
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *EventHub) broadcast(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.symbol != "" && c.symbol != ev.Symbol {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws client too slow, disconnecting", slog.String("client", c.id.String()))
			h.removeLocked(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Inc()
	h.logger.Info("ws client connected", slog.String("client", c.id.String()), slog.Int("total", n))
}

func (h *EventHub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *EventHub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Dec()
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades the request and streams events to it. The optional
// symbol query parameter restricts the stream to one symbol.
func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.URL.Query().Get("symbol"))
	if symbol != "" && !h.symbols[symbol] {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		id:     uuid.New(),
		conn:   conn,
		symbol: symbol,
		send:   make(chan []byte, h.cfg.ClientBuffer),
	}
	h.add(c)
	go h.writePump(c)
	go h.readPump(c)
}

// readPump keeps the connection alive and detects disconnects.
func (h *EventHub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.logger.Info("ws client disconnected", slog.String("client", c.id.String()))
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
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
