package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/publisher"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub streams published consensus prices to WebSocket clients. It is a
// publisher, so it plugs into the fan-out next to the stores.
type Hub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]bool
	closed  bool

	updates chan attestation.ConsensusPrice
}

var _ publisher.Publisher = (*Hub)(nil)

type hubClient struct {
	conn          *websocket.Conn
	send          chan []byte
	hub           *Hub
	mu            sync.RWMutex
	subscribedAll bool
	instruments   map[string]bool
}

// ClientMessage is a message from a stream client.
type ClientMessage struct {
	Type        string   `json:"type"`        // "subscribe", "unsubscribe", "ping"
	Instruments []string `json:"instruments"` // empty or ["*"] means all
}

// PriceMessage is sent to clients for every published round.
type PriceMessage struct {
	Type string                     `json:"type"` // "consensus_price"
	Data attestation.ConsensusPrice `json:"data"`
}

// NewHub creates a stream hub. Call Run to start broadcasting.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*hubClient]bool),
		updates: make(chan attestation.ConsensusPrice, 256),
	}
}

// Name implements publisher.Publisher.
func (h *Hub) Name() string {
	return "websocket"
}

// Publish queues price for broadcast. It never blocks the round.
func (h *Hub) Publish(_ context.Context, price attestation.ConsensusPrice) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return publisher.ErrClosed
	}
	select {
	case h.updates <- price:
		return nil
	default:
		return ErrBroadcastDropped
	}
}

// Run broadcasts queued prices until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.close()
			return nil
		case price := <-h.updates:
			h.broadcast(price)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.RecordHTTPRequest("/ws", "400", time.Since(start))
		h.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}
	metrics.RecordHTTPRequest("/ws", "101", time.Since(start))

	client := &hubClient{
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           h,
		subscribedAll: true,
		instruments:   make(map[string]bool),
	}
	if !h.register(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	h.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr().String())
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(price attestation.ConsensusPrice) {
	data, err := json.Marshal(PriceMessage{Type: "consensus_price", Data: price})
	if err != nil {
		h.logger.Error("Failed to marshal consensus price", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(price.InstrumentID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Client send buffer full, skipping update", "instrument", price.InstrumentID)
		}
	}
}

// writePump sends messages to the WebSocket connection.
func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *hubClient) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Debug("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Instruments)
		c.reply(map[string]interface{}{"type": "subscribed", "instruments": msg.Instruments})
	case "unsubscribe":
		c.unsubscribe(msg.Instruments)
		c.reply(map[string]interface{}{"type": "unsubscribed", "instruments": msg.Instruments})
	case "ping":
		c.reply(map[string]string{"type": "pong"})
	default:
		c.hub.logger.Debug("Unknown message type", "type", msg.Type)
	}
}

func (c *hubClient) subscribe(instruments []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(instruments) == 0 || (len(instruments) == 1 && instruments[0] == "*") {
		c.subscribedAll = true
		c.instruments = make(map[string]bool)
		return
	}
	c.subscribedAll = false
	for _, id := range instruments {
		c.instruments[id] = true
	}
}

func (c *hubClient) unsubscribe(instruments []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(instruments) == 0 || (len(instruments) == 1 && instruments[0] == "*") {
		c.subscribedAll = false
		c.instruments = make(map[string]bool)
		return
	}
	for _, id := range instruments {
		delete(c.instruments, id)
	}
}

func (c *hubClient) wants(instrumentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribedAll || c.instruments[instrumentID]
}

// reply queues a control response. The client may already be unregistered.
func (c *hubClient) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
