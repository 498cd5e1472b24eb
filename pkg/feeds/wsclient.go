package feeds

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// wsClient holds one upstream WebSocket connection open, reconnecting with
// exponential backoff until its context is done.
type wsClient struct {
	url           string
	headers       http.Header
	reconnectWait time.Duration
	maxWait       time.Duration
	pingInterval  time.Duration
	pongWait      time.Duration
	writeWait     time.Duration
	logger        zerolog.Logger

	onConnect    func(conn *websocket.Conn) error
	onMessage    func([]byte)
	onDisconnect func(error)
}

// wsConfig holds WebSocket client configuration
type wsConfig struct {
	URL           string
	Headers       http.Header
	ReconnectWait time.Duration
	MaxWait       time.Duration
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	Logger        zerolog.Logger
}

func newWSClient(cfg wsConfig) *wsClient {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 60 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait == 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &wsClient{
		url:           cfg.URL,
		headers:       cfg.Headers,
		reconnectWait: cfg.ReconnectWait,
		maxWait:       cfg.MaxWait,
		pingInterval:  cfg.PingInterval,
		pongWait:      cfg.PongWait,
		writeWait:     cfg.WriteWait,
		logger:        cfg.Logger,
	}
}

// Run connects and reads until ctx is done.
func (c *wsClient) Run(ctx context.Context) error {
	wait := c.reconnectWait
	retries := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			wait = c.reconnectWait
			retries = 0
		}
		retries++
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}

		c.logger.Warn().
			Err(err).
			Int("retry", retries).
			Dur("wait", wait).
			Msg("WebSocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait *= 2
		if wait > c.maxWait {
			wait = c.maxWait
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (c *wsClient) session(ctx context.Context) (connected bool, err error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.DialContext(ctx, c.url, c.headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, err
	}
	defer conn.Close()

	c.logger.Info().Str("url", c.url).Msg("WebSocket connected")

	if c.onConnect != nil {
		if err := c.onConnect(conn); err != nil {
			return true, err
		}
	}

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("WebSocket read error")
			}
			return true, err
		}
		// Any frame proves liveness.
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

// keepalive pings until the session ends and closes the connection on shutdown.
func (c *wsClient) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			deadline := time.Now().Add(c.writeWait)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Warn().Err(err).Msg("WebSocket ping failed")
				}
				_ = conn.Close()
				return
			}
		}
	}
}
