package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/cfd-oracle/pkg/config"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/version"
)

// TypeWebSocket subscribes to an upstream WebSocket stream.
const TypeWebSocket = "websocket"

func init() {
	Register(TypeWebSocket, NewStreamAdapter)
}

// StreamAdapter consumes a WebSocket stream of JSON messages. Each message
// carries a symbol and a price at the configured gjson paths; messages for
// unmapped symbols are ignored.
type StreamAdapter struct {
	*BaseAdapter
	client    *wsClient
	subscribe string // sent once per symbol on connect; {symbol} is replaced
	extractor Extractor
}

var _ Adapter = (*StreamAdapter)(nil)

// NewStreamAdapter creates a streaming adapter from its config block.
func NewStreamAdapter(cfg config.FeedConfig, sub Submitter, logger *logging.Logger) (Adapter, error) {
	url := cfg.GetString("url", "")
	if url == "" {
		return nil, ErrURLRequired
	}
	symbols, err := ParseSymbols(cfg.Config)
	if err != nil {
		return nil, err
	}
	extractor, err := newExtractor(cfg.Config)
	if err != nil {
		return nil, err
	}
	if extractor.SymbolPath == "" {
		return nil, ErrSymbolPathRequired
	}

	headers := http.Header{}
	headers.Set("User-Agent", version.AgentString())
	for k, v := range cfg.GetStringMap("headers") {
		headers.Set(k, v)
	}

	a := &StreamAdapter{
		BaseAdapter: NewBaseAdapter(cfg.Name, TypeWebSocket, symbols, sub, logger),
		subscribe:   cfg.GetString("subscribe", ""),
		extractor:   extractor,
	}
	a.client = newWSClient(wsConfig{
		URL:           url,
		Headers:       headers,
		ReconnectWait: cfg.GetDuration("reconnect_wait", time.Second),
		PingInterval:  cfg.GetDuration("ping_interval", 30*time.Second),
		Logger:        logger.ZerologLogger(),
	})
	a.client.onConnect = a.handleConnect
	a.client.onMessage = a.handleMessage
	a.client.onDisconnect = func(error) { a.SetHealthy(false) }
	return a, nil
}

// Run streams until ctx is done.
func (a *StreamAdapter) Run(ctx context.Context) error {
	a.Logger().Info("Starting WebSocket feed", "instruments", len(a.symbols))
	return a.client.Run(ctx)
}

func (a *StreamAdapter) handleConnect(conn *websocket.Conn) error {
	if a.subscribe == "" {
		return nil
	}
	for _, id := range a.Instruments() {
		msg := strings.ReplaceAll(a.subscribe, "{symbol}", a.Symbol(id))
		_ = conn.SetWriteDeadline(time.Now().Add(a.client.writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return fmt.Errorf("subscribe %s: %w", a.Symbol(id), err)
		}
	}
	return nil
}

func (a *StreamAdapter) handleMessage(msg []byte) {
	symbol := a.extractor.Symbol(msg)
	instrumentID, ok := a.InstrumentFor(symbol)
	if !ok {
		return
	}

	price, err := a.extractor.Price(msg)
	if err != nil {
		a.Logger().Debug("Skipping message", "symbol", symbol, "error", err)
		return
	}
	observedAt, err := a.extractor.ObservedAt(msg, time.Now())
	if err != nil {
		a.Logger().Debug("Skipping message", "symbol", symbol, "error", err)
		return
	}

	if err := a.Submit(instrumentID, price, observedAt); err == nil {
		a.SetHealthy(true)
	}
}
