package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/cfd-oracle/pkg/config"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
)

type submitted struct {
	instrument string
	source     string
	price      decimal.Decimal
	observedAt time.Time
	sequence   uint64
}

type recordingSubmitter struct {
	mu     sync.Mutex
	quotes []submitted
}

func (r *recordingSubmitter) SubmitQuote(instrumentID, sourceID string, price decimal.Decimal, observedAt time.Time, sequence uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes = append(r.quotes, submitted{instrumentID, sourceID, price, observedAt, sequence})
	return nil
}

func (r *recordingSubmitter) all() []submitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]submitted, len(r.quotes))
	copy(out, r.quotes)
	return out
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		doc  string
	}{
		{name: "unix seconds", doc: `{"t":1772461800}`},
		{name: "unix millis", doc: `{"t":1772461800000}`},
		{name: "unix micros", doc: `{"t":1772461800000000}`},
		{name: "unix nanos", doc: `{"t":1772461800000000000}`},
		{name: "micros string", doc: `{"t":"1772461800000000"}`},
		{name: "numeric string", doc: `{"t":"1772461800"}`},
		{name: "rfc3339", doc: `{"t":"2026-03-02T14:30:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestamp(gjson.Get(tt.doc, "t"))
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}

	_, err := parseTimestamp(gjson.Get(`{"t":"yesterday"}`, "t"))
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestExtractor(t *testing.T) {
	e := Extractor{PricePath: "data.mid", SymbolPath: "data.sym"}
	doc := []byte(`{"data":{"sym":"XAUUSD","mid":"2345.67"}}`)

	price, err := e.Price(doc)
	require.NoError(t, err)
	assert.Equal(t, "2345.67", price.String())
	assert.Equal(t, "XAUUSD", e.Symbol(doc))

	now := time.Now()
	at, err := e.ObservedAt(doc, now)
	require.NoError(t, err)
	assert.Equal(t, now, at)

	_, err = e.Price([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestCreate_Errors(t *testing.T) {
	logger := logging.NewNoopLogger()
	sub := &recordingSubmitter{}

	tests := []struct {
		name string
		cfg  config.FeedConfig
		want error
	}{
		{name: "unknown type", cfg: config.FeedConfig{Type: "fix", Name: "x"}, want: ErrUnknownFeedType},
		{name: "rest without url", cfg: config.FeedConfig{Type: TypeREST, Name: "x", Config: map[string]interface{}{}}, want: ErrURLRequired},
		{
			name: "rest without instruments",
			cfg:  config.FeedConfig{Type: TypeREST, Name: "x", Config: map[string]interface{}{"url": "http://x"}},
			want: ErrNoInstrumentsConfigured,
		},
		{
			name: "rest without price path",
			cfg: config.FeedConfig{Type: TypeREST, Name: "x", Config: map[string]interface{}{
				"url":         "http://x",
				"instruments": map[string]interface{}{"ES.CFD": "ES"},
			}},
			want: ErrPricePathRequired,
		},
		{
			name: "stream without symbol path",
			cfg: config.FeedConfig{Type: TypeWebSocket, Name: "x", Config: map[string]interface{}{
				"url":         "ws://x",
				"price_path":  "p",
				"instruments": map[string]interface{}{"ES.CFD": "ES"},
			}},
			want: ErrSymbolPathRequired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(tt.cfg, sub, logger)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, []string{TypeREST, TypeWebSocket}, List())
}

func TestRESTAdapter_Polls(t *testing.T) {
	var agent string
	var agentMu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentMu.Lock()
		agent = r.Header.Get("User-Agent")
		agentMu.Unlock()
		switch r.URL.Query().Get("symbol") {
		case "XAUUSD":
			_, _ = w.Write([]byte(`{"quote":{"price":2345.5,"ts":1772461800000}}`))
		case "ES":
			_, _ = w.Write([]byte(`{"quote":{"price":"5012.25","ts":"2026-03-02T14:30:00Z"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sub := &recordingSubmitter{}
	adapter, err := Create(config.FeedConfig{
		Type: TypeREST,
		Name: "saxo",
		Config: map[string]interface{}{
			"url":        srv.URL + "/quote?symbol={symbol}",
			"interval":   "50ms",
			"rate_limit": 100,
			"price_path": "quote.price",
			"time_path":  "quote.ts",
			"instruments": map[string]interface{}{
				"XAU.CFD": "XAUUSD",
				"ES.CFD":  "ES",
			},
		},
	}, sub, logging.NewNoopLogger())
	require.NoError(t, err)
	assert.Equal(t, "saxo", adapter.Name())
	assert.Equal(t, []string{"ES.CFD", "XAU.CFD"}, adapter.Instruments())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- adapter.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sub.all()) >= 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	quotes := sub.all()
	assert.Equal(t, "ES.CFD", quotes[0].instrument)
	assert.Equal(t, "saxo", quotes[0].source)
	assert.Equal(t, "5012.25", quotes[0].price.String())
	assert.Equal(t, "XAU.CFD", quotes[1].instrument)
	assert.Equal(t, "2345.5", quotes[1].price.String())
	assert.True(t, time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC).Equal(quotes[1].observedAt))

	for i := 1; i < len(quotes); i++ {
		assert.Greater(t, quotes[i].sequence, quotes[i-1].sequence)
	}
	assert.True(t, adapter.IsHealthy())
	assert.False(t, adapter.LastUpdate().IsZero())

	agentMu.Lock()
	assert.True(t, strings.HasPrefix(agent, "cfd-oracle/v"))
	agentMu.Unlock()
}

func TestRESTAdapter_UnhealthyOnErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter, err := NewRESTAdapter(config.FeedConfig{
		Name: "broken",
		Config: map[string]interface{}{
			"url":         srv.URL,
			"price_path":  "price",
			"instruments": map[string]interface{}{"ES.CFD": "ES"},
		},
	}, &recordingSubmitter{}, logging.NewNoopLogger())
	require.NoError(t, err)

	rest := adapter.(*RESTAdapter)
	err = rest.poll(context.Background(), "ES.CFD")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	rest.pollAll(context.Background())
	assert.False(t, rest.IsHealthy())
}

func TestStreamAdapter_ConsumesMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscriptions := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscriptions <- string(msg)

		for _, m := range []string{
			`{"s":"NQ","p":"18000"}`,
			`{"s":"ES","p":"5012.25","t":1772461800}`,
			`{"s":"ES","p":"not-a-price"}`,
			`{"s":"ES","p":"5012.50","t":1772461801}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sub := &recordingSubmitter{}
	adapter, err := Create(config.FeedConfig{
		Type: TypeWebSocket,
		Name: "lmax",
		Config: map[string]interface{}{
			"url":         "ws" + strings.TrimPrefix(srv.URL, "http"),
			"subscribe":   `{"op":"subscribe","symbol":"{symbol}"}`,
			"symbol_path": "s",
			"price_path":  "p",
			"time_path":   "t",
			"instruments": map[string]interface{}{"ES.CFD": "ES"},
		},
	}, sub, logging.NewNoopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- adapter.Run(ctx) }()

	select {
	case msg := <-subscriptions:
		assert.Equal(t, `{"op":"subscribe","symbol":"ES"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool { return len(sub.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, adapter.IsHealthy())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream adapter did not stop")
	}

	quotes := sub.all()
	assert.Equal(t, "ES.CFD", quotes[0].instrument)
	assert.Equal(t, "lmax", quotes[0].source)
	assert.Equal(t, "5012.25", quotes[0].price.String())
	assert.Equal(t, "5012.5", quotes[1].price.String())
	assert.Equal(t, uint64(1), quotes[0].sequence)
	assert.Equal(t, uint64(2), quotes[1].sequence)
}
