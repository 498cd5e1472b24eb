package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
)

const sampleConfig = `
instruments:
  - id: ES.CFD
    quorum_mode: quorum
    sources: [ibkr, cme, lmax, saxo]
    max_age: 30s
    collection_window: 2s
    round_interval: 5s
  - id: XAU.CFD
    quorum_mode: cfd_only
    sources: [saxo]
signer:
  type: local
  key_env: TEST_ORACLE_KEY
feeds:
  - type: rest
    name: saxo
    enabled: true
    config:
      url: https://example.invalid/quote
      interval: 2s
      instruments:
        XAU.CFD: XAUUSD
logging:
  level: debug
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Instruments, 2)

	es := cfg.Instruments[0]
	assert.Equal(t, 30*time.Second, es.MaxAge.ToDuration())
	assert.Equal(t, 2*time.Second, es.CollectionWindow.ToDuration())
	assert.Equal(t, DefaultOutlierTolerance, es.OutlierTolerance)
	assert.Equal(t, DefaultAggregateMode, es.AggregateMode)
	assert.Equal(t, DefaultExpo, es.ExpoValue())

	xau, ok := cfg.Instrument("XAU.CFD")
	require.True(t, ok)
	assert.Equal(t, DefaultMaxAge, xau.MaxAge.ToDuration())
	assert.Equal(t, DefaultMaxClockSkew, xau.MaxClockSkew.ToDuration())
	assert.Equal(t, DefaultRoundInterval, xau.RoundInterval.ToDuration())

	assert.Equal(t, DefaultSignerTimeout, cfg.Signer.Timeout.ToDuration())
	assert.Equal(t, ":8080", cfg.Server.HTTP.Addr)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []string{"ES.CFD", "XAU.CFD"}, cfg.InstrumentIDs())

	feed := cfg.Feeds[0]
	assert.Equal(t, 2*time.Second, feed.GetDuration("interval", time.Minute))
	assert.Equal(t, map[string]string{"XAU.CFD": "XAUUSD"}, feed.GetStringMap("instruments"))
	assert.Equal(t, "fallback", feed.GetString("missing", "fallback"))
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte("instruments:\n  - id: X\n    max_age: soon\n"))
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestValidate(t *testing.T) {
	t.Setenv("TEST_ORACLE_KEY", "deadbeef")

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no instruments", mutate: func(c *Config) { c.Instruments = nil }, want: ErrNoInstruments},
		{name: "missing id", mutate: func(c *Config) { c.Instruments[0].ID = "" }, want: ErrInstrumentIDRequired},
		{name: "duplicate id", mutate: func(c *Config) { c.Instruments[1].ID = "ES.CFD" }, want: ErrDuplicateInstrument},
		{name: "no sources", mutate: func(c *Config) { c.Instruments[0].Sources = nil }, want: ErrNoSourcesConfigured},
		{name: "bad mode", mutate: func(c *Config) { c.Instruments[0].QuorumMode = "majority" }, want: ErrInvalidQuorumMode},
		{name: "override above N", mutate: func(c *Config) { c.Instruments[0].QuorumOverride = 5 }, want: ErrInvalidQuorumOverride},
		{name: "bad aggregate mode", mutate: func(c *Config) { c.Instruments[0].AggregateMode = "tvwap" }, want: ErrInvalidAggregateMode},
		{name: "tolerance too large", mutate: func(c *Config) { c.Instruments[0].OutlierTolerance = 1.5 }, want: ErrInvalidTolerance},
		{
			name:   "window longer than interval",
			mutate: func(c *Config) { c.Instruments[0].CollectionWindow = Duration(time.Minute) },
			want:   ErrInvalidWindow,
		},
		{
			name: "positive expo",
			mutate: func(c *Config) {
				expo := int32(2)
				c.Instruments[0].Expo = &expo
			},
			want: ErrInvalidExpo,
		},
		{name: "signer key missing", mutate: func(c *Config) { c.Signer.KeyEnv = "" }, want: ErrSignerKeyRequired},
		{name: "signer env unset", mutate: func(c *Config) { c.Signer.KeyEnv = "TEST_ORACLE_UNSET" }, want: ErrSignerKeyEnvNotSet},
		{name: "kms incomplete", mutate: func(c *Config) { c.Signer.Type = "kms" }, want: ErrKMSConfigIncomplete},
		{name: "bad signer type", mutate: func(c *Config) { c.Signer.Type = "hsm" }, want: ErrInvalidSignerType},
		{name: "feed without name", mutate: func(c *Config) { c.Feeds[0].Name = "" }, want: ErrFeedNameRequired},
		{name: "redis without addr", mutate: func(c *Config) { c.Publishers.Redis.Enabled = true }, want: ErrRedisAddrRequired},
		{name: "kafka without topic", mutate: func(c *Config) { c.Publishers.Kafka.Enabled = true }, want: ErrKafkaConfigIncomplete},
		{name: "tls without cert", mutate: func(c *Config) { c.Server.HTTP.TLS.Enabled = true }, want: ErrTLSConfigIncomplete},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, want: ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = Validate(cfg)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ORACLE_REDIS", "redis.internal:6379")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig+"publishers:\n  redis:\n    enabled: true\n    addr: ${TEST_ORACLE_REDIS}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.Publishers.Redis.Addr)
	assert.Equal(t, "consensus", cfg.Publishers.Redis.Channel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatcher_ReloadsValidChanges(t *testing.T) {
	t.Setenv("TEST_ORACLE_KEY", "deadbeef")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	var mu sync.Mutex
	var reloaded []*Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		reloaded = append(reloaded, cfg)
		mu.Unlock()
	}, logging.NewNoopLogger())
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	// An invalid file is rejected.
	require.NoError(t, os.WriteFile(path, []byte("instruments: []\n"), 0o600))
	time.Sleep(150 * time.Millisecond)

	updated := strings.Replace(sampleConfig, "instruments:\n", "instruments:\n  - id: NQ.CFD\n    sources: [ibkr]\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloaded) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	_, ok := reloaded[len(reloaded)-1].Instrument("NQ.CFD")
	mu.Unlock()
	assert.True(t, ok)

	cancel()
	assert.NoError(t, <-done)
}
