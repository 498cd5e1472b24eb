package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Instruments []InstrumentConfig `yaml:"instruments"`
	Signer      SignerConfig       `yaml:"signer"`
	Feeds       []FeedConfig       `yaml:"feeds"`
	Publishers  PublishersConfig   `yaml:"publishers"`
	Server      ServerConfig       `yaml:"server"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// InstrumentConfig configures consensus for one instrument.
type InstrumentConfig struct {
	ID               string   `yaml:"id"`
	QuorumMode       string   `yaml:"quorum_mode"`       // local (cfd_only) or quorum
	QuorumOverride   int      `yaml:"quorum_override"`   // fixed threshold in quorum mode (0 = ceil(2N/3))
	Sources          []string `yaml:"sources"`           // expected source ids
	MaxAge           Duration `yaml:"max_age"`           // staleness bound on observed_at
	MaxClockSkew     Duration `yaml:"max_clock_skew"`    // allowed lead of observed_at over receipt; negative disables
	OutlierTolerance float64  `yaml:"outlier_tolerance"` // relative deviation from median, e.g. 0.015
	CollectionWindow Duration `yaml:"collection_window"`
	RoundInterval    Duration `yaml:"round_interval"`
	AggregateMode    string   `yaml:"aggregate_mode"` // robust, median, mean, adaptive
	TrimMinQuotes    int      `yaml:"trim_min_quotes"`
	Sensitivity      float64  `yaml:"sensitivity"` // adaptive mode only
	Expo             *int32   `yaml:"expo"`
	DispersionBpsMax float64  `yaml:"dispersion_bps_max"` // 0 disables the warning
}

// SignerConfig configures the attestation signer.
type SignerConfig struct {
	Type    string    `yaml:"type"`     // local or kms
	KeyEnv  string    `yaml:"key_env"`  // env var holding a hex private key
	KeyFile string    `yaml:"key_file"` // file holding a hex private key
	Timeout Duration  `yaml:"timeout"`
	KMS     KMSConfig `yaml:"kms"`
}

// KMSConfig configures KMS unsealing of the signing key.
type KMSConfig struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"` // local emulator endpoint, empty for AWS
	CiphertextFile string `yaml:"ciphertext_file"`
}

// FeedConfig configures a feed adapter
type FeedConfig struct {
	Type    string                 `yaml:"type"`
	Name    string                 `yaml:"name"`
	Enabled bool                   `yaml:"enabled"`
	Config  map[string]interface{} `yaml:"config"`
}

// PublishersConfig configures consumer-facing outputs.
type PublishersConfig struct {
	Memory MemoryPublisherConfig `yaml:"memory"`
	Redis  RedisPublisherConfig  `yaml:"redis"`
	Kafka  KafkaPublisherConfig  `yaml:"kafka"`
}

// MemoryPublisherConfig configures the in-process store.
type MemoryPublisherConfig struct {
	Retention int `yaml:"retention"` // rounds kept per instrument
}

// RedisPublisherConfig configures the Redis publisher.
type RedisPublisherConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Channel  string   `yaml:"channel"`
	TTL      Duration `yaml:"ttl"`
}

// KafkaPublisherConfig configures the Kafka publisher.
type KafkaPublisherConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ServerConfig configures the HTTP and WebSocket surface
type ServerConfig struct {
	HTTP      HTTPConfig `yaml:"http"`
	WebSocket WSConfig   `yaml:"websocket"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Enabled         bool      `yaml:"enabled"`
	Addr            string    `yaml:"addr"`
	TLS             TLSConfig `yaml:"tls"`
	IngestRateLimit float64   `yaml:"ingest_rate_limit"` // POST /v1/quotes per source, requests per second; negative disables
	IngestBurst     int       `yaml:"ingest_burst"`
}

// WSConfig configures the WebSocket stream
type WSConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TLSConfig holds TLS certificate configuration
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
