// Package config provides configuration loading and validation for the oracle node.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to optional instrument fields.
const (
	DefaultMaxAge           = 90 * time.Second
	DefaultMaxClockSkew     = 2 * time.Second
	DefaultOutlierTolerance = 0.015
	DefaultCollectionWindow = 5 * time.Second
	DefaultRoundInterval    = 10 * time.Second
	DefaultAggregateMode    = "robust"
	DefaultQuorumMode       = "quorum"
	DefaultSignerTimeout    = 2 * time.Second
)

// DefaultExpo is the decimal exponent of published scaled prices.
const DefaultExpo int32 = -8

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, expanding ${ENV} references first, and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	for i := range cfg.Instruments {
		inst := &cfg.Instruments[i]
		if inst.QuorumMode == "" {
			inst.QuorumMode = DefaultQuorumMode
		}
		if inst.MaxAge == 0 {
			inst.MaxAge = Duration(DefaultMaxAge)
		}
		if inst.MaxClockSkew == 0 {
			inst.MaxClockSkew = Duration(DefaultMaxClockSkew)
		}
		if inst.OutlierTolerance == 0 {
			inst.OutlierTolerance = DefaultOutlierTolerance
		}
		if inst.CollectionWindow == 0 {
			inst.CollectionWindow = Duration(DefaultCollectionWindow)
		}
		if inst.RoundInterval == 0 {
			inst.RoundInterval = Duration(DefaultRoundInterval)
			if inst.CollectionWindow > inst.RoundInterval {
				inst.RoundInterval = inst.CollectionWindow
			}
		}
		if inst.AggregateMode == "" {
			inst.AggregateMode = DefaultAggregateMode
		}
		if inst.Expo == nil {
			expo := DefaultExpo
			inst.Expo = &expo
		}
	}

	if cfg.Signer.Type == "" {
		cfg.Signer.Type = "local"
	}
	if cfg.Signer.Timeout == 0 {
		cfg.Signer.Timeout = Duration(DefaultSignerTimeout)
	}

	if cfg.Publishers.Memory.Retention == 0 {
		cfg.Publishers.Memory.Retention = 1024
	}
	if cfg.Publishers.Redis.Enabled && cfg.Publishers.Redis.Channel == "" {
		cfg.Publishers.Redis.Channel = "consensus"
	}

	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}
	if cfg.Server.HTTP.IngestRateLimit == 0 {
		cfg.Server.HTTP.IngestRateLimit = 50
	}
	if cfg.Server.HTTP.IngestBurst == 0 {
		cfg.Server.HTTP.IngestBurst = 100
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// Instrument returns the configuration of one instrument.
func (c *Config) Instrument(id string) (InstrumentConfig, bool) {
	for _, inst := range c.Instruments {
		if inst.ID == id {
			return inst, true
		}
	}
	return InstrumentConfig{}, false
}

// InstrumentIDs lists configured instrument ids in file order.
func (c *Config) InstrumentIDs() []string {
	ids := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		ids = append(ids, inst.ID)
	}
	return ids
}

// ExpoValue returns the configured exponent or the default.
func (ic InstrumentConfig) ExpoValue() int32 {
	if ic.Expo == nil {
		return DefaultExpo
	}
	return *ic.Expo
}

// GetString retrieves a string value from the feed configuration.
func (fc *FeedConfig) GetString(key, defaultValue string) string {
	if val, ok := fc.Config[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

// GetStringMap retrieves a string-to-string map from feed config.
func (fc *FeedConfig) GetStringMap(key string) map[string]string {
	val, ok := fc.Config[key]
	if !ok {
		return nil
	}
	raw, ok := val.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// GetInt retrieves an integer from feed config.
func (fc *FeedConfig) GetInt(key string, defaultValue int) int {
	if val, ok := fc.Config[key]; ok {
		if i, ok := val.(int); ok {
			return i
		}
	}
	return defaultValue
}

// GetFloat retrieves a float from feed config. Integers are accepted.
func (fc *FeedConfig) GetFloat(key string, defaultValue float64) float64 {
	switch v := fc.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return defaultValue
}

// GetDuration retrieves a duration string from feed config.
func (fc *FeedConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	s := fc.GetString(key, "")
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}
