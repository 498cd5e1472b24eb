package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if len(cfg.Instruments) == 0 {
		return ErrNoInstruments
	}
	seen := make(map[string]struct{}, len(cfg.Instruments))
	for i := range cfg.Instruments {
		inst := &cfg.Instruments[i]
		if err := validateInstrumentConfig(inst); err != nil {
			return fmt.Errorf("instrument %d (%s): %w", i, inst.ID, err)
		}
		if _, dup := seen[inst.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateInstrument, inst.ID)
		}
		seen[inst.ID] = struct{}{}
	}

	if err := validateSignerConfig(&cfg.Signer); err != nil {
		return fmt.Errorf("signer config: %w", err)
	}

	for i := range cfg.Feeds {
		feed := &cfg.Feeds[i]
		if err := validateFeedConfig(feed); err != nil {
			return fmt.Errorf("feed %d (%s.%s): %w", i, feed.Type, feed.Name, err)
		}
	}

	if err := validatePublishersConfig(&cfg.Publishers); err != nil {
		return fmt.Errorf("publishers config: %w", err)
	}

	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateInstrumentConfig(cfg *InstrumentConfig) error {
	if cfg.ID == "" {
		return ErrInstrumentIDRequired
	}
	if len(cfg.Sources) == 0 {
		return ErrNoSourcesConfigured
	}

	mode := strings.ToLower(cfg.QuorumMode)
	switch mode {
	case "local", "cfd_only", "cfd-only", "quorum":
	default:
		return fmt.Errorf("%w: %s (must be 'local' or 'quorum')", ErrInvalidQuorumMode, cfg.QuorumMode)
	}
	if cfg.QuorumOverride < 0 || cfg.QuorumOverride > len(cfg.Sources) {
		return fmt.Errorf("%w: %d", ErrInvalidQuorumOverride, cfg.QuorumOverride)
	}

	switch strings.ToLower(cfg.AggregateMode) {
	case "robust", "median", "mean", "adaptive":
	default:
		return fmt.Errorf("%w: %s (must be 'robust', 'median', 'mean', or 'adaptive')", ErrInvalidAggregateMode, cfg.AggregateMode)
	}

	if cfg.OutlierTolerance <= 0 || cfg.OutlierTolerance >= 1 {
		return fmt.Errorf("%w: %v", ErrInvalidTolerance, cfg.OutlierTolerance)
	}
	if cfg.MaxAge <= 0 {
		return ErrInvalidMaxAge
	}
	if cfg.CollectionWindow <= 0 || cfg.CollectionWindow > cfg.RoundInterval {
		return fmt.Errorf("%w: window %s, interval %s", ErrInvalidWindow,
			cfg.CollectionWindow.ToDuration(), cfg.RoundInterval.ToDuration())
	}
	if expo := cfg.ExpoValue(); expo < -18 || expo > 0 {
		return fmt.Errorf("%w: %d", ErrInvalidExpo, expo)
	}
	return nil
}

func validateSignerConfig(cfg *SignerConfig) error {
	switch strings.ToLower(cfg.Type) {
	case "local":
		if cfg.KeyEnv == "" && cfg.KeyFile == "" {
			return ErrSignerKeyRequired
		}
		if cfg.KeyEnv != "" && os.Getenv(cfg.KeyEnv) == "" {
			return fmt.Errorf("%w: %s", ErrSignerKeyEnvNotSet, cfg.KeyEnv)
		}
	case "kms":
		if cfg.KMS.Region == "" || cfg.KMS.CiphertextFile == "" {
			return ErrKMSConfigIncomplete
		}
	default:
		return fmt.Errorf("%w: %s (must be 'local' or 'kms')", ErrInvalidSignerType, cfg.Type)
	}
	return nil
}

func validateFeedConfig(cfg *FeedConfig) error {
	if cfg.Type == "" {
		return ErrFeedTypeRequired
	}
	if cfg.Name == "" {
		return ErrFeedNameRequired
	}
	return nil
}

func validatePublishersConfig(cfg *PublishersConfig) error {
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return ErrRedisAddrRequired
	}
	if cfg.Kafka.Enabled && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		return ErrKafkaConfigIncomplete
	}
	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.Cert == "" || cfg.HTTP.TLS.Key == "" {
			return ErrTLSConfigIncomplete
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Cert); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSCertNotFound, cfg.HTTP.TLS.Cert)
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Key); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSKeyNotFound, cfg.HTTP.TLS.Key)
		}
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if strings.ToLower(cfg.Level) == l {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	format := strings.ToLower(cfg.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	return nil
}
