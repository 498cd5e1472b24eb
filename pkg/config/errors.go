// Package config provides configuration loading and validation for the oracle node.
package config

import "errors"

// Configuration errors are fatal at startup. On hot reload they reject the new file.
var (
	// ErrInvalidDuration indicates a duration string that time.ParseDuration rejects.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrNoInstruments indicates that no instrument is configured.
	ErrNoInstruments = errors.New("at least one instrument must be configured")
	// ErrInstrumentIDRequired indicates an instrument without id.
	ErrInstrumentIDRequired = errors.New("instrument id is required")
	// ErrDuplicateInstrument indicates two instruments with the same id.
	ErrDuplicateInstrument = errors.New("duplicate instrument id")
	// ErrNoSourcesConfigured indicates an instrument without expected sources.
	ErrNoSourcesConfigured = errors.New("at least one expected source must be configured")
	// ErrInvalidQuorumMode indicates that the quorum mode is invalid.
	ErrInvalidQuorumMode = errors.New("invalid quorum_mode")
	// ErrInvalidQuorumOverride indicates a fixed threshold outside 1..N.
	ErrInvalidQuorumOverride = errors.New("quorum_override must be between 1 and the number of sources")
	// ErrInvalidAggregateMode indicates that the aggregation mode is invalid.
	ErrInvalidAggregateMode = errors.New("invalid aggregate_mode")
	// ErrInvalidTolerance indicates an outlier tolerance outside (0, 1).
	ErrInvalidTolerance = errors.New("outlier_tolerance must be between 0 and 1")
	// ErrInvalidWindow indicates a collection window that is not positive or exceeds the round interval.
	ErrInvalidWindow = errors.New("collection_window must be positive and not exceed round_interval")
	// ErrInvalidMaxAge indicates a non-positive max_age.
	ErrInvalidMaxAge = errors.New("max_age must be positive")
	// ErrInvalidExpo indicates an exponent outside -18..0.
	ErrInvalidExpo = errors.New("expo must be between -18 and 0")
	// ErrInvalidSignerType indicates that the signer type is invalid.
	ErrInvalidSignerType = errors.New("invalid signer type")
	// ErrSignerKeyRequired indicates that neither key_env nor key_file is set.
	ErrSignerKeyRequired = errors.New("either key_env or key_file must be specified")
	// ErrSignerKeyEnvNotSet indicates that the key environment variable is not set.
	ErrSignerKeyEnvNotSet = errors.New("signer key environment variable not set")
	// ErrKMSConfigIncomplete indicates missing KMS settings.
	ErrKMSConfigIncomplete = errors.New("kms region and ciphertext_file must be specified")
	// ErrTLSConfigIncomplete indicates that TLS config is incomplete.
	ErrTLSConfigIncomplete = errors.New("TLS cert and key must be specified when TLS is enabled")
	// ErrTLSCertNotFound indicates that the TLS cert file was not found.
	ErrTLSCertNotFound = errors.New("TLS cert file not found")
	// ErrTLSKeyNotFound indicates that the TLS key file was not found.
	ErrTLSKeyNotFound = errors.New("TLS key file not found")
	// ErrRedisAddrRequired indicates an enabled Redis publisher without address.
	ErrRedisAddrRequired = errors.New("redis addr must be specified")
	// ErrKafkaConfigIncomplete indicates an enabled Kafka publisher without brokers or topic.
	ErrKafkaConfigIncomplete = errors.New("kafka brokers and topic must be specified")
	// ErrFeedTypeRequired indicates that feed type is required.
	ErrFeedTypeRequired = errors.New("feed type is required")
	// ErrFeedNameRequired indicates that feed name is required.
	ErrFeedNameRequired = errors.New("feed name is required")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)
