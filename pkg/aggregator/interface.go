// Package aggregator provides the price aggregation rules applied to a round's accepted quotes.
package aggregator

import (
	"fmt"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

const (
	// ModeRobust uses a trimmed mean for large samples and the median otherwise.
	ModeRobust = "robust"
	// ModeMedian always uses the median.
	ModeMedian = "median"
	// ModeMean uses the arithmetic mean.
	ModeMean = "mean"
	// ModeAdaptive drops quotes outside k standard deviations of the median, then averages.
	ModeAdaptive = "adaptive"
)

// Method names recorded on published prices.
const (
	MethodMedian      = "median"
	MethodTrimmedMean = "trimmed_mean"
	MethodMean        = "mean"
	MethodAdaptive    = "adaptive_mean"
)

// DefaultTrimMinQuotes is the sample size at which the robust rule switches to a trimmed mean.
const DefaultTrimMinQuotes = 5

// Aggregator computes one price from a set of accepted quotes. Implementations
// must return the same result for any ordering of the same multiset.
type Aggregator interface {
	Aggregate(accepted []quotes.Quote) (Result, error)
}

// Config holds optional tuning for NewAggregatorWithConfig.
type Config struct {
	TrimMinQuotes int     // robust: minimum count before trimming
	Sensitivity   float64 // adaptive: k constant (1.5 = strict, 2.0 = tolerant)
}

// NewAggregator creates an aggregator based on the configured mode.
func NewAggregator(mode string, logger *logging.Logger) (Aggregator, error) {
	return NewAggregatorWithConfig(mode, logger, Config{})
}

// NewAggregatorWithConfig creates an aggregator with optional tuning.
func NewAggregatorWithConfig(mode string, logger *logging.Logger, cfg Config) (Aggregator, error) {
	switch mode {
	case ModeRobust, "":
		return NewRobustAggregator(logger, cfg.TrimMinQuotes), nil
	case ModeMedian:
		return NewMedianAggregator(logger), nil
	case ModeMean:
		return NewMeanAggregator(logger), nil
	case ModeAdaptive:
		return NewAdaptiveAggregator(logger, cfg.Sensitivity), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: robust, median, mean, adaptive)", ErrUnknownMode, mode)
	}
}
