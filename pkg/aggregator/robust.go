package aggregator

import (
	"fmt"
	"time"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

// RobustAggregator takes the mean after dropping the single lowest and highest
// quote once the sample reaches trimMin, and the median below that.
type RobustAggregator struct {
	logger  *logging.Logger
	trimMin int
}

// Ensure RobustAggregator implements Aggregator interface.
var _ Aggregator = (*RobustAggregator)(nil)

// NewRobustAggregator creates a robust aggregator. trimMin below 3 falls back to DefaultTrimMinQuotes.
func NewRobustAggregator(logger *logging.Logger, trimMin int) *RobustAggregator {
	if trimMin < 3 {
		trimMin = DefaultTrimMinQuotes
	}
	return &RobustAggregator{
		logger:  logger,
		trimMin: trimMin,
	}
}

// Aggregate implements Aggregator.
func (a *RobustAggregator) Aggregate(accepted []quotes.Quote) (Result, error) {
	if len(accepted) == 0 {
		return Result{}, fmt.Errorf("%w", ErrNoQuotes)
	}
	start := time.Now()

	sorted := SortQuotes(accepted)
	var res Result
	if len(sorted) >= a.trimMin {
		trimmed := sorted[1 : len(sorted)-1]
		res = newResult(sorted, Mean(trimmed), MethodTrimmedMean, len(trimmed))
	} else {
		res = newResult(sorted, Median(sorted), MethodMedian, len(sorted))
	}

	metrics.RecordAggregation(res.Method, time.Since(start))
	a.logger.Debug("Aggregated quotes",
		"method", res.Method,
		"count", len(sorted),
		"price", res.Price.String())
	return res, nil
}
