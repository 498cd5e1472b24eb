package aggregator

import (
	"fmt"
	"time"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

// MeanAggregator aggregates prices using simple arithmetic mean
type MeanAggregator struct {
	logger *logging.Logger
}

// Ensure MeanAggregator implements Aggregator interface
var _ Aggregator = (*MeanAggregator)(nil)

// NewMeanAggregator creates a new mean aggregator
func NewMeanAggregator(logger *logging.Logger) *MeanAggregator {
	return &MeanAggregator{
		logger: logger,
	}
}

// Aggregate implements Aggregator. Summation runs over the sorted set so the
// rounded quotient does not depend on arrival order.
func (a *MeanAggregator) Aggregate(accepted []quotes.Quote) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(MethodMean, time.Since(start))
	}()

	if len(accepted) == 0 {
		return Result{}, fmt.Errorf("%w", ErrNoQuotes)
	}
	sorted := SortQuotes(accepted)
	return newResult(sorted, Mean(sorted), MethodMean, len(sorted)), nil
}
