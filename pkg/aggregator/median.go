package aggregator

import (
	"fmt"
	"time"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

// MedianAggregator aggregates prices using the median.
type MedianAggregator struct {
	logger *logging.Logger
}

// Ensure MedianAggregator implements Aggregator interface.
var _ Aggregator = (*MedianAggregator)(nil)

// NewMedianAggregator creates a new median aggregator.
func NewMedianAggregator(logger *logging.Logger) *MedianAggregator {
	return &MedianAggregator{
		logger: logger,
	}
}

// Aggregate implements Aggregator.
func (a *MedianAggregator) Aggregate(accepted []quotes.Quote) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(MethodMedian, time.Since(start))
	}()

	if len(accepted) == 0 {
		return Result{}, fmt.Errorf("%w", ErrNoQuotes)
	}
	sorted := SortQuotes(accepted)
	return newResult(sorted, Median(sorted), MethodMedian, len(sorted)), nil
}
