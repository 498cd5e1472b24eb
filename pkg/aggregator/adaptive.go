package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

// AdaptiveAggregator uses a statistical threshold based on the spread of the
// accepted set: quotes further than k standard deviations from the median are
// ignored and the rest are averaged.
type AdaptiveAggregator struct {
	logger      *logging.Logger
	sensitivity decimal.Decimal // k constant (e.g., 1.5-2.0)
}

// Ensure AdaptiveAggregator implements Aggregator interface.
var _ Aggregator = (*AdaptiveAggregator)(nil)

// NewAdaptiveAggregator creates an adaptive aggregator. Sensitivity <= 0 defaults to 1.5.
func NewAdaptiveAggregator(logger *logging.Logger, sensitivity float64) *AdaptiveAggregator {
	if sensitivity <= 0 {
		sensitivity = 1.5
	}
	return &AdaptiveAggregator{
		logger:      logger,
		sensitivity: decimal.NewFromFloat(sensitivity),
	}
}

// Aggregate implements Aggregator.
func (a *AdaptiveAggregator) Aggregate(accepted []quotes.Quote) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(MethodAdaptive, time.Since(start))
	}()

	if len(accepted) == 0 {
		return Result{}, fmt.Errorf("%w", ErrNoQuotes)
	}
	sorted := SortQuotes(accepted)
	if len(sorted) < 3 {
		return newResult(sorted, Median(sorted), MethodMedian, len(sorted)), nil
	}

	median := Median(sorted)
	threshold := a.sensitivity.Mul(stdDev(sorted, median))

	kept := make([]quotes.Quote, 0, len(sorted))
	for _, q := range sorted {
		deviation := q.Price.Sub(median).Abs()
		if deviation.GreaterThan(threshold) {
			a.logger.Debug("Ignoring quote outside adaptive band",
				"source", q.SourceID,
				"price", q.Price.String(),
				"median", median.String(),
				"threshold", threshold.String())
			continue
		}
		kept = append(kept, q)
	}
	if len(kept) == 0 {
		kept = sorted
	}

	return newResult(sorted, Mean(kept), MethodAdaptive, len(kept)), nil
}

// stdDev computes the population standard deviation around the median.
func stdDev(sorted []quotes.Quote, median decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, q := range sorted {
		d := q.Price.Sub(median)
		sum = sum.Add(d.Mul(d))
	}
	variance := sum.Div(decimal.NewFromInt(int64(len(sorted))))
	return sqrt(variance)
}

// sqrt runs a fixed number of Newton steps in decimal arithmetic.
func sqrt(x decimal.Decimal) decimal.Decimal {
	if !x.IsPositive() {
		return decimal.Zero
	}
	z := x
	if z.LessThan(decimal.NewFromInt(1)) {
		z = decimal.NewFromInt(1)
	}
	for i := 0; i < 40; i++ {
		z = z.Add(x.Div(z)).Div(two).Round(24)
	}
	return z
}
