// Package filter drops stale and anomalous quotes from a round's collected set.
package filter

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/cfd-oracle/pkg/aggregator"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

// Reason labels why a quote was excluded.
type Reason string

const (
	// ReasonStale marks a quote older than MaxAge at the reference time.
	ReasonStale Reason = "stale"
	// ReasonOutlier marks a quote too far from the median of the fresh set.
	ReasonOutlier Reason = "outlier"
)

// DefaultTolerance is the relative deviation from the median above which a quote is an outlier.
var DefaultTolerance = decimal.RequireFromString("0.015")

// MinOutlierQuotes is the smallest fresh set on which the outlier rule is applied.
const MinOutlierQuotes = 3

// Filter applies the freshness rule followed by a single outlier pass.
type Filter struct {
	MaxAge    time.Duration
	Tolerance decimal.Decimal
	MaxSkew   time.Duration // allowed lead of ObservedAt over ReceivedAt; negative disables clamping
}

// Rejection is an excluded quote with its reason.
type Rejection struct {
	Quote     quotes.Quote
	Reason    Reason
	Deviation decimal.Decimal // relative distance from the median, outliers only
}

// Result is the outcome of Apply.
type Result struct {
	Accepted []quotes.Quote // ordered by price, then source id
	Rejected []Rejection
	Stale    int
	Outliers int
	Skewed   int             // quotes whose ObservedAt was clamped to their receive time
	Median   decimal.Decimal // median of the fresh set, zero when the outlier rule was skipped
}

// Fresh returns the number of quotes that passed the freshness rule.
func (r Result) Fresh() int {
	return len(r.Accepted) + r.Outliers
}

// New creates a filter. A zero tolerance falls back to DefaultTolerance and
// MaxSkew starts at quotes.DefaultMaxSkew.
func New(maxAge time.Duration, tolerance decimal.Decimal) *Filter {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return &Filter{
		MaxAge:    maxAge,
		Tolerance: tolerance,
		MaxSkew:   quotes.DefaultMaxSkew,
	}
}

// Apply filters collected against the reference time ref. The input is not modified.
//
// A quote whose ObservedAt leads its ReceivedAt by at most MaxSkew keeps its
// timestamp and may have a negative age. A larger lead is not trusted: the
// quote is aged from ReceivedAt instead, so a source that stops reporting
// still goes stale. The outlier rule runs exactly once, against the median of the fresh set, and
// only when at least MinOutlierQuotes fresh quotes remain.
func (f *Filter) Apply(collected []quotes.Quote, ref time.Time) Result {
	var res Result

	fresh := make([]quotes.Quote, 0, len(collected))
	for _, q := range collected {
		anchor := q.ReceivedAt
		if anchor.IsZero() {
			anchor = ref
		}
		if clamped, ok := q.ClampFuture(anchor, f.MaxSkew); ok {
			q = clamped
			res.Skewed++
		}
		if f.MaxAge > 0 && q.Age(ref) > f.MaxAge {
			res.Rejected = append(res.Rejected, Rejection{Quote: q, Reason: ReasonStale})
			res.Stale++
			continue
		}
		fresh = append(fresh, q)
	}

	sorted := aggregator.SortQuotes(fresh)
	if len(sorted) < MinOutlierQuotes {
		res.Accepted = sorted
		return res
	}

	median := aggregator.Median(sorted)
	res.Median = median
	res.Accepted = make([]quotes.Quote, 0, len(sorted))
	for _, q := range sorted {
		deviation := q.Price.Sub(median).Abs().Div(median)
		if deviation.GreaterThan(f.Tolerance) {
			res.Rejected = append(res.Rejected, Rejection{Quote: q, Reason: ReasonOutlier, Deviation: deviation})
			res.Outliers++
			continue
		}
		res.Accepted = append(res.Accepted, q)
	}
	return res
}
