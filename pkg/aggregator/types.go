package aggregator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

var (
	two         = decimal.NewFromInt(2)
	basisPoints = decimal.NewFromInt(10000)
)

// Result is the outcome of one aggregation.
type Result struct {
	Price     decimal.Decimal
	Method    string
	Used      int             // quotes that contributed after any trimming
	Min       decimal.Decimal // lowest accepted price
	Max       decimal.Decimal // highest accepted price
	SpreadBps decimal.Decimal // (Max-Min)/Price in basis points
}

// SortQuotes returns a copy of qs ordered by price, then source id.
func SortQuotes(qs []quotes.Quote) []quotes.Quote {
	sorted := make([]quotes.Quote, len(qs))
	copy(sorted, qs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Price.Cmp(sorted[j].Price); c != 0 {
			return c < 0
		}
		return sorted[i].SourceID < sorted[j].SourceID
	})
	return sorted
}

// Median returns the median price of quotes already ordered by SortQuotes.
// An even count averages the two middle prices.
func Median(sorted []quotes.Quote) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 0 {
		return sorted[n/2-1].Price.Add(sorted[n/2].Price).Div(two)
	}
	return sorted[n/2].Price
}

// Mean returns the arithmetic mean of the prices.
func Mean(qs []quotes.Quote) decimal.Decimal {
	if len(qs) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, q := range qs {
		sum = sum.Add(q.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(qs))))
}

func newResult(sorted []quotes.Quote, price decimal.Decimal, method string, used int) Result {
	lo := sorted[0].Price
	hi := sorted[len(sorted)-1].Price
	spread := decimal.Zero
	if price.IsPositive() {
		spread = hi.Sub(lo).Div(price).Mul(basisPoints)
	}
	return Result{
		Price:     price,
		Method:    method,
		Used:      used,
		Min:       lo,
		Max:       hi,
		SpreadBps: spread,
	}
}
