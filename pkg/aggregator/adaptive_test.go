package aggregator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
)

func TestAdaptiveAggregator_SingleSource(t *testing.T) {
	agg := NewAdaptiveAggregator(logging.NewNoopLogger(), 1.5)

	res, err := agg.Aggregate(mkQuotes(map[string]string{"ibkr": "0.00012"}))
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(decimal.RequireFromString("0.00012")))
	assert.Equal(t, MethodMedian, res.Method)
}

func TestAdaptiveAggregator_NoOutliers(t *testing.T) {
	agg := NewAdaptiveAggregator(logging.NewNoopLogger(), 1.5)

	res, err := agg.Aggregate(mkQuotes(map[string]string{
		"binance":  "0.000120",
		"kraken":   "0.000121",
		"coinbase": "0.000119",
	}))
	require.NoError(t, err)

	// With no outliers, should average all three prices
	assert.True(t, res.Price.Equal(decimal.RequireFromString("0.00012")), "got %s", res.Price)
	assert.Equal(t, 3, res.Used)
	assert.Equal(t, MethodAdaptive, res.Method)
}

func TestAdaptiveAggregator_WithOutlier(t *testing.T) {
	agg := NewAdaptiveAggregator(logging.NewNoopLogger(), 1.5)

	res, err := agg.Aggregate(mkQuotes(map[string]string{
		"a": "100",
		"b": "100",
		"c": "100",
		"d": "100",
		"e": "130",
	}))
	require.NoError(t, err)

	// stddev around median 100 is ~13.4, band ~20.1, so 130 is ignored
	assert.Equal(t, 4, res.Used)
	assert.True(t, res.Price.Equal(decimal.NewFromInt(100)), "got %s", res.Price)
	assert.True(t, res.Max.Equal(decimal.NewFromInt(130)))
}

func TestAdaptiveAggregator_DefaultSensitivity(t *testing.T) {
	agg := NewAdaptiveAggregator(logging.NewNoopLogger(), 0)
	assert.True(t, agg.sensitivity.Equal(decimal.RequireFromString("1.5")))
}

func TestSqrt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"144", "12"},
		{"0.25", "0.5"},
		{"2", "1.41421356"},
		{"0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := sqrt(decimal.RequireFromString(tt.in)).Round(8)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
