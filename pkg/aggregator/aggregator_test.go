package aggregator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

func mkQuotes(prices map[string]string) []quotes.Quote {
	out := make([]quotes.Quote, 0, len(prices))
	for source, p := range prices {
		out = append(out, quotes.Quote{
			InstrumentID: "ES.CFD",
			SourceID:     source,
			Price:        decimal.RequireFromString(p),
			ObservedAt:   time.Unix(1700000000, 0),
		})
	}
	return out
}

func TestRobustAggregator_DeterministicUnderPermutation(t *testing.T) {
	agg := NewRobustAggregator(logging.NewNoopLogger(), DefaultTrimMinQuotes)
	set := mkQuotes(map[string]string{
		"a": "5001.25",
		"b": "5000.75",
		"c": "5002.00",
		"d": "4999.50",
		"e": "5001.25",
		"f": "5003.10",
		"g": "5000.00",
	})

	want, err := agg.Aggregate(set)
	require.NoError(t, err)
	assert.Equal(t, MethodTrimmedMean, want.Method)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		perm := make([]quotes.Quote, len(set))
		for j, k := range rng.Perm(len(set)) {
			perm[j] = set[k]
		}
		got, err := agg.Aggregate(perm)
		require.NoError(t, err)
		assert.Equal(t, want.Price.String(), got.Price.String(), "permutation %d", i)
		assert.Equal(t, want.Method, got.Method)
	}
}

func TestRobustAggregator_Rule(t *testing.T) {
	agg := NewRobustAggregator(logging.NewNoopLogger(), 0)

	tests := []struct {
		name       string
		prices     map[string]string
		wantPrice  string
		wantMethod string
		wantUsed   int
	}{
		{
			name:       "single quote",
			prices:     map[string]string{"a": "100"},
			wantPrice:  "100",
			wantMethod: MethodMedian,
			wantUsed:   1,
		},
		{
			name:       "even count averages middle pair",
			prices:     map[string]string{"a": "100", "b": "101", "c": "103", "d": "110"},
			wantPrice:  "102",
			wantMethod: MethodMedian,
			wantUsed:   4,
		},
		{
			name:       "outlier kept out of median",
			prices:     map[string]string{"a": "100.00", "b": "100.10", "c": "100.05"},
			wantPrice:  "100.05",
			wantMethod: MethodMedian,
			wantUsed:   3,
		},
		{
			name:       "five quotes trims extremes",
			prices:     map[string]string{"a": "90", "b": "100", "c": "101", "d": "102", "e": "200"},
			wantPrice:  "101",
			wantMethod: MethodTrimmedMean,
			wantUsed:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := agg.Aggregate(mkQuotes(tt.prices))
			require.NoError(t, err)
			assert.True(t, res.Price.Equal(decimal.RequireFromString(tt.wantPrice)), "got %s", res.Price)
			assert.Equal(t, tt.wantMethod, res.Method)
			assert.Equal(t, tt.wantUsed, res.Used)
		})
	}
}

func TestRobustAggregator_TiesBrokenBySource(t *testing.T) {
	agg := NewRobustAggregator(logging.NewNoopLogger(), DefaultTrimMinQuotes)
	set := mkQuotes(map[string]string{"z": "100", "a": "100", "m": "100", "b": "99", "y": "101"})

	sorted := SortQuotes(set)
	ids := make([]string, 0, len(sorted))
	for _, q := range sorted {
		ids = append(ids, q.SourceID)
	}
	assert.Equal(t, []string{"b", "a", "m", "z", "y"}, ids)

	res, err := agg.Aggregate(set)
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, res.Min.Equal(decimal.NewFromInt(99)))
	assert.True(t, res.Max.Equal(decimal.NewFromInt(101)))
	assert.True(t, res.SpreadBps.Equal(decimal.NewFromInt(200)))
}

func TestAggregators_EmptyInput(t *testing.T) {
	logger := logging.NewNoopLogger()
	for _, mode := range []string{ModeRobust, ModeMedian, ModeMean, ModeAdaptive} {
		t.Run(mode, func(t *testing.T) {
			agg, err := NewAggregator(mode, logger)
			require.NoError(t, err)
			_, err = agg.Aggregate(nil)
			assert.ErrorIs(t, err, ErrNoQuotes)
		})
	}
}

func TestNewAggregator_UnknownMode(t *testing.T) {
	_, err := NewAggregator("tvwap", logging.NewNoopLogger())
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestMeanAggregator(t *testing.T) {
	agg := NewMeanAggregator(logging.NewNoopLogger())
	res, err := agg.Aggregate(mkQuotes(map[string]string{"a": "100", "b": "101", "c": "105"}))
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(decimal.RequireFromString("102")))
	assert.Equal(t, MethodMean, res.Method)
}
