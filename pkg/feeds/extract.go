package feeds

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Magnitudes separating unix seconds, milliseconds, microseconds and nanoseconds.
const (
	millisThreshold = 1e12
	microsThreshold = 1e15
	nanosThreshold  = 1e18
)

// Extractor pulls price, timestamp, and symbol fields out of JSON documents
// using gjson paths.
type Extractor struct {
	PricePath  string
	TimePath   string // optional; receive time is used when empty
	SymbolPath string // stream feeds only
}

func newExtractor(raw map[string]interface{}) (Extractor, error) {
	e := Extractor{
		PricePath:  stringOpt(raw, "price_path"),
		TimePath:   stringOpt(raw, "time_path"),
		SymbolPath: stringOpt(raw, "symbol_path"),
	}
	if e.PricePath == "" {
		return Extractor{}, ErrPricePathRequired
	}
	return e, nil
}

// Price extracts a decimal price.
func (e Extractor) Price(doc []byte) (decimal.Decimal, error) {
	res := gjson.GetBytes(doc, e.PricePath)
	if !res.Exists() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceNotFound, e.PricePath)
	}
	price, err := decimal.NewFromString(res.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", res.String(), err)
	}
	return price, nil
}

// ObservedAt extracts the upstream timestamp, falling back to now.
func (e Extractor) ObservedAt(doc []byte, now time.Time) (time.Time, error) {
	if e.TimePath == "" {
		return now, nil
	}
	res := gjson.GetBytes(doc, e.TimePath)
	if !res.Exists() {
		return now, nil
	}
	return parseTimestamp(res)
}

// Symbol extracts the upstream symbol of a stream message.
func (e Extractor) Symbol(doc []byte) string {
	return gjson.GetBytes(doc, e.SymbolPath).String()
}

// parseTimestamp accepts RFC3339 strings and unix seconds, milliseconds,
// microseconds or nanoseconds, told apart by magnitude.
func parseTimestamp(res gjson.Result) (time.Time, error) {
	switch res.Type {
	case gjson.Number:
		return fromUnix(res.Float()), nil
	case gjson.String:
		s := res.String()
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f), nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, res.Raw)
	}
}

func fromUnix(v float64) time.Time {
	switch {
	case v >= nanosThreshold:
		return time.Unix(0, int64(v)).UTC()
	case v >= microsThreshold:
		return time.UnixMicro(int64(v)).UTC()
	case v >= millisThreshold:
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func stringOpt(raw map[string]interface{}, key string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}
