package attestation

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// payloadVersion is bumped whenever the signed field set changes.
const payloadVersion = 2

// signedFields is the exact set of fields covered by the signature. Field
// order is fixed by the struct, timestamps are Unix milliseconds and decimals
// are strings, so the encoding is stable across processes.
type signedFields struct {
	Version          int         `json:"v"`
	InstrumentID     string      `json:"instrument_id"`
	RoundID          uint64      `json:"round_id"`
	Price            string      `json:"price"`
	ScaledPrice      string      `json:"scaled_price"`
	Expo             int32       `json:"expo"`
	Contributors     []string    `json:"contributors"`
	Method           string      `json:"method"`
	Mode             string      `json:"mode"`
	SourceSetVersion uint64      `json:"source_set_version"`
	Stats            signedStats `json:"stats"`
	OpenedAt         int64       `json:"opened_at_ms"`
	PublishedAt      int64       `json:"published_at_ms"`
	Signer           string      `json:"signer,omitempty"`
}

type signedStats struct {
	Expected   int    `json:"expected"`
	Collected  int    `json:"collected"`
	Fresh      int    `json:"fresh"`
	Stale      int    `json:"stale"`
	Outliers   int    `json:"outliers"`
	Skewed     int    `json:"skewed"`
	Used       int    `json:"used"`
	SpreadBps  string `json:"spread_bps"`
	Confidence string `json:"confidence"`
}

// Payload returns the canonical bytes that were (or will be) signed for c.
func (c ConsensusPrice) Payload() ([]byte, error) {
	data, err := json.Marshal(signedFields{
		Version:          payloadVersion,
		InstrumentID:     c.InstrumentID,
		RoundID:          c.RoundID,
		Price:            c.Price.String(),
		ScaledPrice:      c.ScaledPrice,
		Expo:             c.Expo,
		Contributors:     c.ContributorSources,
		Method:           c.Method,
		Mode:             c.Mode,
		SourceSetVersion: c.SourceSetVersion,
		Stats: signedStats{
			Expected:   c.Stats.Expected,
			Collected:  c.Stats.Collected,
			Fresh:      c.Stats.Fresh,
			Stale:      c.Stats.Stale,
			Outliers:   c.Stats.Outliers,
			Skewed:     c.Stats.Skewed,
			Used:       c.Stats.Used,
			SpreadBps:  c.Stats.SpreadBps.String(),
			Confidence: c.Stats.Confidence.String(),
		},
		OpenedAt:         c.OpenedAt.UnixMilli(),
		PublishedAt:      c.PublishedAt.UnixMilli(),
		Signer:           c.Signer,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Scale converts price to an integer with the given decimal exponent,
// rounding half to even. Scale(1.234567891, -8) == "123456789".
func Scale(price decimal.Decimal, expo int32) string {
	return price.Shift(-expo).RoundBank(0).String()
}
