// Package quotes holds the quote model and the per-instrument ingress buffer
// that feed adapters write into.
package quotes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one price observation from one source for one instrument.
//
// ObservedAt is set by the adapter and may be ahead of ReceivedAt when vendor
// clocks drift; nothing downstream assumes an ordering between the two.
// ReportedAt holds the adapter's original ObservedAt once ClampFuture has
// pulled it back.
type Quote struct {
	InstrumentID string          `json:"instrument_id"`
	SourceID     string          `json:"source_id"`
	Price        decimal.Decimal `json:"price"`
	ObservedAt   time.Time       `json:"observed_at"`
	ReceivedAt   time.Time       `json:"received_at"`
	ReportedAt   time.Time       `json:"reported_at,omitempty"`
	Sequence     uint64          `json:"sequence"`
}

// DefaultMaxSkew is how far ObservedAt may run ahead of the receive time
// before it is no longer trusted.
const DefaultMaxSkew = 2 * time.Second

// Age returns how old the observation is relative to ref. Negative when the
// source clock is ahead of ref.
func (q Quote) Age(ref time.Time) time.Duration {
	return ref.Sub(q.ObservedAt)
}

// ClampFuture returns q with ObservedAt set to ref when it lies more than
// maxSkew ahead of ref, keeping the original in ReportedAt. The second result
// reports whether the quote was clamped. A negative maxSkew disables the check.
func (q Quote) ClampFuture(ref time.Time, maxSkew time.Duration) (Quote, bool) {
	if maxSkew < 0 || q.ObservedAt.Sub(ref) <= maxSkew {
		return q, false
	}
	q.ReportedAt = q.ObservedAt
	q.ObservedAt = ref
	return q, true
}
