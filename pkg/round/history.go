package round

import (
	"sync"
	"time"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
)

// DefaultHistorySize is the number of outcomes a runner remembers.
const DefaultHistorySize = 256

// Outcome is the terminal record of one round.
type Outcome struct {
	InstrumentID     string                      `json:"instrument_id"`
	RoundID          uint64                      `json:"round_id"`
	State            State                       `json:"state"`
	Reason           AbortReason                 `json:"reason,omitempty"`
	Error            string                      `json:"error,omitempty"`
	SourceSetVersion uint64                      `json:"source_set_version"`
	Expected         int                         `json:"expected"`
	Threshold        int                         `json:"threshold"`
	Collected        int                         `json:"collected"`
	Accepted         int                         `json:"accepted"`
	OpenedAt         time.Time                   `json:"opened_at"`
	ClosedAt         time.Time                   `json:"closed_at"`
	Price            *attestation.ConsensusPrice `json:"price,omitempty"`
}

// Duration is the time from open to terminal state.
func (o Outcome) Duration() time.Duration {
	return o.ClosedAt.Sub(o.OpenedAt)
}

// History is a fixed-size ring of recent outcomes.
type History struct {
	mu    sync.RWMutex
	items []Outcome
	next  int
	full  bool
}

// NewHistory creates a ring holding up to size outcomes.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{items: make([]Outcome, size)}
}

// Add appends an outcome, evicting the oldest when full.
func (h *History) Add(o Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[h.next] = o
	h.next = (h.next + 1) % len(h.items)
	if h.next == 0 {
		h.full = true
	}
}

// List returns outcomes oldest first.
func (h *History) List() []Outcome {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		out := make([]Outcome, h.next)
		copy(out, h.items[:h.next])
		return out
	}
	out := make([]Outcome, 0, len(h.items))
	out = append(out, h.items[h.next:]...)
	out = append(out, h.items[:h.next]...)
	return out
}
