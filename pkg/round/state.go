// Package round runs the per-instrument aggregation cycle: collect quotes,
// filter, check quorum, aggregate, attest and publish or abort.
package round

import (
	"fmt"
	"time"

	"github.com/StrathCole/cfd-oracle/pkg/consensus"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

// State is a round lifecycle state.
type State string

// Round states.
const (
	StateCollecting  State = "COLLECTING"
	StateFiltering   State = "FILTERING"
	StateAggregating State = "AGGREGATING"
	StateAttesting   State = "ATTESTING"
	StatePublished   State = "PUBLISHED"
	StateAborted     State = "ABORTED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateAborted
}

// AbortReason explains why a round produced no price.
type AbortReason string

// Abort reasons.
const (
	AbortNone               AbortReason = ""
	AbortInsufficientQuorum AbortReason = "insufficient_quorum"
	AbortAllQuotesStale     AbortReason = "all_quotes_stale"
	AbortSignerTimeout      AbortReason = "signer_timeout"
	AbortSignerUnavailable  AbortReason = "signer_unavailable"
	AbortCancelled          AbortReason = "cancelled"
	AbortInternal           AbortReason = "internal"
)

var transitions = map[State][]State{
	StateCollecting:  {StateFiltering, StateAborted},
	StateFiltering:   {StateAggregating, StateAborted},
	StateAggregating: {StateAttesting, StateAborted},
	StateAttesting:   {StatePublished, StateAborted},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Round is one aggregation cycle for one instrument. It is owned by a single
// runner goroutine and is not safe for concurrent use.
type Round struct {
	InstrumentID string
	ID           uint64
	OpenedAt     time.Time
	Deadline     time.Time
	Sources      consensus.SourceSet
	Policy       consensus.Policy
	Collected    map[string]quotes.Quote

	state  State
	reason AbortReason
}

// New opens a round in COLLECTING.
func New(instrumentID string, id uint64, openedAt time.Time, window time.Duration, set consensus.SourceSet, policy consensus.Policy) *Round {
	return &Round{
		InstrumentID: instrumentID,
		ID:           id,
		OpenedAt:     openedAt,
		Deadline:     openedAt.Add(window),
		Sources:      set,
		Policy:       policy,
		Collected:    make(map[string]quotes.Quote, len(set.Sources)),
		state:        StateCollecting,
	}
}

// State returns the current state.
func (r *Round) State() State {
	return r.state
}

// Reason returns the abort reason, empty unless ABORTED.
func (r *Round) Reason() AbortReason {
	return r.reason
}

// Transition moves the round to the next state.
func (r *Round) Transition(to State) error {
	if !CanTransition(r.state, to) {
		return fmt.Errorf("%w: %s -> %s (round %s/%d)", ErrInvalidTransition, r.state, to, r.InstrumentID, r.ID)
	}
	r.state = to
	return nil
}

// Abort moves the round to ABORTED with reason. Collected quotes are dropped.
func (r *Round) Abort(reason AbortReason) error {
	if err := r.Transition(StateAborted); err != nil {
		return err
	}
	r.reason = reason
	r.Collected = nil
	return nil
}

// Collect offers a quote to the round. It is stored when the round is still
// collecting, the source is expected and the quote is newer than what the
// round already holds for that source.
func (r *Round) Collect(q quotes.Quote) bool {
	if r.state != StateCollecting || !r.Sources.Contains(q.SourceID) {
		return false
	}
	if cur, ok := r.Collected[q.SourceID]; ok && q.Sequence <= cur.Sequence {
		return false
	}
	r.Collected[q.SourceID] = q
	return true
}

// Complete reports whether every expected source has delivered a quote
// received after the round opened.
func (r *Round) Complete() bool {
	if len(r.Sources.Sources) == 0 {
		return false
	}
	for _, src := range r.Sources.Sources {
		q, ok := r.Collected[src]
		if !ok || q.ReceivedAt.Before(r.OpenedAt) {
			return false
		}
	}
	return true
}

// Quotes returns the collected quotes in source order.
func (r *Round) Quotes() []quotes.Quote {
	out := make([]quotes.Quote, 0, len(r.Collected))
	for _, src := range r.Sources.Sources {
		if q, ok := r.Collected[src]; ok {
			out = append(out, q)
		}
	}
	return out
}
