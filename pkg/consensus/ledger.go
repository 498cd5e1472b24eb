package consensus

import (
	"sort"
	"sync"
	"time"
)

// Contribution is one operator's tally for an instrument.
type Contribution struct {
	Instrument  string    `json:"instrument"`
	Source      string    `json:"source"`
	Rounds      uint64    `json:"rounds"`
	LastRoundID uint64    `json:"last_round_id"`
	LastAt      time.Time `json:"last_at"`
}

// Ledger counts how often each operator's quote made it into a published price.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Contribution
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[string]map[string]*Contribution),
	}
}

// Record credits every contributor of a published round.
func (l *Ledger) Record(instrument string, roundID uint64, contributors []string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bySource, ok := l.entries[instrument]
	if !ok {
		bySource = make(map[string]*Contribution)
		l.entries[instrument] = bySource
	}
	for _, src := range contributors {
		c, ok := bySource[src]
		if !ok {
			c = &Contribution{Instrument: instrument, Source: src}
			bySource[src] = c
		}
		c.Rounds++
		c.LastRoundID = roundID
		c.LastAt = at
	}
}

// Entries returns a copy of all tallies ordered by instrument, then source.
func (l *Ledger) Entries() []Contribution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Contribution, 0)
	for _, bySource := range l.entries {
		for _, c := range bySource {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instrument != out[j].Instrument {
			return out[i].Instrument < out[j].Instrument
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// Get returns the tally for one operator.
func (l *Ledger) Get(instrument, source string) (Contribution, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.entries[instrument][source]
	if !ok {
		return Contribution{}, false
	}
	return *c, true
}
