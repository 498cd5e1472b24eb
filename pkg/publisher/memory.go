package publisher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
)

// DefaultRetention is the number of rounds kept per instrument by MemoryStore.
const DefaultRetention = 1024

// MemoryStore keeps the most recent published rounds per instrument.
type MemoryStore struct {
	mu        sync.RWMutex
	retention int
	byInstr   map[string]*instrumentRounds
}

type instrumentRounds struct {
	rounds map[uint64]attestation.ConsensusPrice
	order  []uint64 // ascending publish order
}

var (
	_ Publisher = (*MemoryStore)(nil)
	_ Store     = (*MemoryStore)(nil)
)

// NewMemoryStore creates a store retaining up to retention rounds per instrument.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		retention: retention,
		byInstr:   make(map[string]*instrumentRounds),
	}
}

// Name implements Publisher.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Publish implements Publisher.
func (s *MemoryStore) Publish(_ context.Context, price attestation.ConsensusPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ir, ok := s.byInstr[price.InstrumentID]
	if !ok {
		ir = &instrumentRounds{rounds: make(map[uint64]attestation.ConsensusPrice)}
		s.byInstr[price.InstrumentID] = ir
	}
	if _, dup := ir.rounds[price.RoundID]; !dup {
		ir.order = append(ir.order, price.RoundID)
	}
	ir.rounds[price.RoundID] = price

	for len(ir.order) > s.retention {
		delete(ir.rounds, ir.order[0])
		ir.order = ir.order[1:]
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, instrumentID string, roundID uint64) (attestation.ConsensusPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ir, ok := s.byInstr[instrumentID]; ok {
		if p, ok := ir.rounds[roundID]; ok {
			return p, nil
		}
	}
	return attestation.ConsensusPrice{}, fmt.Errorf("%w: %s round %d", ErrNotFound, instrumentID, roundID)
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context, instrumentID string) (attestation.ConsensusPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ir, ok := s.byInstr[instrumentID]; ok && len(ir.order) > 0 {
		return ir.rounds[ir.order[len(ir.order)-1]], nil
	}
	return attestation.ConsensusPrice{}, fmt.Errorf("%w: %s", ErrNotFound, instrumentID)
}

// LatestAll returns the latest price of every instrument, ordered by instrument id.
func (s *MemoryStore) LatestAll() []attestation.ConsensusPrice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]attestation.ConsensusPrice, 0, len(s.byInstr))
	for _, ir := range s.byInstr {
		if len(ir.order) > 0 {
			out = append(out, ir.rounds[ir.order[len(ir.order)-1]])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstrumentID < out[j].InstrumentID
	})
	return out
}
