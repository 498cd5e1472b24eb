package quotes

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
)

// Buffer keeps the latest quote per (instrument, source).
//
// Each slot is an atomic pointer swapped with compare-and-swap, so writers
// never hold a lock while a reader snapshots. The per-instrument mutex only
// guards creating a slot for a source seen for the first time.
type Buffer struct {
	mu          sync.RWMutex
	instruments map[string]*instrumentSlots
	now         func() time.Time
	logger      *logging.Logger
}

type instrumentSlots struct {
	mu     sync.RWMutex
	slots  map[string]*atomic.Pointer[Quote]
	notify chan struct{}
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock overrides the clock used to stamp ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

// NewBuffer creates a buffer accepting quotes for the given instruments.
func NewBuffer(instruments []string, logger *logging.Logger, opts ...Option) *Buffer {
	b := &Buffer{
		instruments: make(map[string]*instrumentSlots, len(instruments)),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, id := range instruments {
		b.AddInstrument(id)
	}
	return b
}

// AddInstrument starts accepting quotes for id. Adding an existing instrument is a no-op.
func (b *Buffer) AddInstrument(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.instruments[id]; ok {
		return
	}
	b.instruments[id] = &instrumentSlots{
		slots:  make(map[string]*atomic.Pointer[Quote]),
		notify: make(chan struct{}, 1),
	}
}

func (b *Buffer) instrument(id string) (*instrumentSlots, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	inst, ok := b.instruments[id]
	return inst, ok
}

// Ingest stores q if its sequence is newer than the stored quote for the same
// source. ReceivedAt is overwritten with the buffer clock.
func (b *Buffer) Ingest(q Quote) error {
	if err := b.ingest(q); err != nil {
		metrics.RecordIngestError(q.InstrumentID, Reason(err))
		b.logger.Debug("Quote refused",
			"instrument", q.InstrumentID,
			"source", q.SourceID,
			"sequence", q.Sequence,
			"error", err)
		return err
	}
	metrics.RecordIngest(q.InstrumentID, q.SourceID)
	return nil
}

func (b *Buffer) ingest(q Quote) error {
	if q.SourceID == "" {
		return ErrMissingSource
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("%w: %s from %s", ErrInvalidPrice, q.Price.String(), q.SourceID)
	}
	inst, ok := b.instrument(q.InstrumentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, q.InstrumentID)
	}

	q.ReceivedAt = b.now()
	slot := inst.slot(q.SourceID)
	for {
		cur := slot.Load()
		if cur != nil && q.Sequence <= cur.Sequence {
			return fmt.Errorf("%w: %s sequence %d <= %d", ErrStaleSequence, q.SourceID, q.Sequence, cur.Sequence)
		}
		if slot.CompareAndSwap(cur, &q) {
			break
		}
	}

	select {
	case inst.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *instrumentSlots) slot(source string) *atomic.Pointer[Quote] {
	s.mu.RLock()
	slot, ok := s.slots[source]
	s.mu.RUnlock()
	if ok {
		return slot
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok = s.slots[source]; ok {
		return slot
	}
	slot = &atomic.Pointer[Quote]{}
	s.slots[source] = slot
	return slot
}

// Snapshot copies the latest quote of every source for an instrument.
// The returned map is owned by the caller.
func (b *Buffer) Snapshot(instrumentID string) (map[string]Quote, error) {
	inst, ok := b.instrument(instrumentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()

	out := make(map[string]Quote, len(inst.slots))
	for source, slot := range inst.slots {
		if q := slot.Load(); q != nil {
			out[source] = *q
		}
	}
	return out, nil
}

// Latest returns the stored quote for one source.
func (b *Buffer) Latest(instrumentID, sourceID string) (Quote, bool) {
	inst, ok := b.instrument(instrumentID)
	if !ok {
		return Quote{}, false
	}
	inst.mu.RLock()
	slot, ok := inst.slots[sourceID]
	inst.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	q := slot.Load()
	if q == nil {
		return Quote{}, false
	}
	return *q, true
}

// Notify returns a channel signalled (coalesced) after every accepted quote
// for the instrument. Only one reader per instrument is expected.
func (b *Buffer) Notify(instrumentID string) (<-chan struct{}, error) {
	inst, ok := b.instrument(instrumentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	return inst.notify, nil
}

// Instruments lists the configured instruments in sorted order.
func (b *Buffer) Instruments() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.instruments))
	for id := range b.instruments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
