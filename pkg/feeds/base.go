package feeds

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
)

// BaseAdapter provides common functionality for all adapters
type BaseAdapter struct {
	name       string
	feedType   string
	symbols    map[string]string // instrument id -> upstream symbol
	submitter  Submitter
	sequence   atomic.Uint64
	healthy    atomic.Bool
	lastUpdate time.Time
	updateMu   sync.RWMutex
	logger     *logging.Logger
}

// NewBaseAdapter creates a base adapter. symbols maps instrument ids to the
// upstream symbol names.
func NewBaseAdapter(name, feedType string, symbols map[string]string, sub Submitter, logger *logging.Logger) *BaseAdapter {
	b := &BaseAdapter{
		name:      name,
		feedType:  feedType,
		symbols:   symbols,
		submitter: sub,
		logger:    logger,
	}
	metrics.RecordSourceHealth(name, feedType, false)
	return b
}

// Name returns the source id
func (b *BaseAdapter) Name() string {
	return b.name
}

// Type returns the feed type
func (b *BaseAdapter) Type() string {
	return b.feedType
}

// Instruments returns the instrument ids in sorted order
func (b *BaseAdapter) Instruments() []string {
	ids := make([]string, 0, len(b.symbols))
	for id := range b.symbols {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Symbol returns the upstream symbol for an instrument
func (b *BaseAdapter) Symbol(instrumentID string) string {
	return b.symbols[instrumentID]
}

// InstrumentFor finds the instrument id for an upstream symbol
func (b *BaseAdapter) InstrumentFor(symbol string) (string, bool) {
	for id, s := range b.symbols {
		if s == symbol {
			return id, true
		}
	}
	return "", false
}

// IsHealthy returns the health status
func (b *BaseAdapter) IsHealthy() bool {
	return b.healthy.Load()
}

// SetHealthy sets the health status
func (b *BaseAdapter) SetHealthy(healthy bool) {
	if b.healthy.Swap(healthy) != healthy {
		b.logger.Info("Feed health changed", "healthy", healthy)
	}
	metrics.RecordSourceHealth(b.name, b.feedType, healthy)
}

// LastUpdate returns the time of the last submitted quote
func (b *BaseAdapter) LastUpdate() time.Time {
	b.updateMu.RLock()
	defer b.updateMu.RUnlock()
	return b.lastUpdate
}

// Submit stamps the next sequence number and hands the quote to the submitter.
func (b *BaseAdapter) Submit(instrumentID string, price decimal.Decimal, observedAt time.Time) error {
	seq := b.sequence.Add(1)
	if err := b.submitter.SubmitQuote(instrumentID, b.name, price, observedAt, seq); err != nil {
		b.logger.Warn("Quote refused", "instrument", instrumentID, "sequence", seq, "error", err)
		return err
	}

	b.updateMu.Lock()
	b.lastUpdate = time.Now()
	b.updateMu.Unlock()
	return nil
}

// Logger returns the logger
func (b *BaseAdapter) Logger() *logging.Logger {
	return b.logger
}

// ParseSymbols reads the instruments mapping from a feed config block.
func ParseSymbols(raw map[string]interface{}) (map[string]string, error) {
	val, ok := raw["instruments"].(map[string]interface{})
	if !ok || len(val) == 0 {
		return nil, ErrNoInstrumentsConfigured
	}
	symbols := make(map[string]string, len(val))
	for id, s := range val {
		if str, ok := s.(string); ok && str != "" {
			symbols[id] = str
		}
	}
	if len(symbols) == 0 {
		return nil, ErrNoInstrumentsConfigured
	}
	return symbols, nil
}
