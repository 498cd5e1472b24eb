package feeds

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/cfd-oracle/pkg/config"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
)

// Submitter accepts quotes produced by an adapter.
type Submitter interface {
	SubmitQuote(instrumentID, sourceID string, price decimal.Decimal, observedAt time.Time, sequence uint64) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(instrumentID, sourceID string, price decimal.Decimal, observedAt time.Time, sequence uint64) error

// SubmitQuote calls f.
func (f SubmitterFunc) SubmitQuote(instrumentID, sourceID string, price decimal.Decimal, observedAt time.Time, sequence uint64) error {
	return f(instrumentID, sourceID, price, observedAt, sequence)
}

// Adapter is a running connection to one upstream source.
type Adapter interface {
	// Name is the source id quotes are submitted under.
	Name() string

	// Type is the registered feed type.
	Type() string

	// Instruments lists the instrument ids this adapter feeds.
	Instruments() []string

	// Run fetches or streams quotes until ctx is done.
	Run(ctx context.Context) error

	// IsHealthy reports whether the last fetch or message succeeded.
	IsHealthy() bool

	// LastUpdate returns the time of the last submitted quote.
	LastUpdate() time.Time
}

// Factory builds an adapter from its config block.
type Factory func(cfg config.FeedConfig, sub Submitter, logger *logging.Logger) (Adapter, error)
