// Package publisher delivers signed consensus prices to consumers and keeps
// them retrievable by (instrument, round).
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
)

// Publisher pushes a consensus price to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, price attestation.ConsensusPrice) error
}

// Store makes published prices retrievable.
type Store interface {
	Get(ctx context.Context, instrumentID string, roundID uint64) (attestation.ConsensusPrice, error)
	Latest(ctx context.Context, instrumentID string) (attestation.ConsensusPrice, error)
}

// Fanout publishes to every destination. A failing destination does not stop
// the others; all failures are returned joined.
type Fanout struct {
	publishers []Publisher
	logger     *logging.Logger
}

var _ Publisher = (*Fanout)(nil)

// NewFanout creates a fan-out over publishers.
func NewFanout(logger *logging.Logger, publishers ...Publisher) *Fanout {
	return &Fanout{
		publishers: publishers,
		logger:     logger,
	}
}

// Add appends a destination. Not safe to call concurrently with Publish.
func (f *Fanout) Add(p Publisher) {
	f.publishers = append(f.publishers, p)
}

// Name implements Publisher.
func (f *Fanout) Name() string {
	return "fanout"
}

// Publish implements Publisher.
func (f *Fanout) Publish(ctx context.Context, price attestation.ConsensusPrice) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, price); err != nil {
			metrics.RecordPublishError(p.Name())
			f.logger.Error("Failed to publish consensus price",
				"publisher", p.Name(),
				"instrument", price.InstrumentID,
				"round", price.RoundID,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
