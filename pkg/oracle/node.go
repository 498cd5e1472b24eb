package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/StrathCole/cfd-oracle/pkg/aggregator"
	"github.com/StrathCole/cfd-oracle/pkg/attestation"
	"github.com/StrathCole/cfd-oracle/pkg/config"
	"github.com/StrathCole/cfd-oracle/pkg/consensus"
	"github.com/StrathCole/cfd-oracle/pkg/feeds"
	"github.com/StrathCole/cfd-oracle/pkg/filter"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/publisher"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
	"github.com/StrathCole/cfd-oracle/pkg/round"
)

// Node owns the ingress buffer, the source registry, the contribution ledger
// and one round runner per instrument.
type Node struct {
	buffer   *quotes.Buffer
	registry *consensus.Registry
	ledger   *consensus.Ledger
	logger   *logging.Logger

	mu      sync.RWMutex
	runners map[string]*round.Runner
	modes   map[string]string // instrument -> configured quorum mode
}

var _ feeds.Submitter = (*Node)(nil)

// New builds a node for every instrument in cfg. pub receives every
// published price; signer attests them.
func New(cfg *config.Config, signer attestation.Signer, pub publisher.Publisher, logger *logging.Logger) (*Node, error) {
	ids := cfg.InstrumentIDs()
	n := &Node{
		buffer:   quotes.NewBuffer(ids, logger),
		registry: consensus.NewRegistry(),
		ledger:   consensus.NewLedger(),
		logger:   logger,
		runners:  make(map[string]*round.Runner, len(ids)),
		modes:    make(map[string]string, len(ids)),
	}

	for _, inst := range cfg.Instruments {
		if _, err := n.ApplySources(inst.ID, inst.Sources); err != nil {
			return nil, err
		}
		runner, err := n.newRunner(inst, cfg.Signer, signer, pub)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", inst.ID, err)
		}
		n.runners[inst.ID] = runner
		n.modes[inst.ID] = inst.QuorumMode
	}
	return n, nil
}

func (n *Node) newRunner(inst config.InstrumentConfig, sc config.SignerConfig, signer attestation.Signer, pub publisher.Publisher) (*round.Runner, error) {
	mode, err := consensus.ParseMode(inst.QuorumMode)
	if err != nil {
		return nil, err
	}
	agg, err := aggregator.NewAggregatorWithConfig(strings.ToLower(inst.AggregateMode), n.logger, aggregator.Config{
		TrimMinQuotes: inst.TrimMinQuotes,
		Sensitivity:   inst.Sensitivity,
	})
	if err != nil {
		return nil, err
	}

	f := filter.New(inst.MaxAge.ToDuration(), decimal.NewFromFloat(inst.OutlierTolerance))
	f.MaxSkew = inst.MaxClockSkew.ToDuration()

	builder := attestation.NewBuilder(signer, n.logger,
		attestation.WithTimeout(sc.Timeout.ToDuration()),
		attestation.WithExpo(inst.ExpoValue()),
	)

	return round.NewRunner(round.Config{
		InstrumentID:     inst.ID,
		Mode:             mode,
		QuorumOverride:   inst.QuorumOverride,
		CollectionWindow: inst.CollectionWindow.ToDuration(),
		Interval:         inst.RoundInterval.ToDuration(),
		Filter:           f,
		Aggregator:       agg,
		DispersionBpsMax: decimal.NewFromFloat(inst.DispersionBpsMax),
	}, n.buffer, n.registry, builder, pub, n.logger, round.WithLedger(n.ledger))
}

// SubmitQuote places a quote in the ingress buffer.
func (n *Node) SubmitQuote(instrumentID, sourceID string, price decimal.Decimal, observedAt time.Time, sequence uint64) error {
	return n.buffer.Ingest(quotes.Quote{
		InstrumentID: instrumentID,
		SourceID:     sourceID,
		Price:        price,
		ObservedAt:   observedAt,
		Sequence:     sequence,
	})
}

// ApplySources replaces the expected sources of an instrument. Rounds already
// open keep the snapshot they started with.
func (n *Node) ApplySources(instrumentID string, sources []string) (consensus.SourceSet, error) {
	prev, _ := n.registry.Snapshot(instrumentID)
	set, err := n.registry.Set(instrumentID, sources)
	if err != nil {
		return consensus.SourceSet{}, err
	}
	metrics.RecordSourceSetVersion(instrumentID, set.Version)
	if set.Version != prev.Version {
		n.logger.Info("Expected sources updated",
			"instrument", instrumentID,
			"version", set.Version,
			"sources", set.Sources)
	}
	return set, nil
}

// ApplyConfig applies a reloaded configuration. Source lists take effect at
// the next round open; instruments that were added, removed, or switched
// quorum mode are reported with ErrRestartRequired and otherwise ignored.
func (n *Node) ApplyConfig(cfg *config.Config) error {
	var errs []error
	seen := make(map[string]struct{}, len(cfg.Instruments))

	for _, inst := range cfg.Instruments {
		seen[inst.ID] = struct{}{}

		n.mu.RLock()
		_, known := n.runners[inst.ID]
		mode := n.modes[inst.ID]
		n.mu.RUnlock()

		if !known {
			errs = append(errs, fmt.Errorf("%w: instrument %s added", ErrRestartRequired, inst.ID))
			continue
		}
		if !sameMode(mode, inst.QuorumMode) {
			errs = append(errs, fmt.Errorf("%w: instrument %s quorum mode %s -> %s", ErrRestartRequired, inst.ID, mode, inst.QuorumMode))
		}
		if _, err := n.ApplySources(inst.ID, inst.Sources); err != nil {
			errs = append(errs, err)
		}
	}

	for _, id := range n.Instruments() {
		if _, ok := seen[id]; !ok {
			errs = append(errs, fmt.Errorf("%w: instrument %s removed", ErrRestartRequired, id))
		}
	}
	return errors.Join(errs...)
}

func sameMode(a, b string) bool {
	ma, errA := consensus.ParseMode(a)
	mb, errB := consensus.ParseMode(b)
	return errA == nil && errB == nil && ma == mb
}

// Run drives every instrument's runner until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	n.mu.RLock()
	for _, runner := range n.runners {
		runner := runner
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}
	n.mu.RUnlock()

	n.logger.Info("Oracle node running", "instruments", n.Instruments())

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// OnOutcome registers fn with every runner.
func (n *Node) OnOutcome(fn func(round.Outcome)) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, r := range n.runners {
		r.OnOutcome(fn)
	}
}

// Runner returns the runner of one instrument.
func (n *Node) Runner(instrumentID string) (*round.Runner, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	r, ok := n.runners[instrumentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	return r, nil
}

// Instruments lists instrument ids in sorted order.
func (n *Node) Instruments() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.runners))
	for id := range n.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// History returns recent round outcomes of one instrument, oldest first.
func (n *Node) History(instrumentID string) ([]round.Outcome, error) {
	r, err := n.Runner(instrumentID)
	if err != nil {
		return nil, err
	}
	return r.History(), nil
}

// Contributions returns the operator ledger ordered by instrument, then source.
func (n *Node) Contributions() []consensus.Contribution {
	return n.ledger.Entries()
}

// Sources returns the current expected-source snapshot of an instrument.
func (n *Node) Sources(instrumentID string) (consensus.SourceSet, error) {
	return n.registry.Snapshot(instrumentID)
}

// Ledger returns the contribution ledger.
func (n *Node) Ledger() *consensus.Ledger {
	return n.ledger
}

// Buffer returns the ingress buffer.
func (n *Node) Buffer() *quotes.Buffer {
	return n.buffer
}
