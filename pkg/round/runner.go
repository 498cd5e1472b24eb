package round

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/StrathCole/cfd-oracle/pkg/aggregator"
	"github.com/StrathCole/cfd-oracle/pkg/attestation"
	"github.com/StrathCole/cfd-oracle/pkg/consensus"
	"github.com/StrathCole/cfd-oracle/pkg/filter"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/publisher"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
)

// publishTimeout bounds delivery of an already signed price.
const publishTimeout = 5 * time.Second

// QuoteSource is the read side of the ingress buffer.
type QuoteSource interface {
	Snapshot(instrumentID string) (map[string]quotes.Quote, error)
	Notify(instrumentID string) (<-chan struct{}, error)
}

// SourceSets hands out the expected-source snapshot at round open.
type SourceSets interface {
	Snapshot(instrumentID string) (consensus.SourceSet, error)
}

// Attester signs an aggregation result.
type Attester interface {
	Build(ctx context.Context, in attestation.Input) (attestation.ConsensusPrice, error)
}

// Config configures a Runner for one instrument.
type Config struct {
	InstrumentID     string
	Mode             consensus.Mode
	QuorumOverride   int
	CollectionWindow time.Duration
	Interval         time.Duration
	Filter           *filter.Filter
	Aggregator       aggregator.Aggregator
	DispersionBpsMax decimal.Decimal // zero disables the warning
	HistorySize      int
}

// Runner drives rounds for one instrument, one at a time.
type Runner struct {
	cfg       Config
	quotes    QuoteSource
	sets      SourceSets
	attester  Attester
	publisher publisher.Publisher
	ledger    *consensus.Ledger
	history   *History
	now       func() time.Time
	logger    zerolog.Logger

	lastID    atomic.Uint64
	mu        sync.Mutex // guards onOutcome
	onOutcome []func(Outcome)
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the clock used for round open and filter reference time.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithLedger records contributions of published rounds in quorum mode.
func WithLedger(l *consensus.Ledger) Option {
	return func(r *Runner) {
		r.ledger = l
	}
}

// WithStartID makes the first round id start+1.
func WithStartID(start uint64) Option {
	return func(r *Runner) {
		r.lastID.Store(start)
	}
}

// NewRunner creates a runner. pub may be nil when nothing consumes prices.
func NewRunner(cfg Config, qs QuoteSource, sets SourceSets, attester Attester, pub publisher.Publisher, logger *logging.Logger, opts ...Option) (*Runner, error) {
	if cfg.InstrumentID == "" {
		return nil, fmt.Errorf("%w: instrument id is required", ErrInvalidConfig)
	}
	if cfg.CollectionWindow <= 0 {
		return nil, fmt.Errorf("%w: collection window must be positive", ErrInvalidConfig)
	}
	if cfg.Interval < cfg.CollectionWindow {
		cfg.Interval = cfg.CollectionWindow
	}
	if cfg.Filter == nil || cfg.Aggregator == nil || attester == nil {
		return nil, fmt.Errorf("%w: filter, aggregator and attester are required", ErrInvalidConfig)
	}
	if cfg.Mode == "" {
		cfg.Mode = consensus.ModeQuorum
	}

	r := &Runner{
		cfg:       cfg,
		quotes:    qs,
		sets:      sets,
		attester:  attester,
		publisher: pub,
		history:   NewHistory(cfg.HistorySize),
		now:       time.Now,
		logger:    logger.ZerologLogger().With().Str("instrument", cfg.InstrumentID).Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// OnOutcome registers a callback invoked after every terminal round.
func (r *Runner) OnOutcome(fn func(Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOutcome = append(r.onOutcome, fn)
}

// InstrumentID returns the instrument this runner serves.
func (r *Runner) InstrumentID() string {
	return r.cfg.InstrumentID
}

// LastRoundID returns the id of the most recently opened round.
func (r *Runner) LastRoundID() uint64 {
	return r.lastID.Load()
}

// History returns recent outcomes, oldest first.
func (r *Runner) History() []Outcome {
	return r.history.List()
}

// Run opens a round every Interval until ctx is done. A round in progress
// when ctx ends is aborted; no new round is opened afterwards.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().
		Str("mode", string(r.cfg.Mode)).
		Dur("window", r.cfg.CollectionWindow).
		Dur("interval", r.cfg.Interval).
		Msg("Starting round runner")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.RunRound(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info().Uint64("last_round", r.LastRoundID()).Msg("Round runner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunRound runs one complete round and returns its outcome.
func (r *Runner) RunRound(ctx context.Context) Outcome {
	id := r.lastID.Add(1)
	opened := r.now()

	set, err := r.sets.Snapshot(r.cfg.InstrumentID)
	if err != nil {
		// No source set means nothing can ever reach quorum; the id is still accounted for.
		rd := New(r.cfg.InstrumentID, id, opened, r.cfg.CollectionWindow, consensus.SourceSet{}, consensus.Policy{Mode: r.cfg.Mode, Threshold: 1})
		return r.finish(rd, AbortInsufficientQuorum, err, nil, 0)
	}
	policy := consensus.PolicyFor(r.cfg.Mode, set, r.cfg.QuorumOverride)
	rd := New(r.cfg.InstrumentID, id, opened, r.cfg.CollectionWindow, set, policy)

	r.logger.Debug().
		Uint64("round", id).
		Uint64("source_set", set.Version).
		Int("expected", policy.Expected).
		Int("threshold", policy.Threshold).
		Msg("Round opened")

	if err := r.collect(ctx, rd); err != nil {
		return r.finish(rd, AbortCancelled, err, nil, 0)
	}
	collected := rd.Quotes()

	if err := rd.Transition(StateFiltering); err != nil {
		return r.finish(rd, AbortInternal, err, nil, 0)
	}
	res := r.cfg.Filter.Apply(collected, r.now())
	for _, rej := range res.Rejected {
		metrics.RecordRejection(r.cfg.InstrumentID, string(rej.Reason))
		r.logger.Debug().
			Uint64("round", id).
			Str("source", rej.Quote.SourceID).
			Str("price", rej.Quote.Price.String()).
			Str("reason", string(rej.Reason)).
			Msg("Quote excluded")
	}
	if res.Skewed > 0 {
		metrics.RecordClockSkew(r.cfg.InstrumentID, res.Skewed)
		r.logger.Warn().
			Uint64("round", id).
			Int("quotes", res.Skewed).
			Dur("max_skew", r.cfg.Filter.MaxSkew).
			Msg("Future observation times clamped to receive time")
	}
	if len(collected) > 0 && res.Stale == len(collected) {
		return r.finish(rd, AbortAllQuotesStale, nil, nil, 0)
	}
	if len(res.Accepted) < policy.Threshold {
		return r.finish(rd, AbortInsufficientQuorum, nil, nil, len(res.Accepted))
	}

	if err := rd.Transition(StateAggregating); err != nil {
		return r.finish(rd, AbortInternal, err, nil, len(res.Accepted))
	}
	agg, err := r.cfg.Aggregator.Aggregate(res.Accepted)
	if err != nil {
		return r.finish(rd, AbortInternal, err, nil, len(res.Accepted))
	}

	stats := r.stats(policy, collected, res, agg)
	if r.cfg.DispersionBpsMax.IsPositive() && agg.SpreadBps.GreaterThan(r.cfg.DispersionBpsMax) {
		metrics.RecordSpread(r.cfg.InstrumentID, agg.SpreadBps.InexactFloat64(), true)
		r.logger.Warn().
			Uint64("round", id).
			Str("spread_bps", agg.SpreadBps.StringFixed(2)).
			Str("max_bps", r.cfg.DispersionBpsMax.String()).
			Msg("Wide dispersion among contributing sources")
	} else {
		metrics.RecordSpread(r.cfg.InstrumentID, agg.SpreadBps.InexactFloat64(), false)
	}

	if err := rd.Transition(StateAttesting); err != nil {
		return r.finish(rd, AbortInternal, err, nil, len(res.Accepted))
	}
	contributors := make([]string, 0, len(res.Accepted))
	for _, q := range res.Accepted {
		contributors = append(contributors, q.SourceID)
	}
	rec, err := r.attester.Build(ctx, attestation.Input{
		InstrumentID:     r.cfg.InstrumentID,
		RoundID:          id,
		OpenedAt:         opened,
		Mode:             string(policy.Mode),
		SourceSetVersion: set.Version,
		Contributors:     contributors,
		Price:            agg.Price,
		Method:           agg.Method,
		Stats:            stats,
	})
	if err != nil {
		return r.finish(rd, attestReason(ctx, err), err, nil, len(res.Accepted))
	}

	if err := rd.Transition(StatePublished); err != nil {
		return r.finish(rd, AbortInternal, err, nil, len(res.Accepted))
	}
	r.publish(ctx, rec)
	if r.ledger != nil && policy.Mode.Ledgered() {
		r.ledger.Record(r.cfg.InstrumentID, id, rec.ContributorSources, rec.PublishedAt)
	}
	return r.finish(rd, AbortNone, nil, &rec, len(res.Accepted))
}

// collect absorbs buffered quotes until the deadline or until every expected
// source has reported since the round opened.
func (r *Runner) collect(ctx context.Context, rd *Round) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	notify, err := r.quotes.Notify(r.cfg.InstrumentID)
	if err != nil {
		return err
	}
	timer := time.NewTimer(r.cfg.CollectionWindow)
	defer timer.Stop()

	r.absorb(rd)
	for !rd.Complete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-notify:
			r.absorb(rd)
		}
	}
	return nil
}

func (r *Runner) absorb(rd *Round) {
	snap, err := r.quotes.Snapshot(r.cfg.InstrumentID)
	if err != nil {
		return
	}
	for _, q := range snap {
		rd.Collect(q)
	}
}

func (r *Runner) stats(policy consensus.Policy, collected []quotes.Quote, res filter.Result, agg aggregator.Result) attestation.Stats {
	confidence := decimal.NewFromInt(1)
	if policy.Expected > 0 {
		confidence = decimal.NewFromInt(int64(agg.Used)).
			Div(decimal.NewFromInt(int64(policy.Expected))).
			Round(4)
		if confidence.GreaterThan(decimal.NewFromInt(1)) {
			confidence = decimal.NewFromInt(1)
		}
	}
	return attestation.Stats{
		Expected:   policy.Expected,
		Collected:  len(collected),
		Fresh:      res.Fresh(),
		Stale:      res.Stale,
		Outliers:   res.Outliers,
		Skewed:     res.Skewed,
		Used:       agg.Used,
		SpreadBps:  agg.SpreadBps.Round(2),
		Confidence: confidence,
	}
}

func (r *Runner) publish(ctx context.Context, rec attestation.ConsensusPrice) {
	if r.publisher == nil {
		return
	}
	// The record is already signed; finish delivery even if shutdown started.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(pctx, rec); err != nil {
		r.logger.Error().Err(err).Uint64("round", rec.RoundID).Msg("Publication incomplete")
	}
}

func attestReason(ctx context.Context, err error) AbortReason {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return AbortCancelled
	case errors.Is(err, attestation.ErrSignerTimeout):
		return AbortSignerTimeout
	default:
		return AbortSignerUnavailable
	}
}

// finish moves rd to its terminal state, records the outcome and notifies listeners.
func (r *Runner) finish(rd *Round, reason AbortReason, cause error, rec *attestation.ConsensusPrice, accepted int) Outcome {
	collected := len(rd.Collected)
	if rd.State() != StatePublished {
		if err := rd.Abort(reason); err != nil {
			// Only reachable if a terminal round is finished twice.
			r.logger.Error().Err(err).Uint64("round", rd.ID).Msg("Abort rejected")
		}
	}

	out := Outcome{
		InstrumentID:     rd.InstrumentID,
		RoundID:          rd.ID,
		State:            rd.State(),
		Reason:           rd.Reason(),
		SourceSetVersion: rd.Sources.Version,
		Expected:         rd.Policy.Expected,
		Threshold:        rd.Policy.Threshold,
		Collected:        collected,
		Accepted:         accepted,
		OpenedAt:         rd.OpenedAt,
		ClosedAt:         r.now(),
		Price:            rec,
	}
	if cause != nil {
		out.Error = cause.Error()
	}
	r.history.Add(out)

	metrics.RecordRound(out.InstrumentID, string(out.State), string(out.Reason), out.RoundID, out.Duration())
	if out.State == StatePublished {
		r.logger.Info().
			Uint64("round", out.RoundID).
			Str("price", rec.Price.String()).
			Str("method", rec.Method).
			Int("contributors", rec.ContributorCount).
			Msg("Round published")
	} else {
		r.logger.Warn().
			Uint64("round", out.RoundID).
			Str("reason", string(out.Reason)).
			Int("collected", out.Collected).
			Int("accepted", out.Accepted).
			Int("threshold", out.Threshold).
			Str("error", out.Error).
			Msg("Round aborted")
	}

	r.mu.Lock()
	hooks := r.onOutcome
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(out)
	}
	return out
}
