package attestation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
)

// DefaultSignTimeout bounds a single signing request.
const DefaultSignTimeout = 2 * time.Second

// Input is everything the builder needs from a finished aggregation.
type Input struct {
	InstrumentID     string
	RoundID          uint64
	OpenedAt         time.Time
	Mode             string
	SourceSetVersion uint64
	Contributors     []string
	Price            decimal.Decimal
	Method           string
	Stats            Stats
}

// Builder turns aggregation results into signed ConsensusPrice records.
// It never retries a failed signing request.
type Builder struct {
	signer  Signer
	timeout time.Duration
	expo    int32
	now     func() time.Time
	logger  *logging.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTimeout sets the per-request signing timeout.
func WithTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithExpo sets the exponent used for ScaledPrice.
func WithExpo(expo int32) BuilderOption {
	return func(b *Builder) {
		b.expo = expo
	}
}

// WithClock overrides the clock used for PublishedAt.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a builder around signer.
func NewBuilder(signer Signer, logger *logging.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		signer:  signer,
		timeout: DefaultSignTimeout,
		expo:    DefaultExpo,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the record for in and signs it.
func (b *Builder) Build(ctx context.Context, in Input) (ConsensusPrice, error) {
	if len(in.Contributors) == 0 {
		return ConsensusPrice{}, fmt.Errorf("%w: %s round %d", ErrNoContributors, in.InstrumentID, in.RoundID)
	}

	contributors := make([]string, len(in.Contributors))
	copy(contributors, in.Contributors)
	sort.Strings(contributors)

	rec := ConsensusPrice{
		ID:                 uuid.NewString(),
		InstrumentID:       in.InstrumentID,
		RoundID:            in.RoundID,
		Price:              in.Price,
		ScaledPrice:        Scale(in.Price, b.expo),
		Expo:               b.expo,
		ContributorCount:   len(contributors),
		ContributorSources: contributors,
		Method:             in.Method,
		Mode:               in.Mode,
		SourceSetVersion:   in.SourceSetVersion,
		Stats:              in.Stats,
		OpenedAt:           in.OpenedAt.UTC(),
		PublishedAt:        b.now().UTC(),
	}
	if id, ok := b.signer.(Identified); ok {
		rec.Signer = id.Identity()
	}

	payload, err := rec.Payload()
	if err != nil {
		return ConsensusPrice{}, err
	}

	sig, err := b.sign(ctx, payload)
	if err != nil {
		return ConsensusPrice{}, fmt.Errorf("%s round %d: %w", in.InstrumentID, in.RoundID, err)
	}
	rec.Signature = sig
	return rec, nil
}

type signResult struct {
	sig []byte
	err error
}

// sign calls the signer with a deadline. The wait is bounded even if the
// signer ignores its context.
func (b *Builder) sign(parent context.Context, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan signResult, 1)
	go func() {
		sig, err := b.signer.Sign(ctx, payload)
		done <- signResult{sig: sig, err: err}
	}()

	var res signResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = signResult{err: ctx.Err()}
	}

	err := classify(parent, ctx, res)
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, ErrSignerTimeout) {
			status = "timeout"
		}
		b.logger.Warn("Signing failed", "error", err, "elapsed", time.Since(start).String())
	}
	metrics.RecordSign(status, time.Since(start))
	if err != nil {
		return nil, err
	}
	return res.sig, nil
}

func classify(parent, ctx context.Context, res signResult) error {
	if res.err == nil {
		if len(res.sig) == 0 {
			return fmt.Errorf("%w: %w", ErrSignerUnavailable, ErrEmptySignature)
		}
		return nil
	}
	// Parent cancellation is not a signer fault but still ends the round.
	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", ErrSignerUnavailable, parent.Err())
	}
	if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrSignerTimeout, res.err)
	}
	if errors.Is(res.err, ErrSignerTimeout) || errors.Is(res.err, ErrSignerUnavailable) {
		return res.err
	}
	return fmt.Errorf("%w: %w", ErrSignerUnavailable, res.err)
}
