// Package attestation packages a consensus result with its provenance and
// obtains a signature for it from an injected signer.
package attestation

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// DefaultExpo is the decimal exponent of ScaledPrice.
const DefaultExpo int32 = -8

// Signer is the signing capability. Implementations own all key material.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Sign implements Signer.
func (f SignerFunc) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// Identified is implemented by signers that can name their public identity
// (for example an address). The identity is embedded in the signed payload.
type Identified interface {
	Identity() string
}

// Stats describes how the round's quotes were treated.
type Stats struct {
	Expected   int             `json:"expected"`
	Collected  int             `json:"collected"`
	Fresh      int             `json:"fresh"`
	Stale      int             `json:"stale"`
	Outliers   int             `json:"outliers"`
	Skewed     int             `json:"skewed"`
	Used       int             `json:"used"`
	SpreadBps  decimal.Decimal `json:"spread_bps"`
	Confidence decimal.Decimal `json:"confidence"`
}

// ConsensusPrice is the published, signed record for one instrument and round.
// Every field except ID and Signature is covered by the signature, Stats included.
type ConsensusPrice struct {
	ID                 string          `json:"id"`
	InstrumentID       string          `json:"instrument_id"`
	RoundID            uint64          `json:"round_id"`
	Price              decimal.Decimal `json:"price"`
	ScaledPrice        string          `json:"scaled_price"`
	Expo               int32           `json:"expo"`
	ContributorCount   int             `json:"contributor_count"`
	ContributorSources []string        `json:"contributor_sources"`
	Method             string          `json:"method"`
	Mode               string          `json:"mode"`
	SourceSetVersion   uint64          `json:"source_set_version"`
	Stats              Stats           `json:"stats"`
	OpenedAt           time.Time       `json:"opened_at"`
	PublishedAt        time.Time       `json:"published_at"`
	Signer             string          `json:"signer,omitempty"`
	Signature          hexutil.Bytes   `json:"signature"`
}
