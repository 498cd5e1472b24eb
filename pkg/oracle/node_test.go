package oracle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
	"github.com/StrathCole/cfd-oracle/pkg/config"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/publisher"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
	"github.com/StrathCole/cfd-oracle/pkg/round"
)

const testConfig = `
instruments:
  - id: ES.CFD
    quorum_mode: quorum
    sources: [ibkr, cme, lmax, saxo]
    collection_window: 50ms
    round_interval: 100ms
  - id: XAU.CFD
    quorum_mode: cfd_only
    sources: [saxo]
    collection_window: 50ms
    round_interval: 100ms
    expo: -2
signer:
  key_env: UNUSED
`

func testSigner() attestation.Signer {
	return attestation.SignerFunc(func(context.Context, []byte) ([]byte, error) {
		return []byte{0x01, 0x02}, nil
	})
}

func newTestNode(t *testing.T) (*Node, *publisher.MemoryStore, *config.Config) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	store := publisher.NewMemoryStore(0)
	node, err := New(cfg, testSigner(), store, logging.NewNoopLogger())
	require.NoError(t, err)
	return node, store, cfg
}

func submit(t *testing.T, n *Node, instrument, source, price string, seq uint64) {
	t.Helper()
	require.NoError(t, n.SubmitQuote(instrument, source, decimal.RequireFromString(price), time.Now(), seq))
}

func TestNode_PublishesQuorumRound(t *testing.T) {
	node, store, _ := newTestNode(t)
	assert.Equal(t, []string{"ES.CFD", "XAU.CFD"}, node.Instruments())

	submit(t, node, "ES.CFD", "ibkr", "5012.00", 1)
	submit(t, node, "ES.CFD", "cme", "5012.50", 1)
	submit(t, node, "ES.CFD", "lmax", "5013.00", 1)

	runner, err := node.Runner("ES.CFD")
	require.NoError(t, err)
	out := runner.RunRound(context.Background())
	require.Equal(t, round.StatePublished, out.State)
	assert.Equal(t, 3, out.Threshold)

	latest, err := store.Latest(context.Background(), "ES.CFD")
	require.NoError(t, err)
	assert.Equal(t, "5012.5", latest.Price.String())
	assert.Equal(t, []string{"cme", "ibkr", "lmax"}, latest.ContributorSources)

	c, ok := node.Ledger().Get("ES.CFD", "cme")
	require.True(t, ok)
	assert.Equal(t, uint64(1), c.Rounds)
}

func TestNode_LocalModeUsesConfiguredExpo(t *testing.T) {
	node, store, _ := newTestNode(t)
	submit(t, node, "XAU.CFD", "saxo", "2345.678", 7)

	runner, err := node.Runner("XAU.CFD")
	require.NoError(t, err)
	out := runner.RunRound(context.Background())
	require.Equal(t, round.StatePublished, out.State)

	rec, err := store.Get(context.Background(), "XAU.CFD", out.RoundID)
	require.NoError(t, err)
	assert.Equal(t, int32(-2), rec.Expo)
	assert.Equal(t, "234568", rec.ScaledPrice)

	// Local mode rounds are not credited to operators.
	_, ok := node.Ledger().Get("XAU.CFD", "saxo")
	assert.False(t, ok)
}

func TestNode_SubmitQuoteErrors(t *testing.T) {
	node, _, _ := newTestNode(t)

	err := node.SubmitQuote("NQ.CFD", "ibkr", decimal.NewFromInt(1), time.Now(), 1)
	assert.ErrorIs(t, err, quotes.ErrUnknownInstrument)

	submit(t, node, "ES.CFD", "ibkr", "5000", 5)
	err = node.SubmitQuote("ES.CFD", "ibkr", decimal.NewFromInt(5001), time.Now(), 5)
	assert.ErrorIs(t, err, quotes.ErrStaleSequence)

	_, err = node.Runner("NQ.CFD")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestNode_ApplyConfig(t *testing.T) {
	node, _, cfg := newTestNode(t)

	before, err := node.Sources("ES.CFD")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), before.Version)

	cfg.Instruments[0].Sources = []string{"ibkr", "cme", "lmax"}
	require.NoError(t, node.ApplyConfig(cfg))

	after, err := node.Sources("ES.CFD")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), after.Version)
	assert.Equal(t, []string{"cme", "ibkr", "lmax"}, after.Sources)

	// Reapplying the same lists keeps the version.
	require.NoError(t, node.ApplyConfig(cfg))
	again, _ := node.Sources("ES.CFD")
	assert.Equal(t, uint64(2), again.Version)

	cfg.Instruments[1].QuorumMode = "quorum"
	cfg.Instruments = append(cfg.Instruments, config.InstrumentConfig{ID: "NQ.CFD", Sources: []string{"cme"}})
	err = node.ApplyConfig(cfg)
	assert.ErrorIs(t, err, ErrRestartRequired)
	assert.Contains(t, err.Error(), "NQ.CFD added")
	assert.Contains(t, err.Error(), "XAU.CFD quorum mode")

	cfg.Instruments = cfg.Instruments[:1]
	err = node.ApplyConfig(cfg)
	assert.ErrorIs(t, err, ErrRestartRequired)
	assert.Contains(t, err.Error(), "XAU.CFD removed")
}

func TestNode_RunStopsOnCancel(t *testing.T) {
	node, _, _ := newTestNode(t)

	var mu sync.Mutex
	outcomes := make(map[string]int)
	node.OnOutcome(func(o round.Outcome) {
		mu.Lock()
		outcomes[o.InstrumentID]++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return outcomes["ES.CFD"] >= 2 && outcomes["XAU.CFD"] >= 2
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("node did not stop")
	}
}
