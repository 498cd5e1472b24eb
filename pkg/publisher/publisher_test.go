package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
)

func price(instrument string, round uint64, p string) attestation.ConsensusPrice {
	return attestation.ConsensusPrice{
		ID:                 "id",
		InstrumentID:       instrument,
		RoundID:            round,
		Price:              decimal.RequireFromString(p),
		ContributorCount:   1,
		ContributorSources: []string{"ibkr"},
		Method:             "median",
		PublishedAt:        time.Unix(1700000000, 0).UTC(),
		Signature:          []byte{0x01},
	}
}

func TestMemoryStore_GetAndLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	require.NoError(t, s.Publish(ctx, price("ES.CFD", 1, "5000")))
	require.NoError(t, s.Publish(ctx, price("ES.CFD", 2, "5001")))
	require.NoError(t, s.Publish(ctx, price("NQ.CFD", 1, "18000")))

	got, err := s.Get(ctx, "ES.CFD", 1)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(5000)))

	latest, err := s.Latest(ctx, "ES.CFD")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.RoundID)

	// Retention evicts the oldest round.
	require.NoError(t, s.Publish(ctx, price("ES.CFD", 3, "5002")))
	_, err = s.Get(ctx, "ES.CFD", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Latest(ctx, "YM.CFD")
	assert.ErrorIs(t, err, ErrNotFound)

	all := s.LatestAll()
	require.Len(t, all, 2)
	assert.Equal(t, "ES.CFD", all[0].InstrumentID)
	assert.Equal(t, uint64(3), all[0].RoundID)
	assert.Equal(t, "NQ.CFD", all[1].InstrumentID)
}

type failingPublisher struct{ name string }

func (f failingPublisher) Name() string { return f.name }
func (f failingPublisher) Publish(context.Context, attestation.ConsensusPrice) error {
	return errors.New("boom")
}

func TestFanout_ContinuesPastFailures(t *testing.T) {
	mem := NewMemoryStore(0)
	f := NewFanout(logging.NewNoopLogger(), failingPublisher{name: "broken"}, mem)

	err := f.Publish(context.Background(), price("ES.CFD", 7, "5000"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	_, err = mem.Get(context.Background(), "ES.CFD", 7)
	assert.NoError(t, err)
}

// MockRedisClient is a mock implementation of RedisClient.
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	return args.Get(0).(*redis.IntCmd)
}

func TestRedisPublisher_Publish(t *testing.T) {
	client := new(MockRedisClient)
	p := NewRedisPublisher(client, "consensus", time.Hour)
	rec := price("ES.CFD", 12, "5000.5")

	client.On("Set", mock.Anything, "consensus:ES.CFD:12", mock.Anything, time.Hour).
		Return(redis.NewStatusResult("OK", nil)).Once()
	client.On("Set", mock.Anything, "consensus:ES.CFD:latest", mock.Anything, time.Hour).
		Return(redis.NewStatusResult("OK", nil)).Once()
	client.On("Publish", mock.Anything, "consensus", mock.Anything).
		Return(redis.NewIntResult(1, nil)).Once()

	require.NoError(t, p.Publish(context.Background(), rec))
	client.AssertExpectations(t)

	// The stored value decodes back to the record.
	stored := client.Calls[0].Arguments.Get(2).([]byte)
	var decoded attestation.ConsensusPrice
	require.NoError(t, json.Unmarshal(stored, &decoded))
	assert.Equal(t, uint64(12), decoded.RoundID)
	assert.True(t, decoded.Price.Equal(rec.Price))
}

func TestRedisPublisher_SetFailure(t *testing.T) {
	client := new(MockRedisClient)
	p := NewRedisPublisher(client, "", 0)

	client.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(redis.NewStatusResult("", errors.New("connection refused")))

	err := p.Publish(context.Background(), price("ES.CFD", 1, "1"))
	require.Error(t, err)
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedisPublisher_Get(t *testing.T) {
	client := new(MockRedisClient)
	p := NewRedisPublisher(client, "", 0)

	data, err := json.Marshal(price("ES.CFD", 4, "5003"))
	require.NoError(t, err)

	client.On("Get", mock.Anything, "consensus:ES.CFD:4").Return(redis.NewStringResult(string(data), nil))
	client.On("Get", mock.Anything, "consensus:ES.CFD:5").Return(redis.NewStringResult("", redis.Nil))
	client.On("Get", mock.Anything, "consensus:ES.CFD:latest").Return(redis.NewStringResult(string(data), nil))

	got, err := p.Get(context.Background(), "ES.CFD", 4)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(5003)))

	_, err = p.Get(context.Background(), "ES.CFD", 5)
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := p.Latest(context.Background(), "ES.CFD")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), latest.RoundID)
}

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisher(w)

	require.NoError(t, p.Publish(context.Background(), price("ES.CFD", 33, "5000")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("ES.CFD"), w.msgs[0].Key)
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "33", string(w.msgs[0].Headers[0].Value))

	var decoded attestation.ConsensusPrice
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, uint64(33), decoded.RoundID)

	w.err = errors.New("leader not available")
	assert.Error(t, p.Publish(context.Background(), price("ES.CFD", 34, "5000")))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
