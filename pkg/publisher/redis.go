package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
)

// RedisClient abstracts the Redis operations used by RedisPublisher.
// In production this is satisfied by *redis.Client; in tests by a mock.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher writes every consensus price under
//
//	consensus:{instrument}:{round}
//	consensus:{instrument}:latest
//
// and announces it on a pub/sub channel when one is configured.
type RedisPublisher struct {
	client  RedisClient
	channel string
	ttl     time.Duration
}

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Store     = (*RedisPublisher)(nil)
)

// NewRedisClient dials Redis with the given settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisPublisher creates a Redis publisher. A zero ttl keeps keys forever.
func NewRedisPublisher(client RedisClient, channel string, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		ttl:     ttl,
	}
}

// RoundKey is the Redis key of one round.
func RoundKey(instrumentID string, roundID uint64) string {
	return fmt.Sprintf("consensus:%s:%d", instrumentID, roundID)
}

// LatestKey is the Redis key of the latest round of an instrument.
func LatestKey(instrumentID string) string {
	return fmt.Sprintf("consensus:%s:latest", instrumentID)
}

// Name implements Publisher.
func (p *RedisPublisher) Name() string {
	return "redis"
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, price attestation.ConsensusPrice) error {
	data, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("marshal consensus price: %w", err)
	}
	if err := p.client.Set(ctx, RoundKey(price.InstrumentID, price.RoundID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis set round: %w", err)
	}
	if err := p.client.Set(ctx, LatestKey(price.InstrumentID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis set latest: %w", err)
	}
	if p.channel != "" {
		if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}
	return nil
}

// Get implements Store.
func (p *RedisPublisher) Get(ctx context.Context, instrumentID string, roundID uint64) (attestation.ConsensusPrice, error) {
	return p.load(ctx, RoundKey(instrumentID, roundID))
}

// Latest implements Store.
func (p *RedisPublisher) Latest(ctx context.Context, instrumentID string) (attestation.ConsensusPrice, error) {
	return p.load(ctx, LatestKey(instrumentID))
}

func (p *RedisPublisher) load(ctx context.Context, key string) (attestation.ConsensusPrice, error) {
	data, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return attestation.ConsensusPrice{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return attestation.ConsensusPrice{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	var price attestation.ConsensusPrice
	if err := json.Unmarshal(data, &price); err != nil {
		return attestation.ConsensusPrice{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return price, nil
}
