package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"coinpeek/internal/storage"
)

const (
	latestKeyPrefix = "coinpeek:latest:"
	stateKey        = "coinpeek:state"
)

// RedisCache mirrors latest snapshots into Redis with a TTL so a crashed
// publisher cannot leave a permanently fresh-looking entry behind.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Options configure Redis connectivity.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl}, nil
}

type cachedSnapshot struct {
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	PercentChange24h decimal.Decimal `json:"percent_change_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	ObservedAt       time.Time       `json:"observed_at"`
	FetchedAt        time.Time       `json:"fetched_at"`
}

type cachedState struct {
	State string    `json:"state"`
	AsOf  time.Time `json:"as_of"`
}

func (c *RedisCache) SetLatest(ctx context.Context, snapshot storage.PriceSnapshot) error {
	payload, err := json.Marshal(cachedSnapshot{
		Symbol:           snapshot.Symbol,
		Price:            snapshot.Price,
		PercentChange24h: snapshot.PercentChange24h,
		Volume24h:        snapshot.Volume24h,
		ObservedAt:       snapshot.ObservedAt,
		FetchedAt:        snapshot.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, latestKeyPrefix+snapshot.Symbol, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set latest: %w", err)
	}
	return nil
}

func (c *RedisCache) Latest(ctx context.Context, symbol string) (storage.PriceSnapshot, bool, error) {
	payload, err := c.rdb.Get(ctx, latestKeyPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.PriceSnapshot{}, false, nil
	}
	if err != nil {
		return storage.PriceSnapshot{}, false, fmt.Errorf("redis get latest: %w", err)
	}

	var cached cachedSnapshot
	if err := json.Unmarshal(payload, &cached); err != nil {
		return storage.PriceSnapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return storage.PriceSnapshot{
		Symbol:           cached.Symbol,
		Price:            cached.Price,
		PercentChange24h: cached.PercentChange24h,
		Volume24h:        cached.Volume24h,
		ObservedAt:       cached.ObservedAt,
		FetchedAt:        cached.FetchedAt,
	}, true, nil
}

func (c *RedisCache) SetState(ctx context.Context, state string, asOf time.Time) error {
	payload, err := json.Marshal(cachedState{State: state, AsOf: asOf})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := c.rdb.Set(ctx, stateKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

var _ SnapshotCache = (*RedisCache)(nil)
