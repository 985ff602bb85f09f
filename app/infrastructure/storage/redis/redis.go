package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
)

const deleteBatchSize = 500

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and checks it with PING. The client is returned even
// when the check fails: go-redis dials lazily and reconnects on later calls.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisCacheStore keeps entries as plain string keys with EX. The repository
// index is a sorted set scored by the expiry of each member, in unix ms.
type RedisCacheStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ repository.KeyCounter = (*RedisCacheStore)(nil)

type Option func(*RedisCacheStore)

// WithClock replaces time.Now for index scores.
func WithClock(now func() time.Time) Option {
	return func(r *RedisCacheStore) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRedisCacheStore(rdb *redis.Client, opts ...Option) repository.CacheStore {
	r := &RedisCacheStore{client: rdb, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, entity.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (r *RedisCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCacheStore) Track(ctx context.Context, scope, key string, entryTTL, scopeTTL time.Duration) error {
	now := r.now()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, scope, redis.Z{Score: float64(now.Add(entryTTL).UnixMilli()), Member: key})
		pipe.ZRemRangeByScore(ctx, scope, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
		pipe.Expire(ctx, scope, scopeTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis track %s: %w", scope, err)
	}
	return nil
}

func (r *RedisCacheStore) DeleteScope(ctx context.Context, scope string) (int64, error) {
	keys, err := r.client.ZRange(ctx, scope, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrange %s: %w", scope, err)
	}

	var removed int64
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		n, err := r.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed += n
	}
	if err := r.client.Del(ctx, scope).Err(); err != nil {
		return removed, fmt.Errorf("redis del %s: %w", scope, err)
	}
	return removed, nil
}

func (r *RedisCacheStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCacheStore) KeyCount(ctx context.Context) (int64, error) {
	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dbsize: %w", err)
	}
	return n, nil
}

func (r *RedisCacheStore) Name() string {
	return "redis"
}

func (r *RedisCacheStore) Close() error {
	return r.client.Close()
}
