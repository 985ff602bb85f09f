package repository

import (
	"context"
	"time"
)

// CacheStore is the backing key-value store behind the cache facade.
// Get returns entity.ErrCacheMiss for absent or expired keys.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Track records key as a member of scope until entryTTL elapses and drops
	// members that have already expired. The scope itself lives for scopeTTL.
	Track(ctx context.Context, scope, key string, entryTTL, scopeTTL time.Duration) error
	// DeleteScope removes every key tracked under scope together with the scope
	// and returns the number of cache entries removed.
	DeleteScope(ctx context.Context, scope string) (int64, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// KeyCounter is implemented by stores that can report their key count cheaply.
type KeyCounter interface {
	KeyCount(ctx context.Context) (int64, error)
}
