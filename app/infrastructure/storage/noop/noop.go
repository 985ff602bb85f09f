package noop

import (
	"context"
	"errors"
	"time"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
)

// ErrDisabled is reported by Ping so that health checks show the cache as unavailable.
var ErrDisabled = errors.New("cache backend disabled")

// Store caches nothing. It is used when no backend is configured or the
// configured one could not be initialized.
type Store struct{}

var _ repository.CacheStore = Store{}

func (Store) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, entity.ErrCacheMiss
}

func (Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (Store) Track(ctx context.Context, scope, key string, entryTTL, scopeTTL time.Duration) error {
	return nil
}

func (Store) DeleteScope(ctx context.Context, scope string) (int64, error) {
	return 0, nil
}

func (Store) Ping(ctx context.Context) error {
	return ErrDisabled
}

func (Store) Name() string {
	return "none"
}

func (Store) Close() error {
	return nil
}
