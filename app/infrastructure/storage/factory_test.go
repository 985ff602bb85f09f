package storage

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/mark47B/gh-context-cache/app/config"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewCacheStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.Config
		want    string
		healthy bool
	}{
		{name: "memory", cfg: config.Config{Cache: config.CacheConfig{Backend: "memory"}}, want: "memory", healthy: true},
		{name: "none", cfg: config.Config{Cache: config.CacheConfig{Backend: "none"}}, want: "none"},
		{name: "redis", cfg: config.Config{
			Cache: config.CacheConfig{Backend: "Redis"},
			Redis: config.RedisConfig{Addr: mr.Addr()},
		}, want: "redis", healthy: true},
		{name: "valkey unreachable falls back", cfg: config.Config{
			Cache:  config.CacheConfig{Backend: "valkey"},
			Valkey: config.ValkeyConfig{Address: "127.0.0.1:1"},
		}, want: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewCacheStore(ctx, tt.cfg, quietLogger())
			t.Cleanup(func() { _ = store.Close() })

			assert.Equal(t, tt.want, store.Name())
			assert.Equal(t, tt.healthy, store.Ping(ctx) == nil)
		})
	}
}

func TestNewCacheStore_RedisDownKeepsStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	store := NewCacheStore(ctx, config.Config{
		Cache: config.CacheConfig{Backend: "redis"},
		Redis: config.RedisConfig{Addr: addr},
	}, quietLogger())
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, "redis", store.Name())
	assert.Error(t, store.Ping(ctx))
}
