package valkey

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T) (*ValkeyCacheStore, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(Config{Address: mr.Addr(), DisableCache: true, ConnectTimeout: time.Second})
	require.NoError(t, err)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	store := NewValkeyCacheStore(client, WithClock(c.now))
	t.Cleanup(func() { _ = store.Close() })
	return store, mr, c
}

func TestTTLSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int64
	}{
		{ttl: 0, want: 1},
		{ttl: 300 * time.Millisecond, want: 1},
		{ttl: time.Second, want: 1},
		{ttl: 1500 * time.Millisecond, want: 2},
		{ttl: 15 * time.Minute, want: 900},
	}
	for _, tt := range tests {
		t.Run(tt.ttl.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ttlSeconds(tt.ttl))
		})
	}
}

func TestValkeyCacheStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestStore(t)

	_, err := s.Get(ctx, "repo:acme/widget")
	assert.ErrorIs(t, err, entity.ErrCacheMiss)

	require.NoError(t, s.Set(ctx, "repo:acme/widget", []byte(`{"stars":10}`), 15*time.Minute))
	got, err := s.Get(ctx, "repo:acme/widget")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"stars":10}`), got)
	assert.Equal(t, 15*time.Minute, mr.TTL("repo:acme/widget"))

	require.NoError(t, s.Ping(ctx))
	assert.Equal(t, "valkey", s.Name())
}

func TestValkeyCacheStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 2*time.Second))
	mr.FastForward(time.Second)
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, entity.ErrCacheMiss)
}

func TestValkeyCacheStore_DeleteScopeAcrossSlots(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestStore(t)

	keys := []string{
		"file:acme/widget:main.go:sha1",
		"repo:acme/widget",
		"tree:acme/widget:main",
		"query:acme/widget:entry point",
	}
	for _, key := range keys {
		require.NoError(t, s.Set(ctx, key, []byte("x"), time.Hour))
		require.NoError(t, s.Track(ctx, "idx:acme/widget", key, time.Hour, 24*time.Hour))
	}
	require.NoError(t, s.Set(ctx, "repo:acme/other", []byte("{}"), time.Hour))

	members, err := mr.ZMembers("idx:acme/widget")
	require.NoError(t, err)
	assert.Len(t, members, len(keys))
	assert.Equal(t, 24*time.Hour, mr.TTL("idx:acme/widget"))

	var removed int64
	require.NotPanics(t, func() {
		removed, err = s.DeleteScope(ctx, "idx:acme/widget")
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(keys)), removed)
	for _, key := range keys {
		assert.False(t, mr.Exists(key), key)
	}
	assert.False(t, mr.Exists("idx:acme/widget"))
	assert.True(t, mr.Exists("repo:acme/other"))

	removed, err = s.DeleteScope(ctx, "idx:acme/widget")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestValkeyCacheStore_DeleteScopeBatches(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	n := deleteBatchSize + 3
	for i := range n {
		key := fmt.Sprintf("file:acme/widget:f%d.go:sha", i)
		require.NoError(t, s.Set(ctx, key, []byte("x"), time.Hour))
		require.NoError(t, s.Track(ctx, "idx:acme/widget", key, time.Hour, time.Hour))
	}

	removed, err := s.DeleteScope(ctx, "idx:acme/widget")
	require.NoError(t, err)
	assert.Equal(t, int64(n), removed)
}

func TestValkeyCacheStore_TrackPrunesExpiredMembers(t *testing.T) {
	ctx := context.Background()
	s, mr, c := newTestStore(t)

	for i := range 20 {
		key := fmt.Sprintf("file:acme/widget:f%d.go:sha", i)
		require.NoError(t, s.Set(ctx, key, []byte("x"), time.Minute))
		require.NoError(t, s.Track(ctx, "idx:acme/widget", key, time.Minute, 24*time.Hour))
		mr.FastForward(2 * time.Minute)
		c.t = c.t.Add(2 * time.Minute)
	}

	members, err := mr.ZMembers("idx:acme/widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"file:acme/widget:f19.go:sha"}, members)
}

func TestValkeyCacheStore_KeyCount(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))

	n, err := s.KeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(Config{Address: addr, DisableCache: true, ConnectTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}
