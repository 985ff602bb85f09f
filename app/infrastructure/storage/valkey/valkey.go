package valkey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	deleteBatchSize       = 500
)

type Config struct {
	Address        string
	Password       string
	DB             int
	ConnectTimeout time.Duration
	// DisableCache turns off client-side caching for servers without
	// CLIENT TRACKING.
	DisableCache bool
}

// Connect creates a client and verifies it with PING.
// The caller owns the client and must Close it.
func Connect(cfg Config) (valkeylib.Client, error) {
	opts := valkeylib.ClientOption{
		InitAddress:  []string{cfg.Address},
		SelectDB:     cfg.DB,
		DisableCache: cfg.DisableCache,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}
	return client, nil
}

// ValkeyCacheStore implements repository.CacheStore on Valkey. The
// repository index is a sorted set scored by member expiry in unix ms.
// Multi-key commands are avoided so the store also runs against a cluster.
type ValkeyCacheStore struct {
	client valkeylib.Client
	now    func() time.Time
}

var (
	_ repository.CacheStore = (*ValkeyCacheStore)(nil)
	_ repository.KeyCounter = (*ValkeyCacheStore)(nil)
)

type Option func(*ValkeyCacheStore)

// WithClock replaces time.Now for index scores.
func WithClock(now func() time.Time) Option {
	return func(s *ValkeyCacheStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewValkeyCacheStore(client valkeylib.Client, opts ...Option) *ValkeyCacheStore {
	s := &ValkeyCacheStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ValkeyCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(key).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, entity.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *ValkeyCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := s.client.B().Set().
		Key(key).
		Value(valkeylib.BinaryString(value)).
		ExSeconds(ttlSeconds(ttl)).
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *ValkeyCacheStore) Track(ctx context.Context, scope, key string, entryTTL, scopeTTL time.Duration) error {
	now := s.now()
	cmds := valkeylib.Commands{
		s.client.B().Zadd().Key(scope).ScoreMember().ScoreMember(float64(now.Add(entryTTL).UnixMilli()), key).Build(),
		s.client.B().Zremrangebyscore().Key(scope).Min("-inf").Max(strconv.FormatInt(now.UnixMilli(), 10)).Build(),
		s.client.B().Expire().Key(scope).Seconds(ttlSeconds(scopeTTL)).Build(),
	}
	for _, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("failed to track %s in %s: %w", key, scope, err)
		}
	}
	return nil
}

func (s *ValkeyCacheStore) DeleteScope(ctx context.Context, scope string) (int64, error) {
	keys, err := s.client.Do(ctx, s.client.B().Zrange().Key(scope).Min("0").Max("-1").Build()).AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("failed to read scope %s: %w", scope, err)
	}

	// Members hash to different slots, so each gets its own DEL.
	var removed int64
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		cmds := make(valkeylib.Commands, 0, end-start)
		for _, k := range keys[start:end] {
			cmds = append(cmds, s.client.B().Del().Key(k).Build())
		}
		for _, res := range s.client.DoMulti(ctx, cmds...) {
			n, err := res.AsInt64()
			if err != nil {
				return removed, fmt.Errorf("failed to delete scope members: %w", err)
			}
			removed += n
		}
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(scope).Build()).Error(); err != nil {
		return removed, fmt.Errorf("failed to delete scope %s: %w", scope, err)
	}
	return removed, nil
}

// ttlSeconds rounds up so that sub-second TTLs still produce a valid EX.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func (s *ValkeyCacheStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// KeyCount reports DBSIZE. Against a cluster it covers only the node that
// serves the command.
func (s *ValkeyCacheStore) KeyCount(ctx context.Context) (int64, error) {
	n, err := s.client.Do(ctx, s.client.B().Dbsize().Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return n, nil
}

func (s *ValkeyCacheStore) Name() string {
	return "valkey"
}

func (s *ValkeyCacheStore) Close() error {
	s.client.Close()
	return nil
}
