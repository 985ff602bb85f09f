package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

func (i item) expired(now time.Time) bool {
	return !now.Before(i.expiresAt)
}

// scope maps member keys to the expiry of their entries.
type scope struct {
	keys      map[string]time.Time
	expiresAt time.Time
}

// DefaultSweepEvery is the number of writes between two sweeps of expired
// entries.
const DefaultSweepEvery = 1024

// Store is an in-process CacheStore. Reads evaluate expiry against the
// injected clock, so tests can move time without sleeping. Expired entries
// are swept every sweepEvery writes.
type Store struct {
	mu     sync.RWMutex
	items  map[string]item
	scopes map[string]*scope
	now    func() time.Time

	sweepEvery int
	writes     int
}

var (
	_ repository.CacheStore = (*Store)(nil)
	_ repository.KeyCounter = (*Store)(nil)
)

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepEvery sets how many writes pass between sweeps.
func WithSweepEvery(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.sweepEvery = n
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		items:      make(map[string]item),
		scopes:     make(map[string]*scope),
		now:        time.Now,
		sweepEvery: DefaultSweepEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || it.expired(s.now()) {
		return nil, entity.ErrCacheMiss
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.items[key] = item{value: stored, expiresAt: now.Add(ttl)}

	s.writes++
	if s.writes >= s.sweepEvery {
		s.writes = 0
		s.sweep(now)
	}
	return nil
}

func (s *Store) Track(ctx context.Context, scopeKey, key string, entryTTL, scopeTTL time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sc, ok := s.scopes[scopeKey]
	if !ok || !now.Before(sc.expiresAt) {
		sc = &scope{keys: make(map[string]time.Time)}
		s.scopes[scopeKey] = sc
	}
	for k, exp := range sc.keys {
		if !now.Before(exp) {
			delete(sc.keys, k)
		}
	}
	sc.keys[key] = now.Add(entryTTL)
	sc.expiresAt = now.Add(scopeTTL)
	return nil
}

func (s *Store) DeleteScope(ctx context.Context, scopeKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[scopeKey]
	if !ok {
		return 0, nil
	}
	delete(s.scopes, scopeKey)

	now := s.now()
	var removed int64
	for key := range sc.keys {
		it, ok := s.items[key]
		if !ok {
			continue
		}
		delete(s.items, key)
		if !it.expired(now) {
			removed++
		}
	}
	return removed, nil
}

// Cleanup drops expired entries and scopes.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
}

// sweep must be called with mu held.
func (s *Store) sweep(now time.Time) {
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
		}
	}
	for key, sc := range s.scopes {
		if !now.Before(sc.expiresAt) {
			delete(s.scopes, key)
		}
	}
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, it := range s.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

func (s *Store) KeyCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(s.Len()), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Name() string {
	return "memory"
}

func (s *Store) Close() error {
	return nil
}
