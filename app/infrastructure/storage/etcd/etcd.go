package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
)

const (
	DefaultPrefix = "/ghctx/"
	// etcd rejects transactions above 128 operations by default.
	maxTxnOps = 100
)

type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

func Connect(cfg Config) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("err connect to etcd: %w", err)
	}
	return cli, nil
}

// ETCDCacheStore keeps every entry on its own lease so that etcd expires it.
// Scope membership is stored as marker keys under <prefix>scopes/<scope>/.
type ETCDCacheStore struct {
	client *clientv3.Client
	prefix string
}

func NewETCDCacheStore(cli *clientv3.Client, prefix string) repository.CacheStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &ETCDCacheStore{client: cli, prefix: prefix}
}

func (s *ETCDCacheStore) entryKey(key string) string {
	return s.prefix + "entries/" + key
}

func (s *ETCDCacheStore) scopePrefix(scope string) string {
	return s.prefix + "scopes/" + scope + "/"
}

func (s *ETCDCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, s.entryKey(key))
	if err != nil {
		return nil, fmt.Errorf("etcd get value err: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, entity.ErrCacheMiss
	}
	return resp.Kvs[0].Value, nil
}

func (s *ETCDCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	lease, err := s.client.Grant(ctx, leaseSeconds(ttl))
	if err != nil {
		return fmt.Errorf("err grant lease: %w", err)
	}
	if _, err := s.client.Put(ctx, s.entryKey(key), string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("etcd put err: %w", err)
	}
	return nil
}

// Track writes a marker on a lease of entryTTL, so a marker expires with its
// entry. A scope is only a key prefix and needs no TTL of its own.
func (s *ETCDCacheStore) Track(ctx context.Context, scope, key string, entryTTL, _ time.Duration) error {
	lease, err := s.client.Grant(ctx, leaseSeconds(entryTTL))
	if err != nil {
		return fmt.Errorf("err grant lease: %w", err)
	}
	if _, err := s.client.Put(ctx, s.scopePrefix(scope)+key, key, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("etcd put scope marker err: %w", err)
	}
	return nil
}

func (s *ETCDCacheStore) DeleteScope(ctx context.Context, scope string) (int64, error) {
	markers, err := s.client.Get(ctx, s.scopePrefix(scope), clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("etcd get scope err: %w", err)
	}

	ops := make([]clientv3.Op, 0, len(markers.Kvs))
	for _, kv := range markers.Kvs {
		ops = append(ops, clientv3.OpDelete(s.entryKey(string(kv.Value))))
	}

	var removed int64
	for start := 0; start < len(ops); start += maxTxnOps {
		end := min(start+maxTxnOps, len(ops))
		resp, err := s.client.Txn(ctx).Then(ops[start:end]...).Commit()
		if err != nil {
			return removed, fmt.Errorf("transaction commit err: %w", err)
		}
		for _, r := range resp.Responses {
			if del := r.GetResponseDeleteRange(); del != nil {
				removed += del.Deleted
			}
		}
	}

	if _, err := s.client.Delete(ctx, s.scopePrefix(scope), clientv3.WithPrefix()); err != nil {
		return removed, fmt.Errorf("etcd delete scope err: %w", err)
	}
	return removed, nil
}

// Ping reads a well-known key the same way etcdctl endpoint health does.
func (s *ETCDCacheStore) Ping(ctx context.Context) error {
	if _, err := s.client.Get(ctx, s.prefix+"health"); err != nil {
		return fmt.Errorf("etcd health err: %w", err)
	}
	return nil
}

func (s *ETCDCacheStore) Name() string {
	return "etcd"
}

func (s *ETCDCacheStore) Close() error {
	return s.client.Close()
}

func leaseSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
