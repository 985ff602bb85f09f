package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
	"github.com/mark47B/gh-context-cache/app/infrastructure/metrics"
)

const (
	DefaultOpTimeout     = 300 * time.Millisecond
	DefaultHealthTimeout = time.Second
	DefaultClearTimeout  = 5 * time.Second
)

var errNoStore = errors.New("cache store is not configured")

// outcome is the result of a single store operation before it is collapsed
// to "present" or "absent" at the public boundary.
type outcome int

const (
	outcomeHit outcome = iota
	outcomeMiss
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeHit:
		return "hit"
	case outcomeMiss:
		return "miss"
	default:
		return "failed"
	}
}

type lookupResult struct {
	value   []byte
	outcome outcome
	err     error
}

// CacheFacade is a namespaced, failure-isolated get/set boundary over a
// CacheStore. No method returns an error: every store failure degrades to
// "not cached".
type CacheFacade struct {
	store         repository.CacheStore
	ttl           entity.TTLPolicy
	opTimeout     time.Duration
	healthTimeout time.Duration
	clearTimeout  time.Duration
	log           logrus.FieldLogger
}

type FacadeOption func(*CacheFacade)

func WithTTLPolicy(p entity.TTLPolicy) FacadeOption {
	return func(f *CacheFacade) { f.ttl = p }
}

func WithOpTimeout(d time.Duration) FacadeOption {
	return func(f *CacheFacade) {
		if d > 0 {
			f.opTimeout = d
		}
	}
}

func WithHealthTimeout(d time.Duration) FacadeOption {
	return func(f *CacheFacade) {
		if d > 0 {
			f.healthTimeout = d
		}
	}
}

func WithClearTimeout(d time.Duration) FacadeOption {
	return func(f *CacheFacade) {
		if d > 0 {
			f.clearTimeout = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) FacadeOption {
	return func(f *CacheFacade) {
		if l != nil {
			f.log = l
		}
	}
}

func NewCacheFacade(store repository.CacheStore, opts ...FacadeOption) *CacheFacade {
	f := &CacheFacade{
		store:         store,
		ttl:           entity.DefaultTTLPolicy(),
		opTimeout:     DefaultOpTimeout,
		healthTimeout: DefaultHealthTimeout,
		clearTimeout:  DefaultClearTimeout,
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithField("component", "cache_facade")
	return f
}

// SetOption tunes a single write. Only metadata namespaces accept options.
type SetOption func(*setOptions)

type setOptions struct {
	ttl time.Duration
}

// WithTTL overrides the namespace TTL for one write. Non-positive values keep the default.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = ttl }
}

func (f *CacheFacade) resolveTTL(ns entity.Namespace, opts []SetOption) time.Duration {
	so := setOptions{}
	for _, opt := range opts {
		opt(&so)
	}
	if so.ttl > 0 {
		return so.ttl
	}
	return f.ttl.For(ns)
}

// File content

func (f *CacheFacade) CacheFile(ctx context.Context, owner, repo, path, sha, content string) {
	if !validFile(owner, repo, path, sha) {
		f.skipWrite(entity.NamespaceFile, "invalid owner, repo, path or sha")
		return
	}
	f.set(ctx, entity.NamespaceFile, fileKey(owner, repo, path, sha), []byte(content), f.ttl.For(entity.NamespaceFile), owner, repo)
}

func (f *CacheFacade) GetCachedFile(ctx context.Context, owner, repo, path, sha string) (string, bool) {
	if !validFile(owner, repo, path, sha) {
		return "", false
	}
	res := f.get(ctx, entity.NamespaceFile, fileKey(owner, repo, path, sha))
	if res.outcome != outcomeHit {
		return "", false
	}
	return string(res.value), true
}

// Repository metadata

func (f *CacheFacade) CacheRepoMetadata(ctx context.Context, owner, repo string, meta *entity.RepoMetadata, opts ...SetOption) {
	if !validRepo(owner, repo) || meta == nil {
		f.skipWrite(entity.NamespaceRepo, "invalid owner or repo, or nil metadata")
		return
	}
	f.setJSON(ctx, entity.NamespaceRepo, repoKey(owner, repo), meta, f.resolveTTL(entity.NamespaceRepo, opts), owner, repo)
}

func (f *CacheFacade) GetCachedRepoMetadata(ctx context.Context, owner, repo string) (*entity.RepoMetadata, bool) {
	if !validRepo(owner, repo) {
		return nil, false
	}
	meta, ok := getJSON[entity.RepoMetadata](ctx, f, entity.NamespaceRepo, repoKey(owner, repo))
	if !ok {
		return nil, false
	}
	return &meta, true
}

// Profile metadata

func (f *CacheFacade) CacheProfileData(ctx context.Context, username string, profile *entity.ProfileMetadata, opts ...SetOption) {
	if !validNames(username) || profile == nil {
		f.skipWrite(entity.NamespaceProfile, "invalid username or nil profile")
		return
	}
	f.setJSON(ctx, entity.NamespaceProfile, profileKey(username), profile, f.resolveTTL(entity.NamespaceProfile, opts), "", "")
}

func (f *CacheFacade) GetCachedProfileData(ctx context.Context, username string) (*entity.ProfileMetadata, bool) {
	if !validNames(username) {
		return nil, false
	}
	profile, ok := getJSON[entity.ProfileMetadata](ctx, f, entity.NamespaceProfile, profileKey(username))
	if !ok {
		return nil, false
	}
	return &profile, true
}

// File tree

func (f *CacheFacade) CacheFileTree(ctx context.Context, owner, repo, branch string, tree []entity.TreeEntry) {
	if !validTree(owner, repo, branch) || tree == nil {
		f.skipWrite(entity.NamespaceTree, "invalid owner, repo or branch, or nil tree")
		return
	}
	f.setJSON(ctx, entity.NamespaceTree, treeKey(owner, repo, branch), tree, f.ttl.For(entity.NamespaceTree), owner, repo)
}

func (f *CacheFacade) GetCachedFileTree(ctx context.Context, owner, repo, branch string) ([]entity.TreeEntry, bool) {
	if !validTree(owner, repo, branch) {
		return nil, false
	}
	return getJSON[[]entity.TreeEntry](ctx, f, entity.NamespaceTree, treeKey(owner, repo, branch))
}

// Query selection

func (f *CacheFacade) CacheQuerySelection(ctx context.Context, owner, repo, query string, files []string) {
	if !validQuery(owner, repo, query) || files == nil {
		f.skipWrite(entity.NamespaceQuery, "invalid owner or repo, blank query, or nil selection")
		return
	}
	f.setJSON(ctx, entity.NamespaceQuery, queryKey(owner, repo, query), files, f.ttl.For(entity.NamespaceQuery), owner, repo)
}

func (f *CacheFacade) GetCachedQuerySelection(ctx context.Context, owner, repo, query string) ([]string, bool) {
	if !validQuery(owner, repo, query) {
		return nil, false
	}
	return getJSON[[]string](ctx, f, entity.NamespaceQuery, queryKey(owner, repo, query))
}

// ClearRepoCache removes every repo-scoped entry written for owner/repo.
// It is best-effort: on any failure it logs and reports zero removed keys.
func (f *CacheFacade) ClearRepoCache(ctx context.Context, owner, repo string) int64 {
	if !validRepo(owner, repo) {
		return 0
	}
	if f.store == nil {
		return 0
	}
	opCtx, cancel := context.WithTimeout(ctx, f.clearTimeout)
	defer cancel()

	start := time.Now()
	removed, err := f.store.DeleteScope(opCtx, repoIndexKey(owner, repo))
	metrics.OpDuration.WithLabelValues("clear").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("clear").Inc()
		f.log.WithFields(logrus.Fields{"owner": owner, "repo": repo}).
			Warnf("[CacheFacade] clear repo cache failed, relying on TTL expiry: %v", err)
		return 0
	}
	metrics.InvalidatedKeys.Add(float64(removed))
	f.log.WithFields(logrus.Fields{"owner": owner, "repo": repo, "removed": removed}).
		Info("[CacheFacade] repo cache cleared")
	return removed
}

// HealthCheck pings the store under a short timeout. It never fails.
func (f *CacheFacade) HealthCheck(ctx context.Context) entity.CacheHealth {
	health := entity.CacheHealth{}
	if f.store == nil {
		return health
	}
	health.Backend = f.store.Name()

	opCtx, cancel := context.WithTimeout(ctx, f.healthTimeout)
	defer cancel()

	start := time.Now()
	err := f.store.Ping(opCtx)
	health.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		metrics.StoreErrors.WithLabelValues("ping").Inc()
		f.log.WithField("backend", health.Backend).Warnf("[CacheFacade] health check failed: %v", err)
		return health
	}
	health.Available = true

	if counter, ok := f.store.(repository.KeyCounter); ok {
		if n, err := counter.KeyCount(opCtx); err == nil {
			health.Keys = &n
		} else {
			f.log.WithField("backend", health.Backend).Debugf("[CacheFacade] key count unavailable: %v", err)
		}
	}
	return health
}

func (f *CacheFacade) get(ctx context.Context, ns entity.Namespace, key string) lookupResult {
	res := f.lookup(ctx, key)
	metrics.CacheRequests.WithLabelValues(ns.String(), res.outcome.String()).Inc()
	if res.outcome == outcomeFailed {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		f.log.WithFields(logrus.Fields{"namespace": ns, "key": key}).
			Warnf("[CacheFacade] get failed, degrading to miss: %v", res.err)
	}
	return res
}

func (f *CacheFacade) lookup(ctx context.Context, key string) lookupResult {
	if f.store == nil {
		return lookupResult{outcome: outcomeFailed, err: errNoStore}
	}
	opCtx, cancel := context.WithTimeout(ctx, f.opTimeout)
	defer cancel()

	start := time.Now()
	val, err := f.store.Get(opCtx, key)
	metrics.OpDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		return lookupResult{value: val, outcome: outcomeHit}
	case errors.Is(err, entity.ErrCacheMiss):
		return lookupResult{outcome: outcomeMiss}
	default:
		return lookupResult{outcome: outcomeFailed, err: err}
	}
}

func getJSON[T any](ctx context.Context, f *CacheFacade, ns entity.Namespace, key string) (T, bool) {
	var out T
	res := f.get(ctx, ns, key)
	if res.outcome != outcomeHit {
		return out, false
	}
	if err := json.Unmarshal(res.value, &out); err != nil {
		f.log.WithFields(logrus.Fields{"namespace": ns, "key": key}).
			Warnf("[CacheFacade] undecodable entry treated as miss: %v", err)
		var zero T
		return zero, false
	}
	return out, true
}

func (f *CacheFacade) setJSON(ctx context.Context, ns entity.Namespace, key string, value any, ttl time.Duration, owner, repo string) {
	data, err := json.Marshal(value)
	if err != nil {
		f.skipWrite(ns, "value is not serializable: "+err.Error())
		return
	}
	f.set(ctx, ns, key, data, ttl, owner, repo)
}

// set writes the entry and, for repo-scoped namespaces, records the key in
// the index of owner/repo. Failures are logged and swallowed.
func (f *CacheFacade) set(ctx context.Context, ns entity.Namespace, key string, value []byte, ttl time.Duration, owner, repo string) {
	if err := f.runOp(ctx, "set", func(opCtx context.Context) error {
		return f.store.Set(opCtx, key, value, ttl)
	}); err != nil {
		metrics.CacheWrites.WithLabelValues(ns.String(), "failed").Inc()
		f.log.WithFields(logrus.Fields{"namespace": ns, "key": key}).
			Warnf("[CacheFacade] set failed, entry not cached: %v", err)
		return
	}
	metrics.CacheWrites.WithLabelValues(ns.String(), "stored").Inc()

	if !ns.RepoScoped() {
		return
	}
	scope := repoIndexKey(owner, repo)
	indexTTL := max(f.ttl.Longest(), ttl)
	if err := f.runOp(ctx, "track", func(opCtx context.Context) error {
		return f.store.Track(opCtx, scope, key, ttl, indexTTL)
	}); err != nil {
		f.log.WithFields(logrus.Fields{"namespace": ns, "key": key, "scope": scope}).
			Warnf("[CacheFacade] index update failed, entry will only expire by TTL: %v", err)
	}
}

// runOp runs one bounded store operation and records its latency.
func (f *CacheFacade) runOp(ctx context.Context, op string, fn func(context.Context) error) error {
	if f.store == nil {
		return errNoStore
	}
	opCtx, cancel := context.WithTimeout(ctx, f.opTimeout)
	defer cancel()

	start := time.Now()
	err := fn(opCtx)
	metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(op).Inc()
	}
	return err
}

func (f *CacheFacade) skipWrite(ns entity.Namespace, reason string) {
	metrics.CacheWrites.WithLabelValues(ns.String(), "skipped").Inc()
	f.log.WithField("namespace", ns).Warnf("[CacheFacade] write skipped: %s", reason)
}
