package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/infrastructure/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newMemoryFacade(t *testing.T, opts ...FacadeOption) (*CacheFacade, *memory.Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewStore(memory.WithClock(clock.Now))
	opts = append([]FacadeOption{WithLogger(quietLogger())}, opts...)
	return NewCacheFacade(store, opts...), store, clock
}

var errStoreDown = errors.New("connection refused")

// failingStore errors on every call.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}
func (failingStore) Track(context.Context, string, string, time.Duration, time.Duration) error {
	return errStoreDown
}
func (failingStore) DeleteScope(context.Context, string) (int64, error) { return 0, errStoreDown }
func (failingStore) Ping(context.Context) error                         { return errStoreDown }
func (failingStore) Name() string                                       { return "failing" }
func (failingStore) Close() error                                       { return nil }

// blockingStore waits for the context on every call.
type blockingStore struct{ failingStore }

func (blockingStore) Get(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) Set(ctx context.Context, _ string, _ []byte, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// recordingStore wraps a memory store and records TTLs passed to Set and
// the scopes passed to Track.
type recordingStore struct {
	*memory.Store
	mu     sync.Mutex
	ttls   map[string]time.Duration
	scopes map[string]string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: memory.NewStore(), ttls: map[string]time.Duration{}, scopes: map[string]string{}}
}

func (r *recordingStore) Track(ctx context.Context, scope, key string, entryTTL, scopeTTL time.Duration) error {
	r.mu.Lock()
	r.scopes[key] = scope
	r.mu.Unlock()
	return r.Store.Track(ctx, scope, key, entryTTL, scopeTTL)
}

func (r *recordingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.Lock()
	r.ttls[key] = ttl
	r.mu.Unlock()
	return r.Store.Set(ctx, key, value, ttl)
}

func TestCacheFacade_MissThenHit(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newMemoryFacade(t)

	_, ok := f.GetCachedFile(ctx, "acme", "widget", "main.go", "abc123")
	assert.False(t, ok)

	f.CacheFile(ctx, "acme", "widget", "main.go", "abc123", "package main")
	content, ok := f.GetCachedFile(ctx, "acme", "widget", "main.go", "abc123")
	require.True(t, ok)
	assert.Equal(t, "package main", content)
}

func TestCacheFacade_AllNamespacesRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newMemoryFacade(t)

	meta := &entity.RepoMetadata{Owner: "acme", Name: "widget", FullName: "acme/widget", Stars: 10, Topics: []string{"cli"}}
	profile := &entity.ProfileMetadata{Login: "octocat", Followers: 3}
	tree := []entity.TreeEntry{
		{Path: "cmd", Type: entity.TreeEntryTree, SHA: "t1"},
		{Path: "cmd/main.go", Type: entity.TreeEntryBlob, SHA: "b1", Size: 42},
	}
	files := []string{"cmd/main.go"}

	f.CacheRepoMetadata(ctx, "acme", "widget", meta)
	f.CacheProfileData(ctx, "octocat", profile)
	f.CacheFileTree(ctx, "acme", "widget", "main", tree)
	f.CacheQuerySelection(ctx, "acme", "widget", "entry point", files)

	gotMeta, ok := f.GetCachedRepoMetadata(ctx, "acme", "widget")
	require.True(t, ok)
	assert.Equal(t, meta, gotMeta)

	gotProfile, ok := f.GetCachedProfileData(ctx, "octocat")
	require.True(t, ok)
	assert.Equal(t, profile, gotProfile)

	gotTree, ok := f.GetCachedFileTree(ctx, "acme", "widget", "main")
	require.True(t, ok)
	assert.Equal(t, tree, gotTree)

	gotFiles, ok := f.GetCachedQuerySelection(ctx, "acme", "widget", "entry point")
	require.True(t, ok)
	assert.Equal(t, files, gotFiles)
}

func TestCacheFacade_Expiry(t *testing.T) {
	ctx := context.Background()
	f, _, clock := newMemoryFacade(t, WithTTLPolicy(entity.TTLPolicy{File: time.Second}))

	f.CacheFile(ctx, "acme", "widget", "a.go", "sha", "x")

	clock.Advance(500 * time.Millisecond)
	_, ok := f.GetCachedFile(ctx, "acme", "widget", "a.go", "sha")
	assert.True(t, ok, "present before ttl")

	clock.Advance(time.Second)
	_, ok = f.GetCachedFile(ctx, "acme", "widget", "a.go", "sha")
	assert.False(t, ok, "absent after ttl")
}

func TestCacheFacade_QueryNormalization(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newMemoryFacade(t)

	f.CacheQuerySelection(ctx, "acme", "widget", "  Foo Bar ", []string{"foo.go"})

	got, ok := f.GetCachedQuerySelection(ctx, "acme", "widget", "foo bar")
	require.True(t, ok)
	assert.Equal(t, []string{"foo.go"}, got)

	got, ok = f.GetCachedQuerySelection(ctx, "acme", "widget", "FOO BAR")
	require.True(t, ok)
	assert.Equal(t, []string{"foo.go"}, got)
}

func TestCacheFacade_ContentHashIsolation(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newMemoryFacade(t)

	f.CacheFile(ctx, "o", "r", "p.go", "sha1", "content1")

	_, ok := f.GetCachedFile(ctx, "o", "r", "p.go", "sha2")
	assert.False(t, ok)

	got, ok := f.GetCachedFile(ctx, "o", "r", "p.go", "sha1")
	require.True(t, ok)
	assert.Equal(t, "content1", got)
}

func TestCacheFacade_DegradesWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	f := NewCacheFacade(failingStore{}, WithLogger(quietLogger()))

	assert.NotPanics(t, func() {
		f.CacheFile(ctx, "o", "r", "p", "s", "c")
		f.CacheRepoMetadata(ctx, "o", "r", &entity.RepoMetadata{Name: "r"})
		f.CacheProfileData(ctx, "u", &entity.ProfileMetadata{Login: "u"})
		f.CacheFileTree(ctx, "o", "r", "main", []entity.TreeEntry{})
		f.CacheQuerySelection(ctx, "o", "r", "q", []string{"a"})
	})

	_, ok := f.GetCachedFile(ctx, "o", "r", "p", "s")
	assert.False(t, ok)
	_, ok = f.GetCachedRepoMetadata(ctx, "o", "r")
	assert.False(t, ok)
	_, ok = f.GetCachedProfileData(ctx, "u")
	assert.False(t, ok)
	_, ok = f.GetCachedFileTree(ctx, "o", "r", "main")
	assert.False(t, ok)
	_, ok = f.GetCachedQuerySelection(ctx, "o", "r", "q")
	assert.False(t, ok)

	assert.Equal(t, int64(0), f.ClearRepoCache(ctx, "o", "r"))

	health := f.HealthCheck(ctx)
	assert.False(t, health.Available)
	assert.Equal(t, "failing", health.Backend)
}

func TestCacheFacade_SlowStoreIsBounded(t *testing.T) {
	ctx := context.Background()
	f := NewCacheFacade(blockingStore{},
		WithLogger(quietLogger()),
		WithOpTimeout(20*time.Millisecond),
		WithHealthTimeout(20*time.Millisecond),
	)

	start := time.Now()
	_, ok := f.GetCachedRepoMetadata(ctx, "o", "r")
	f.CacheRepoMetadata(ctx, "o", "r", &entity.RepoMetadata{Name: "r"})
	health := f.HealthCheck(ctx)

	assert.False(t, ok)
	assert.False(t, health.Available)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCacheFacade_NilStore(t *testing.T) {
	ctx := context.Background()
	f := NewCacheFacade(nil, WithLogger(quietLogger()))

	f.CacheFile(ctx, "o", "r", "p", "s", "c")
	_, ok := f.GetCachedFile(ctx, "o", "r", "p", "s")
	assert.False(t, ok)
	assert.Equal(t, int64(0), f.ClearRepoCache(ctx, "o", "r"))
	assert.False(t, f.HealthCheck(ctx).Available)
}

func TestCacheFacade_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newMemoryFacade(t)

	f.CacheRepoMetadata(ctx, "o", "r", &entity.RepoMetadata{Name: "r", Stars: 1})

	_, ok := f.GetCachedFileTree(ctx, "o", "r", "main")
	assert.False(t, ok)
	// A username equal to the owner must not see repo metadata.
	_, ok = f.GetCachedProfileData(ctx, "o")
	assert.False(t, ok)
	_, ok = f.GetCachedQuerySelection(ctx, "o", "r", "r")
	assert.False(t, ok)
}

func TestCacheFacade_EndToEndRepoMetadata(t *testing.T) {
	ctx := context.Background()
	f, _, clock := newMemoryFacade(t)

	f.CacheRepoMetadata(ctx, "acme", "widget", &entity.RepoMetadata{Stars: 10})

	got, ok := f.GetCachedRepoMetadata(ctx, "acme", "widget")
	require.True(t, ok)
	assert.Equal(t, 10, got.Stars)

	clock.Advance(entity.DefaultTTLPolicy().Repo + time.Second)
	_, ok = f.GetCachedRepoMetadata(ctx, "acme", "widget")
	assert.False(t, ok)
}

func TestCacheFacade_TTLOverride(t *testing.T) {
	ctx := context.Background()
	rec := newRecordingStore()
	f := NewCacheFacade(rec, WithLogger(quietLogger()))
	defaults := entity.DefaultTTLPolicy()

	f.CacheRepoMetadata(ctx, "o", "r", &entity.RepoMetadata{}, WithTTL(time.Minute))
	f.CacheProfileData(ctx, "u", &entity.ProfileMetadata{}, WithTTL(2*time.Minute))
	f.CacheRepoMetadata(ctx, "o", "r2", &entity.RepoMetadata{}, WithTTL(0))
	f.CacheFile(ctx, "o", "r", "p", "s", "c")
	f.CacheFileTree(ctx, "o", "r", "main", []entity.TreeEntry{})
	f.CacheQuerySelection(ctx, "o", "r", "q", []string{})

	assert.Equal(t, time.Minute, rec.ttls[repoKey("o", "r")])
	assert.Equal(t, 2*time.Minute, rec.ttls[profileKey("u")])
	assert.Equal(t, defaults.Repo, rec.ttls[repoKey("o", "r2")])
	assert.Equal(t, defaults.File, rec.ttls[fileKey("o", "r", "p", "s")])
	assert.Equal(t, defaults.Tree, rec.ttls[treeKey("o", "r", "main")])
	assert.Equal(t, defaults.Query, rec.ttls[queryKey("o", "r", "q")])
}

func TestCacheFacade_ClearRepoCache(t *testing.T) {
	ctx := context.Background()
	f, store, _ := newMemoryFacade(t)

	f.CacheFile(ctx, "acme", "widget", "a.go", "s1", "a")
	f.CacheRepoMetadata(ctx, "acme", "widget", &entity.RepoMetadata{Name: "widget"})
	f.CacheFileTree(ctx, "acme", "widget", "main", []entity.TreeEntry{})
	f.CacheQuerySelection(ctx, "acme", "widget", "q", []string{"a.go"})

	f.CacheRepoMetadata(ctx, "acme", "other", &entity.RepoMetadata{Name: "other"})
	f.CacheProfileData(ctx, "acme", &entity.ProfileMetadata{Login: "acme"})

	removed := f.ClearRepoCache(ctx, "acme", "widget")
	assert.Equal(t, int64(4), removed)

	_, ok := f.GetCachedFile(ctx, "acme", "widget", "a.go", "s1")
	assert.False(t, ok)
	_, ok = f.GetCachedRepoMetadata(ctx, "acme", "widget")
	assert.False(t, ok)
	_, ok = f.GetCachedFileTree(ctx, "acme", "widget", "main")
	assert.False(t, ok)
	_, ok = f.GetCachedQuerySelection(ctx, "acme", "widget", "q")
	assert.False(t, ok)

	_, ok = f.GetCachedRepoMetadata(ctx, "acme", "other")
	assert.True(t, ok, "other repository untouched")
	_, ok = f.GetCachedProfileData(ctx, "acme")
	assert.True(t, ok, "profiles are not repo-scoped")
	assert.Equal(t, 2, store.Len())

	assert.Equal(t, int64(0), f.ClearRepoCache(ctx, "acme", "widget"))
}

func TestCacheFacade_BlankIdentifiers(t *testing.T) {
	ctx := context.Background()
	f, store, _ := newMemoryFacade(t)

	f.CacheFile(ctx, "o", "r", "", "s", "c")
	f.CacheFile(ctx, "o", "r", "p", "  ", "c")
	f.CacheRepoMetadata(ctx, "", "r", &entity.RepoMetadata{})
	f.CacheRepoMetadata(ctx, "o", "r", nil)
	f.CacheProfileData(ctx, " ", &entity.ProfileMetadata{})
	f.CacheFileTree(ctx, "o", "r", "", []entity.TreeEntry{})
	f.CacheQuerySelection(ctx, "o", "r", "   ", []string{"a"})
	assert.Equal(t, 0, store.Len())

	_, ok := f.GetCachedProfileData(ctx, "")
	assert.False(t, ok)
	assert.Equal(t, int64(0), f.ClearRepoCache(ctx, "", ""))
}

func TestCacheFacade_UndecodableEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	f, store, _ := newMemoryFacade(t)

	require.NoError(t, store.Set(ctx, repoKey("o", "r"), []byte("{not json"), time.Minute))

	_, ok := f.GetCachedRepoMetadata(ctx, "o", "r")
	assert.False(t, ok)
}

func TestCacheFacade_Overwrite(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newMemoryFacade(t)

	f.CacheProfileData(ctx, "u", &entity.ProfileMetadata{Login: "u", Followers: 1})
	f.CacheProfileData(ctx, "u", &entity.ProfileMetadata{Login: "u", Followers: 2})

	got, ok := f.GetCachedProfileData(ctx, "u")
	require.True(t, ok)
	assert.Equal(t, 2, got.Followers)
}

func TestCacheFacade_HealthCheck(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newMemoryFacade(t)

	health := f.HealthCheck(ctx)
	assert.True(t, health.Available)
	assert.Equal(t, "memory", health.Backend)
	assert.GreaterOrEqual(t, health.LatencyMS, int64(0))
	require.NotNil(t, health.Keys)
	assert.Equal(t, int64(0), *health.Keys)

	f.CacheProfileData(ctx, "octocat", &entity.ProfileMetadata{Login: "octocat"})
	f.CacheRepoMetadata(ctx, "acme", "widget", &entity.RepoMetadata{Name: "widget"})

	health = f.HealthCheck(ctx)
	require.NotNil(t, health.Keys)
	assert.Equal(t, int64(2), *health.Keys)
}

func TestCacheFacade_UnavailableHealthHasNoKeyCount(t *testing.T) {
	f := NewCacheFacade(failingStore{}, WithLogger(quietLogger()))
	assert.Nil(t, f.HealthCheck(context.Background()).Keys)
}

func TestCacheFacade_SeparatorsInNamesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	f, store, _ := newMemoryFacade(t)

	f.CacheRepoMetadata(ctx, "a/b", "c", &entity.RepoMetadata{Name: "c", Stars: 1})
	f.CacheRepoMetadata(ctx, "a", "b:c", &entity.RepoMetadata{Name: "b:c", Stars: 2})
	f.CacheProfileData(ctx, "x/y", &entity.ProfileMetadata{Login: "x/y"})
	f.CacheFileTree(ctx, "a", "b", "main:x", []entity.TreeEntry{})
	f.CacheFile(ctx, "a", "b", "p.go", "s:1", "c")
	assert.Equal(t, 0, store.Len(), "names with separators are rejected")

	f.CacheRepoMetadata(ctx, "a", "b", &entity.RepoMetadata{Name: "b", Stars: 3})
	_, ok := f.GetCachedRepoMetadata(ctx, "a/b", "c")
	assert.False(t, ok)
	_, ok = f.GetCachedRepoMetadata(ctx, "a", "b/c")
	assert.False(t, ok)
	assert.Equal(t, int64(0), f.ClearRepoCache(ctx, "a/b", "c"))

	got, ok := f.GetCachedRepoMetadata(ctx, "a", "b")
	require.True(t, ok)
	assert.Equal(t, 3, got.Stars)
}

func TestCacheFacade_PathWithColonStaysDistinct(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newMemoryFacade(t)

	// Without ':' in shas, "x:y" + "z" and "x" + "y:z" cannot share a key.
	f.CacheFile(ctx, "o", "r", "docs/a:b.md", "sha", "colon path")
	f.CacheFile(ctx, "o", "r", "docs/a", "b.md:sha", "colon sha")

	got, ok := f.GetCachedFile(ctx, "o", "r", "docs/a:b.md", "sha")
	require.True(t, ok)
	assert.Equal(t, "colon path", got)
	_, ok = f.GetCachedFile(ctx, "o", "r", "docs/a", "b.md:sha")
	assert.False(t, ok)
}

func TestCacheFacade_OnlyRepoScopedEntriesAreTracked(t *testing.T) {
	ctx := context.Background()
	rec := newRecordingStore()
	f := NewCacheFacade(rec, WithLogger(quietLogger()))

	f.CacheFile(ctx, "o", "r", "p", "s", "c")
	f.CacheRepoMetadata(ctx, "o", "r", &entity.RepoMetadata{})
	f.CacheProfileData(ctx, "u", &entity.ProfileMetadata{})
	f.CacheFileTree(ctx, "o", "r", "main", []entity.TreeEntry{})
	f.CacheQuerySelection(ctx, "o", "r", "q", []string{})

	assert.Equal(t, map[string]string{
		fileKey("o", "r", "p", "s"): repoIndexKey("o", "r"),
		repoKey("o", "r"):           repoIndexKey("o", "r"),
		treeKey("o", "r", "main"):   repoIndexKey("o", "r"),
		queryKey("o", "r", "q"):     repoIndexKey("o", "r"),
	}, rec.scopes)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "file:acme/widget:src/a.go:abc", fileKey("acme", "widget", "src/a.go", "abc"))
	assert.Equal(t, "repo:acme/widget", repoKey("acme", "widget"))
	assert.Equal(t, "profile:octocat", profileKey("octocat"))
	assert.Equal(t, "tree:acme/widget:main", treeKey("acme", "widget", "main"))
	assert.Equal(t, "query:acme/widget:foo bar", queryKey("acme", "widget", "\tFoo Bar  "))
	assert.Equal(t, "idx:acme/widget", repoIndexKey("acme", "widget"))
}
