package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
)

const (
	DefaultMaxFiles         = 12
	DefaultFetchConcurrency = 4
	DefaultFetchTimeout     = 60 * time.Second
)

// ContextService loads repository context through the cache facade. Every
// method reads the cache first and falls back to the source host on a miss;
// concurrent misses for the same key share one upstream call.
type ContextService struct {
	cache    *CacheFacade
	host     repository.SourceHost
	selector repository.FileSelector

	maxFiles         int
	fetchConcurrency int
	fetchTimeout     time.Duration

	group singleflight.Group
	log   logrus.FieldLogger
}

type ContextOption func(*ContextService)

func WithMaxFiles(n int) ContextOption {
	return func(s *ContextService) {
		if n > 0 {
			s.maxFiles = n
		}
	}
}

func WithFetchConcurrency(n int) ContextOption {
	return func(s *ContextService) {
		if n > 0 {
			s.fetchConcurrency = n
		}
	}
}

// WithFetchTimeout bounds a shared upstream fetch. Shared fetches outlive the
// caller that started them, so they carry their own deadline.
func WithFetchTimeout(d time.Duration) ContextOption {
	return func(s *ContextService) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

func WithServiceLogger(l logrus.FieldLogger) ContextOption {
	return func(s *ContextService) {
		if l != nil {
			s.log = l
		}
	}
}

func NewContextService(cache *CacheFacade, host repository.SourceHost, selector repository.FileSelector, opts ...ContextOption) *ContextService {
	s := &ContextService{
		cache:            cache,
		host:             host,
		selector:         selector,
		maxFiles:         DefaultMaxFiles,
		fetchConcurrency: DefaultFetchConcurrency,
		fetchTimeout:     DefaultFetchTimeout,
		log:              logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "context_service")
	return s
}

func (s *ContextService) RepoMetadata(ctx context.Context, owner, repo string) (*entity.RepoMetadata, error) {
	if !validRepo(owner, repo) {
		return nil, fmt.Errorf("repo %q/%q: %w", owner, repo, entity.ErrInvalidIdentifier)
	}
	if meta, ok := s.cache.GetCachedRepoMetadata(ctx, owner, repo); ok {
		return meta, nil
	}

	v, err := s.shared(ctx, repoKey(owner, repo), func(fctx context.Context) (any, error) {
		meta, err := s.host.GetRepository(fctx, owner, repo)
		if err != nil {
			return nil, err
		}
		s.cache.CacheRepoMetadata(fctx, owner, repo, meta)
		return meta, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch repository %s/%s: %w", owner, repo, err)
	}
	return v.(*entity.RepoMetadata), nil
}

func (s *ContextService) Profile(ctx context.Context, username string) (*entity.ProfileMetadata, error) {
	if !validNames(username) {
		return nil, fmt.Errorf("username %q: %w", username, entity.ErrInvalidIdentifier)
	}
	if profile, ok := s.cache.GetCachedProfileData(ctx, username); ok {
		return profile, nil
	}

	v, err := s.shared(ctx, profileKey(username), func(fctx context.Context) (any, error) {
		profile, err := s.host.GetProfile(fctx, username)
		if err != nil {
			return nil, err
		}
		s.cache.CacheProfileData(fctx, username, profile)
		return profile, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", username, err)
	}
	return v.(*entity.ProfileMetadata), nil
}

// FileTree lists the tree of branch. A blank branch means the default branch.
func (s *ContextService) FileTree(ctx context.Context, owner, repo, branch string) ([]entity.TreeEntry, error) {
	if strings.TrimSpace(branch) == "" {
		meta, err := s.RepoMetadata(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
		branch = meta.DefaultBranch
	}
	if !validTree(owner, repo, branch) {
		return nil, fmt.Errorf("tree %q/%q@%q: %w", owner, repo, branch, entity.ErrInvalidIdentifier)
	}
	if tree, ok := s.cache.GetCachedFileTree(ctx, owner, repo, branch); ok {
		return tree, nil
	}

	v, err := s.shared(ctx, treeKey(owner, repo, branch), func(fctx context.Context) (any, error) {
		tree, err := s.host.GetTree(fctx, owner, repo, branch)
		if err != nil {
			return nil, err
		}
		if tree == nil {
			tree = []entity.TreeEntry{}
		}
		s.cache.CacheFileTree(fctx, owner, repo, branch, tree)
		return tree, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch tree %s/%s@%s: %w", owner, repo, branch, err)
	}
	return v.([]entity.TreeEntry), nil
}

func (s *ContextService) FileContent(ctx context.Context, owner, repo, path, sha string) (string, error) {
	if !validFile(owner, repo, path, sha) {
		return "", fmt.Errorf("file %q/%q:%q@%q: %w", owner, repo, path, sha, entity.ErrInvalidIdentifier)
	}
	if content, ok := s.cache.GetCachedFile(ctx, owner, repo, path, sha); ok {
		return content, nil
	}

	v, err := s.shared(ctx, fileKey(owner, repo, path, sha), func(fctx context.Context) (any, error) {
		content, err := s.host.GetFileContent(fctx, owner, repo, path, sha)
		if err != nil {
			return nil, err
		}
		s.cache.CacheFile(fctx, owner, repo, path, sha, content)
		return content, nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch file %s/%s:%s: %w", owner, repo, path, err)
	}
	return v.(string), nil
}

// SelectFiles returns the paths relevant to query on the default branch.
func (s *ContextService) SelectFiles(ctx context.Context, owner, repo, query string) ([]string, error) {
	meta, err := s.RepoMetadata(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	tree, err := s.FileTree(ctx, owner, repo, meta.DefaultBranch)
	if err != nil {
		return nil, err
	}
	return s.selectFiles(ctx, meta, tree, owner, repo, query)
}

func (s *ContextService) selectFiles(ctx context.Context, meta *entity.RepoMetadata, tree []entity.TreeEntry, owner, repo, query string) ([]string, error) {
	if NormalizeQuery(query) == "" {
		return nil, fmt.Errorf("query: %w", entity.ErrInvalidIdentifier)
	}
	if files, ok := s.cache.GetCachedQuerySelection(ctx, owner, repo, query); ok {
		return entity.KeepBlobs(files, tree, s.maxFiles), nil
	}

	v, err := s.shared(ctx, queryKey(owner, repo, query), func(fctx context.Context) (any, error) {
		proposed, err := s.selector.SelectFiles(fctx, meta, tree, query)
		if err != nil {
			return nil, err
		}
		files := entity.KeepBlobs(proposed, tree, s.maxFiles)
		s.cache.CacheQuerySelection(fctx, owner, repo, query, files)
		return files, nil
	})
	if err != nil {
		return nil, fmt.Errorf("select files for %s/%s: %w", owner, repo, err)
	}
	return v.([]string), nil
}

// BuildContext resolves metadata, the default-branch tree and the query
// selection, then loads the selected files with bounded concurrency.
// Files are returned in selection order.
func (s *ContextService) BuildContext(ctx context.Context, owner, repo, query string) (*entity.RepoContext, error) {
	log := s.log.WithFields(logrus.Fields{"owner": owner, "repo": repo})
	log.Debug("[ContextService] start BuildContext")

	meta, err := s.RepoMetadata(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	branch := meta.DefaultBranch
	tree, err := s.FileTree(ctx, owner, repo, branch)
	if err != nil {
		return nil, err
	}
	paths, err := s.selectFiles(ctx, meta, tree, owner, repo, query)
	if err != nil {
		return nil, err
	}

	shas := make(map[string]string, len(tree))
	for _, e := range tree {
		if e.IsBlob() {
			shas[e.Path] = e.SHA
		}
	}

	files := make([]entity.ContextFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			content, err := s.FileContent(gctx, owner, repo, p, shas[p])
			if err != nil {
				return err
			}
			files[i] = entity.ContextFile{Path: p, SHA: shas[p], Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.WithField("files", len(files)).Info("[ContextService] context built")
	return &entity.RepoContext{
		Repo:          meta,
		Branch:        branch,
		Query:         strings.TrimSpace(query),
		SelectedPaths: paths,
		Files:         files,
	}, nil
}

// ClearRepo drops every cached entry of the repository.
func (s *ContextService) ClearRepo(ctx context.Context, owner, repo string) (int64, error) {
	if !validRepo(owner, repo) {
		return 0, fmt.Errorf("repo %q/%q: %w", owner, repo, entity.ErrInvalidIdentifier)
	}
	return s.cache.ClearRepoCache(ctx, owner, repo), nil
}

func (s *ContextService) Health(ctx context.Context) entity.CacheHealth {
	return s.cache.HealthCheck(ctx)
}

// shared runs fn once per key across concurrent callers. fn gets a context
// detached from the caller's cancellation with its own fetchTimeout, so a
// caller that gives up only stops waiting and the others still get the result.
func (s *ContextService) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}
