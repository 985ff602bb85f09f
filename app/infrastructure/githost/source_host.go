package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/sirupsen/logrus"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
	"github.com/mark47B/gh-context-cache/app/infrastructure/metrics"
)

// SourceHost reads repositories, profiles, trees and blobs from the GitHub REST API.
type SourceHost struct {
	client *github.Client
}

var _ repository.SourceHost = (*SourceHost)(nil)

type Option func(*github.Client) error

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) Option {
	return func(c *github.Client) error {
		if raw == "" {
			return nil
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse github base url: %w", err)
		}
		c.BaseURL = u
		return nil
	}
}

func NewSourceHost(token string, timeout time.Duration, opts ...Option) (*SourceHost, error) {
	client := github.NewClient(&http.Client{Timeout: timeout})
	if token != "" {
		client = client.WithAuthToken(token)
	}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return &SourceHost{client: client}, nil
}

func (s *SourceHost) GetRepository(ctx context.Context, owner, repo string) (*entity.RepoMetadata, error) {
	r, _, err := s.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, observe("repo", wrapError(err, "get repository %s/%s", owner, repo))
	}
	observe("repo", nil)

	meta := &entity.RepoMetadata{
		Owner:         owner,
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.GetLanguage(),
		Topics:        r.Topics,
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		Private:       r.GetPrivate(),
		Fork:          r.GetFork(),
		Archived:      r.GetArchived(),
		HTMLURL:       r.GetHTMLURL(),
	}
	if o := r.GetOwner(); o != nil && o.GetLogin() != "" {
		meta.Owner = o.GetLogin()
	}
	if pushed := r.GetPushedAt(); !pushed.IsZero() {
		meta.PushedAt = pushed.Time
	}
	return meta, nil
}

func (s *SourceHost) GetProfile(ctx context.Context, username string) (*entity.ProfileMetadata, error) {
	u, _, err := s.client.Users.Get(ctx, username)
	if err != nil {
		return nil, observe("profile", wrapError(err, "get user %s", username))
	}
	observe("profile", nil)

	return &entity.ProfileMetadata{
		Login:       u.GetLogin(),
		Name:        u.GetName(),
		Type:        u.GetType(),
		Bio:         u.GetBio(),
		Company:     u.GetCompany(),
		Location:    u.GetLocation(),
		Blog:        u.GetBlog(),
		AvatarURL:   u.GetAvatarURL(),
		HTMLURL:     u.GetHTMLURL(),
		PublicRepos: u.GetPublicRepos(),
		Followers:   u.GetFollowers(),
		Following:   u.GetFollowing(),
	}, nil
}

// GetTree lists the tree of branch recursively, in the order GitHub returns it.
func (s *SourceHost) GetTree(ctx context.Context, owner, repo, branch string) ([]entity.TreeEntry, error) {
	tree, _, err := s.client.Git.GetTree(ctx, owner, repo, branch, true)
	if err != nil {
		return nil, observe("tree", wrapError(err, "get tree %s/%s@%s", owner, repo, branch))
	}
	observe("tree", nil)

	if tree.GetTruncated() {
		logrus.WithFields(logrus.Fields{"owner": owner, "repo": repo, "branch": branch}).
			Warn("[SourceHost] tree listing truncated by GitHub")
	}

	entries := make([]entity.TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, entity.TreeEntry{
			Path: e.GetPath(),
			Mode: e.GetMode(),
			Type: e.GetType(),
			SHA:  e.GetSHA(),
			Size: int64(e.GetSize()),
		})
	}
	return entries, nil
}

// GetFileContent downloads the blob identified by sha. path is only used for errors.
func (s *SourceHost) GetFileContent(ctx context.Context, owner, repo, path, sha string) (string, error) {
	raw, _, err := s.client.Git.GetBlobRaw(ctx, owner, repo, sha)
	if err != nil {
		return "", observe("file", wrapError(err, "get blob %s/%s:%s@%s", owner, repo, path, sha))
	}
	observe("file", nil)
	return string(raw), nil
}

func wrapError(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", msg, entity.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func observe(kind string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SourceFetches.WithLabelValues(kind, result).Inc()
	return err
}
