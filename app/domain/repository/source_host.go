package repository

import (
	"context"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
)

// SourceHost fetches repository data from the source-control host.
type SourceHost interface {
	GetRepository(ctx context.Context, owner, repo string) (*entity.RepoMetadata, error)
	GetProfile(ctx context.Context, username string) (*entity.ProfileMetadata, error)
	GetTree(ctx context.Context, owner, repo, branch string) ([]entity.TreeEntry, error)
	GetFileContent(ctx context.Context, owner, repo, path, sha string) (string, error)
}
