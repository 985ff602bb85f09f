package repository

import (
	"context"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
)

// FileSelector picks the files of a repository relevant to a free-text query.
type FileSelector interface {
	SelectFiles(ctx context.Context, repo *entity.RepoMetadata, tree []entity.TreeEntry, query string) ([]string, error)
}
