package entity

import "errors"

var (
	// ErrCacheMiss is returned by cache stores when the key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")
	// ErrInvalidIdentifier marks a blank owner, repo, path, sha, branch, username or query.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrNotFound is returned by the source host for unknown repositories, users or blobs.
	ErrNotFound = errors.New("not found")
)
