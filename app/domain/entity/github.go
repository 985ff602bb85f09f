package entity

import (
	"strings"
	"time"
)

type RepoMetadata struct {
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description,omitempty"`
	DefaultBranch string    `json:"default_branch"`
	Language      string    `json:"language,omitempty"`
	Topics        []string  `json:"topics,omitempty"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	OpenIssues    int       `json:"open_issues"`
	Private       bool      `json:"private"`
	Fork          bool      `json:"fork"`
	Archived      bool      `json:"archived"`
	HTMLURL       string    `json:"html_url,omitempty"`
	PushedAt      time.Time `json:"pushed_at,omitempty"`
}

type ProfileMetadata struct {
	Login       string `json:"login"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	Blog        string `json:"blog,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	HTMLURL     string `json:"html_url,omitempty"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
}

const (
	TreeEntryBlob = "blob"
	TreeEntryTree = "tree"
)

// TreeEntry is one node of a git tree as listed by the source host.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

func (e TreeEntry) IsBlob() bool {
	return e.Type == TreeEntryBlob
}

// KeepBlobs returns the paths that name blobs of tree, in order and without
// duplicates, up to limit. Surrounding whitespace and a leading slash are ignored.
func KeepBlobs(paths []string, tree []TreeEntry, limit int) []string {
	blobs := make(map[string]struct{}, len(tree))
	for _, e := range tree {
		if e.IsBlob() {
			blobs[e.Path] = struct{}{}
		}
	}
	out := make([]string, 0, min(len(paths), max(limit, 0)))
	for _, p := range paths {
		if len(out) >= limit {
			break
		}
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if _, ok := blobs[p]; !ok {
			continue
		}
		delete(blobs, p)
		out = append(out, p)
	}
	return out
}

type ContextFile struct {
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

// RepoContext is the subset of a repository loaded for a single query.
type RepoContext struct {
	Repo          *RepoMetadata `json:"repo"`
	Branch        string        `json:"branch"`
	Query         string        `json:"query"`
	SelectedPaths []string      `json:"selected_paths"`
	Files         []ContextFile `json:"files"`
}
