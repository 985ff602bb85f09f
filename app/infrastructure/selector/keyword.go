package selector

import (
	"context"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
	"github.com/mark47B/gh-context-cache/app/domain/repository"
)

const DefaultMaxFiles = 12

// Files that describe a repository well when the query matches nothing.
var landmarkFiles = []string{
	"readme.md",
	"readme",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"cargo.toml",
	"pom.xml",
	"makefile",
	"dockerfile",
}

// KeywordSelector ranks blob paths by how many query terms they contain.
// It needs no network and is used when no model is configured.
type KeywordSelector struct {
	maxFiles int
}

var _ repository.FileSelector = (*KeywordSelector)(nil)

func NewKeywordSelector(maxFiles int) *KeywordSelector {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	return &KeywordSelector{maxFiles: maxFiles}
}

type scoredPath struct {
	path  string
	score int
}

func (s *KeywordSelector) SelectFiles(ctx context.Context, _ *entity.RepoMetadata, tree []entity.TreeEntry, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := queryTerms(query)

	var ranked []scoredPath
	for _, e := range tree {
		if !e.IsBlob() {
			continue
		}
		lower := strings.ToLower(e.Path)
		score := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scoredPath{path: e.Path, score: score})
		}
	}

	if len(ranked) == 0 {
		return landmarks(tree, s.maxFiles), nil
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].path < ranked[j].path
	})

	out := make([]string, 0, min(len(ranked), s.maxFiles))
	for _, r := range ranked {
		if len(out) == s.maxFiles {
			break
		}
		out = append(out, r.path)
	}
	return out, nil
}

// queryTerms splits q into lowercase words of two or more runes.
func queryTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// landmarks returns top-level landmark files present in tree, in landmarkFiles order.
func landmarks(tree []entity.TreeEntry, limit int) []string {
	byName := make(map[string]string)
	for _, e := range tree {
		if !e.IsBlob() || path.Dir(e.Path) != "." {
			continue
		}
		byName[strings.ToLower(e.Path)] = e.Path
	}
	out := []string{}
	for _, name := range landmarkFiles {
		if p, ok := byName[name]; ok {
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}
