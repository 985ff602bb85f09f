package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var tree = []TreeEntry{
	{Path: "README.md", Type: TreeEntryBlob, SHA: "r"},
	{Path: "go.mod", Type: TreeEntryBlob, SHA: "g"},
	{Path: "internal", Type: TreeEntryTree, SHA: "i"},
	{Path: "internal/server.go", Type: TreeEntryBlob, SHA: "s"},
}

func TestKeepBlobs(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		limit int
		want  []string
	}{
		{name: "keeps order", paths: []string{"go.mod", "README.md"}, limit: 10, want: []string{"go.mod", "README.md"}},
		{name: "trims and dedups", paths: []string{" go.mod ", "/go.mod", "README.md"}, limit: 10, want: []string{"go.mod", "README.md"}},
		{name: "drops trees and unknown paths", paths: []string{"internal", "missing.go", "internal/server.go"}, limit: 10, want: []string{"internal/server.go"}},
		{name: "caps at limit", paths: []string{"go.mod", "README.md"}, limit: 1, want: []string{"go.mod"}},
		{name: "non-positive limit", paths: []string{"go.mod"}, limit: 0, want: []string{}},
		{name: "no paths", paths: nil, limit: 5, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeepBlobs(tt.paths, tree, tt.limit))
		})
	}
}
