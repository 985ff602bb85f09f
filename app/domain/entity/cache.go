package entity

import "time"

// Namespace is the first segment of every cache key.
type Namespace string

const (
	NamespaceFile    Namespace = "file"
	NamespaceRepo    Namespace = "repo"
	NamespaceProfile Namespace = "profile"
	NamespaceTree    Namespace = "tree"
	NamespaceQuery   Namespace = "query"
)

// Namespaces lists every namespace in a stable order.
var Namespaces = []Namespace{
	NamespaceFile,
	NamespaceRepo,
	NamespaceProfile,
	NamespaceTree,
	NamespaceQuery,
}

// RepoScoped reports whether keys of the namespace belong to a single owner/repo
// and are therefore recorded in the repository index.
func (n Namespace) RepoScoped() bool {
	switch n {
	case NamespaceFile, NamespaceRepo, NamespaceTree, NamespaceQuery:
		return true
	default:
		return false
	}
}

func (n Namespace) String() string {
	return string(n)
}

// TTLPolicy holds the lifetime of entries for every namespace.
type TTLPolicy struct {
	File    time.Duration
	Repo    time.Duration
	Profile time.Duration
	Tree    time.Duration
	Query   time.Duration
}

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		File:    time.Hour,
		Repo:    15 * time.Minute,
		Profile: 30 * time.Minute,
		Tree:    15 * time.Minute,
		Query:   24 * time.Hour,
	}
}

// For returns the TTL of the namespace. Zero fields fall back to the default policy.
func (p TTLPolicy) For(ns Namespace) time.Duration {
	def := DefaultTTLPolicy()
	pick := func(v, d time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return d
	}
	switch ns {
	case NamespaceFile:
		return pick(p.File, def.File)
	case NamespaceRepo:
		return pick(p.Repo, def.Repo)
	case NamespaceProfile:
		return pick(p.Profile, def.Profile)
	case NamespaceTree:
		return pick(p.Tree, def.Tree)
	case NamespaceQuery:
		return pick(p.Query, def.Query)
	default:
		return 0
	}
}

// Longest returns the largest TTL across namespaces.
func (p TTLPolicy) Longest() time.Duration {
	var longest time.Duration
	for _, ns := range Namespaces {
		if ttl := p.For(ns); ttl > longest {
			longest = ttl
		}
	}
	return longest
}

// CacheHealth is reported to diagnostics surfaces.
type CacheHealth struct {
	Available bool   `json:"available"`
	Backend   string `json:"backend"`
	LatencyMS int64  `json:"latency_ms"`
	// Keys is set only by backends that can count their keys cheaply.
	Keys *int64 `json:"keys,omitempty"`
}
