package usecase

import (
	"strings"

	"github.com/mark47B/gh-context-cache/app/domain/entity"
)

const repoIndexPrefix = "idx:"

// NormalizeQuery folds case and strips surrounding whitespace so that
// equivalent queries share one cache entry.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func repoSlug(owner, repo string) string {
	return owner + "/" + repo
}

// file:{owner}/{repo}:{path}:{sha}
func fileKey(owner, repo, path, sha string) string {
	return string(entity.NamespaceFile) + ":" + repoSlug(owner, repo) + ":" + path + ":" + sha
}

// repo:{owner}/{repo}
func repoKey(owner, repo string) string {
	return string(entity.NamespaceRepo) + ":" + repoSlug(owner, repo)
}

// profile:{username}
func profileKey(username string) string {
	return string(entity.NamespaceProfile) + ":" + username
}

// tree:{owner}/{repo}:{branch}
func treeKey(owner, repo, branch string) string {
	return string(entity.NamespaceTree) + ":" + repoSlug(owner, repo) + ":" + branch
}

// query:{owner}/{repo}:{normalized query}
func queryKey(owner, repo, query string) string {
	return string(entity.NamespaceQuery) + ":" + repoSlug(owner, repo) + ":" + NormalizeQuery(query)
}

// idx:{owner}/{repo} holds every repo-scoped key written for the repository.
func repoIndexKey(owner, repo string) string {
	return repoIndexPrefix + repoSlug(owner, repo)
}

func validIdentifiers(ids ...string) bool {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return false
		}
	}
	return true
}

// validNames checks owner, repo and user names. They become key segments
// next to '/' and ':' separators, so they may contain neither. GitHub names
// never do.
func validNames(names ...string) bool {
	for _, n := range names {
		if strings.TrimSpace(n) == "" || strings.ContainsAny(n, "/:") {
			return false
		}
	}
	return true
}

// validRefs checks shas and branch names, which may hold '/' but, like any git
// ref, never ':'.
func validRefs(refs ...string) bool {
	for _, r := range refs {
		if strings.TrimSpace(r) == "" || strings.Contains(r, ":") {
			return false
		}
	}
	return true
}

func validRepo(owner, repo string) bool {
	return validNames(owner, repo)
}

// validFile accepts any non-blank path: with owner, repo and sha free of ':',
// the path is whatever lies between the second and the last ':' of the key.
func validFile(owner, repo, path, sha string) bool {
	return validRepo(owner, repo) && validIdentifiers(path) && validRefs(sha)
}

func validTree(owner, repo, branch string) bool {
	return validRepo(owner, repo) && validRefs(branch)
}

func validQuery(owner, repo, query string) bool {
	return validRepo(owner, repo) && NormalizeQuery(query) != ""
}
