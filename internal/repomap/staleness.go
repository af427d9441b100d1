package repomap

import (
	"context"
	"fmt"
)

// Staleness is a read-only diagnostic of how far a map lags the work tree.
type Staleness struct {
	IsStale            bool   `json:"isStale"`
	Reason             string `json:"reason,omitempty"`
	CommitsBehind      int    `json:"commitsBehind,omitempty"`
	SuggestFullRebuild bool   `json:"suggestFullRebuild,omitempty"`
}

// checkStaleness evaluates, in order: no recorded commit, the stale marker, a
// vanished commit, a branch switch, and commits made since the recorded one.
// The first matching case decides the result.
func checkStaleness(ctx context.Context, g *gitClient, store *Store, basePath string, m *RepoMap) Staleness {
	if m == nil {
		return Staleness{IsStale: true, Reason: "no repo map", SuggestFullRebuild: true}
	}
	if m.Git == nil || m.Git.Commit == "" {
		return Staleness{IsStale: true, Reason: "map has no recorded commit", SuggestFullRebuild: true}
	}
	if store.IsMarkedStale(basePath) {
		return Staleness{IsStale: true, Reason: "map marked stale"}
	}
	if !g.commitExists(ctx, basePath, m.Git.Commit) {
		return Staleness{
			IsStale:            true,
			Reason:             fmt.Sprintf("recorded commit %s no longer exists", m.Git.Commit),
			SuggestFullRebuild: true,
		}
	}
	if m.Git.Branch != "" {
		if branch, err := g.currentBranch(ctx, basePath); err == nil && branch != m.Git.Branch {
			return Staleness{IsStale: true, Reason: fmt.Sprintf("branch changed from %s to %s", m.Git.Branch, branch)}
		}
	}
	if behind, err := g.commitsBehind(ctx, basePath, m.Git.Commit); err == nil && behind > 0 {
		return Staleness{
			IsStale:       true,
			Reason:        fmt.Sprintf("%d commit(s) behind HEAD", behind),
			CommitsBehind: behind,
		}
	}
	return Staleness{}
}
