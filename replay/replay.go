// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package replay keeps a sync's upstream side
// branch in step with its gecko commit list by cherry-picking new gecko commits (restricted to
// the tracked subtree) onto the branch, and truncating/rebuilding the branch when gecko history
// has rewound (a backout shortened the matching prefix).
package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mozilla/wptsync/commit"
	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

// Engine replays gecko commits onto an upstream side branch worktree.
type Engine struct {
	// SourceDir is the gecko repository (or a shared clone of it) that GeckoCommits are read from.
	SourceDir string
	// WorkDir is the upstream repository worktree replays are built in, on a detached HEAD so no
	// local branch ref moves as a side effect. Sidecar "<rev>.diff" files live here too: a failed
	// apply leaves its patch behind for inspection, and the clean before the next replay removes
	// it again.
	WorkDir string
	// TrackedSubtree is the path prefix mirrored upstream; patches are restricted to it and the
	// prefix is stripped before applying.
	TrackedSubtree string
	// IntegrationBranch names the repository the commits originated from, used in the trailer.
	IntegrationBranch string
	// BugzillaURL, given a bug, returns the bug's URL for the trailer. May be nil.
	BugzillaURL func(bug string) string
}

// Result reports what UpdateWptCommits did.
type Result struct {
	Changed bool
}

// UpdateWptCommits brings the side branch in line with the sync's gecko commits. base is the
// upstream branch's point of divergence (used when the matching prefix becomes empty).
func (e *Engine) UpdateWptCommits(mut *upstreamsync.Mut, base string) (Result, error) {
	s := mut.Sync()
	if len(s.GeckoCommits) == 0 {
		return Result{Changed: false}, nil
	}
	upstreamed := s.UpstreamedGeckoCommits()

	// Find the gecko commits that were already replayed. Some gecko commits produce no upstream
	// commit (empty once restricted to the tracked subtree), so walk from the tail: once the most
	// recent already-replayed commit is found, every earlier one must have matched on a previous
	// run too.
	matching := len(s.GeckoCommits)
	for i := len(s.GeckoCommits) - 1; i >= 0; i-- {
		if upstreamed[s.GeckoCommits[i].Hash] {
			break
		}
		matching--
	}

	if matching == len(s.GeckoCommits) && matching == len(upstreamed) {
		return Result{Changed: false}, nil
	}

	newWpt := append([]*commit.Upstream(nil), s.WptCommits[:min(matching, len(s.WptCommits))]...)

	target := base
	if len(newWpt) > 0 {
		target = newWpt[len(newWpt)-1].Hash
	}
	if err := gitcmd.ResetHard(e.WorkDir, ""); err != nil {
		return Result{}, fmt.Errorf("replay: cleaning worktree: %w", err)
	}
	if err := gitcmd.CheckoutDetach(e.WorkDir, target); err != nil {
		return Result{}, fmt.Errorf("replay: checking out %s: %w", target, err)
	}

	for _, g := range s.GeckoCommits[matching:] {
		bugURL := ""
		if e.BugzillaURL != nil {
			bugURL = e.BugzillaURL(s.Bug)
		}
		sha, dropped, err := e.addCommit(g, bugURL)
		if err != nil {
			return Result{}, &ConflictError{Bug: s.Bug, GeckoRev: g.Hash, Err: err}
		}
		if dropped {
			continue
		}
		newWpt = append(newWpt, &commit.Upstream{
			Hash: sha,
			Metadata: map[string]string{
				commit.MetaGeckoCommit:            g.Hash,
				commit.MetaGeckoIntegrationBranch: e.IntegrationBranch,
				commit.MetaBugzillaURL:            bugURL,
			},
		})
	}

	mut.SetWptCommits(newWpt)
	return Result{Changed: true}, nil
}

// addCommit diffs g restricted to the tracked subtree, strips the subtree prefix, rewrites the
// message, applies, and drops silently if the result is a no-op.
func (e *Engine) addCommit(g *commit.Gecko, bugzillaURL string) (sha string, dropped bool, err error) {
	patchPath := filepath.Join(e.WorkDir, g.Hash+".diff")
	if _, statErr := os.Stat(patchPath); statErr == nil {
		// A leftover patch for this rev means a previous attempt in this same checkout already
		// failed on it; trying again without an intervening clean will presumably fail too.
		return "", false, fmt.Errorf("sidecar patch file %s already exists (stale retry)", patchPath)
	}

	diff, err := gitcmd.CombinedOutput(e.SourceDir, "diff", g.Hash+"^", g.Hash, "--", e.TrackedSubtree)
	if err != nil {
		return "", false, fmt.Errorf("diffing %s restricted to %s: %w", g.Hash, e.TrackedSubtree, err)
	}
	stripped := stripSubtreePrefix(diff, e.TrackedSubtree)
	if strings.TrimSpace(stripped) == "" {
		// No net change after path filtering: nothing to replay.
		return "", true, nil
	}

	if err := os.WriteFile(patchPath, []byte(stripped), 0o644); err != nil {
		return "", false, fmt.Errorf("writing sidecar patch file: %w", err)
	}

	if err := gitcmd.Run(e.WorkDir, "apply", "--index", patchPath); err != nil {
		// Leave the patch file in place for inspection; the clean before the next replay attempt
		// removes it.
		return "", false, fmt.Errorf("applying patch for %s: %w", g.Hash, err)
	}

	message := commit.AppendMetadata(commit.FilterMessage(g.Message), g.Hash, e.IntegrationBranch, bugzillaURL)
	if err := gitcmd.Run(e.WorkDir, "commit", "--allow-empty", "-m", message); err != nil {
		return "", false, fmt.Errorf("committing replay of %s: %w", g.Hash, err)
	}
	_ = os.Remove(patchPath)

	sha, err = gitcmd.RevParse(e.WorkDir, "HEAD")
	if err != nil {
		return "", false, err
	}

	empty, err := gitcmd.CommitTreeEqualToParent(e.WorkDir, sha)
	if err != nil {
		return "", false, err
	}
	if empty {
		if err := gitcmd.Run(e.WorkDir, "reset", "--hard", "HEAD^"); err != nil {
			return "", false, err
		}
		return "", true, nil
	}

	return sha, false, nil
}

// stripSubtreePrefix rewrites a "git diff" unified diff's "a/<subtree>/..." and "b/<subtree>/..."
// path headers to drop the subtree prefix, so the patch applies cleanly against a repository
// rooted at what was the subtree.
func stripSubtreePrefix(diff, subtree string) string {
	prefix := strings.TrimSuffix(subtree, "/") + "/"
	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "--- a/"+prefix):
			lines[i] = "--- a/" + strings.TrimPrefix(line, "--- a/"+prefix)
		case strings.HasPrefix(line, "+++ b/"+prefix):
			lines[i] = "+++ b/" + strings.TrimPrefix(line, "+++ b/"+prefix)
		case strings.HasPrefix(line, "diff --git a/"+prefix):
			rest := strings.TrimPrefix(line, "diff --git a/"+prefix)
			// rest looks like "<path> b/<subtree>/<path>"; strip the b/ side too.
			rest = strings.Replace(rest, " b/"+prefix, " b/", 1)
			lines[i] = "diff --git a/" + rest
		}
	}
	return strings.Join(lines, "\n")
}

// ConflictError wraps a failure to apply a gecko commit's patch.
type ConflictError struct {
	Bug      string
	GeckoRev string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("replay conflict for bug %s at gecko commit %s: %v", e.Bug, e.GeckoRev, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
