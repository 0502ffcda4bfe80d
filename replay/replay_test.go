// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mozilla/wptsync/commit"
	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

func TestStripSubtreePrefix(t *testing.T) {
	diff := `diff --git a/testing/web-platform/tests/foo.html b/testing/web-platform/tests/foo.html
index 1111111..2222222 100644
--- a/testing/web-platform/tests/foo.html
+++ b/testing/web-platform/tests/foo.html
@@ -1 +1 @@
-old
+new
`
	want := `diff --git a/foo.html b/foo.html
index 1111111..2222222 100644
--- a/foo.html
+++ b/foo.html
@@ -1 +1 @@
-old
+new
`
	got := stripSubtreePrefix(diff, "testing/web-platform/tests")
	if got != want {
		t.Errorf("stripSubtreePrefix() =\n%s\nwant\n%s", got, want)
	}
}

// configureIdentity gives a freshly-initialized repo a committer identity, since
// gitcmd.NewTempGitRepo doesn't inherit one from any global config that happens to be present.
func configureIdentity(t *testing.T, dir string) {
	t.Helper()
	if err := gitcmd.Run(dir, "config", "user.email", "wptsync-test@example.com"); err != nil {
		t.Fatalf("git config user.email: %v", err)
	}
	if err := gitcmd.Run(dir, "config", "user.name", "wptsync-test"); err != nil {
		t.Fatalf("git config user.name: %v", err)
	}
}

func commitFile(t *testing.T, dir, path, contents, message string) string {
	t.Helper()
	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := gitcmd.Run(dir, "add", "-A"); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if err := gitcmd.Run(dir, "commit", "-m", message); err != nil {
		t.Fatalf("git commit: %v", err)
	}
	sha, err := gitcmd.RevParse(dir, "HEAD")
	if err != nil {
		t.Fatalf("rev-parse HEAD: %v", err)
	}
	return sha
}

// TestUpdateWptCommitsAppliesGeckoCommitOntoSideBranch exercises UpdateWptCommits end to end
// against real repositories: a gecko commit touching the tracked subtree is diffed, path-stripped,
// applied, and committed onto the upstream side branch.
func TestUpdateWptCommitsAppliesGeckoCommitOntoSideBranch(t *testing.T) {
	const subtree = "testing/web-platform/tests"

	source, err := gitcmd.NewTempGitRepo()
	if err != nil {
		t.Fatalf("NewTempGitRepo(source): %v", err)
	}
	defer gitcmd.AttemptDelete(source)
	configureIdentity(t, source)
	commitFile(t, source, "README", "gecko tree\n", "initial gecko commit")
	geckoRev := commitFile(t, source, subtree+"/foo.html", "<p>hello</p>\n", "Bug 1001 - add foo.html test. r=x")

	upstream, err := gitcmd.NewTempGitRepo()
	if err != nil {
		t.Fatalf("NewTempGitRepo(upstream): %v", err)
	}
	defer gitcmd.AttemptDelete(upstream)
	configureIdentity(t, upstream)
	base := commitFile(t, upstream, "README", "wpt tree\n", "initial upstream commit")

	e := &Engine{
		SourceDir:         source,
		WorkDir:           upstream,
		TrackedSubtree:    subtree,
		IntegrationBranch: "autoland",
	}

	sync := upstreamsync.New("1001", 1)
	sync.GeckoCommits = []*commit.Gecko{{
		Hash:    geckoRev,
		Bug:     1001,
		Message: "Bug 1001 - add foo.html test. r=x",
		Paths:   []string{subtree + "/foo.html"},
	}}
	lock := upstreamsync.Acquire()
	defer lock.Release()
	mut := upstreamsync.Begin(lock, sync)

	result, err := e.UpdateWptCommits(mut, base)
	if err != nil {
		t.Fatalf("UpdateWptCommits: %v", err)
	}
	if !result.Changed {
		t.Fatal("result.Changed = false, want true")
	}
	if len(sync.WptCommits) != 1 {
		t.Fatalf("len(WptCommits) = %d, want 1", len(sync.WptCommits))
	}
	if sync.WptCommits[0].Metadata[commit.MetaGeckoCommit] != geckoRev {
		t.Errorf("MetaGeckoCommit = %q, want %q", sync.WptCommits[0].Metadata[commit.MetaGeckoCommit], geckoRev)
	}

	head, err := gitcmd.RevParse(upstream, "HEAD")
	if err != nil {
		t.Fatalf("rev-parse HEAD: %v", err)
	}
	if head != sync.WptCommits[0].Hash {
		t.Errorf("upstream HEAD = %s, want %s", head, sync.WptCommits[0].Hash)
	}
	if _, err := os.Stat(filepath.Join(upstream, "foo.html")); err != nil {
		t.Errorf("expected foo.html to exist at the stripped path: %v", err)
	}

	// Replay is idempotent: a second run with no gecko change reports nothing to do.
	again, err := e.UpdateWptCommits(mut, base)
	if err != nil {
		t.Fatalf("second UpdateWptCommits: %v", err)
	}
	if again.Changed {
		t.Error("second UpdateWptCommits reported a change, want unchanged")
	}
}
