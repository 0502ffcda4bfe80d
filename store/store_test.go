// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mozilla/wptsync/commit"
	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

func newRepoWithCommit(t *testing.T) (dir, sha string) {
	t.Helper()
	dir, err := gitcmd.NewTempGitRepo()
	if err != nil {
		t.Fatalf("NewTempGitRepo: %v", err)
	}
	t.Cleanup(func() { gitcmd.AttemptDelete(dir) })
	if err := gitcmd.Run(dir, "config", "user.email", "wptsync-test@example.com"); err != nil {
		t.Fatalf("git config user.email: %v", err)
	}
	if err := gitcmd.Run(dir, "config", "user.name", "wptsync-test"); err != nil {
		t.Fatalf("git config user.name: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("state repo\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	if err := gitcmd.Run(dir, "add", "-A"); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if err := gitcmd.Run(dir, "commit", "-m", "initial"); err != nil {
		t.Fatalf("git commit: %v", err)
	}
	sha, err = gitcmd.RevParse(dir, "HEAD")
	if err != nil {
		t.Fatalf("rev-parse HEAD: %v", err)
	}
	return dir, sha
}

func TestPersistListRoundTrip(t *testing.T) {
	dir, sha := newRepoWithCommit(t)
	st := &Store{Dir: dir}

	sync := upstreamsync.New("1001", 1)
	sync.GeckoCommits = []*commit.Gecko{{Hash: sha}}
	sync.PRID = 42
	sync.PRStatus = "open"
	sync.RemoteBranch = "gecko/1001"
	sync.Error = "boom\ndetail"

	if err := st.Persist(sync, "", 0); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	all, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List returned %d syncs, want 1", len(all))
	}
	got := all[0]
	if got.Bug != "1001" || got.SeqID != 1 || got.Status != upstreamsync.StatusOpen {
		t.Errorf("got (bug=%s seq=%d status=%s), want (1001, 1, open)", got.Bug, got.SeqID, got.Status)
	}
	if got.PRID != 42 || got.PRStatus != "open" || got.RemoteBranch != "gecko/1001" || got.Error != "boom\ndetail" {
		t.Errorf("metadata not round-tripped: %+v", got)
	}
	if len(got.GeckoCommits) != 1 || got.GeckoCommits[0].Hash != sha {
		t.Errorf("gecko head = %v, want %s", got.GeckoCommits, sha)
	}
}

func TestPersistRenamesRefsOnTransition(t *testing.T) {
	dir, sha := newRepoWithCommit(t)
	st := &Store{Dir: dir}

	sync := upstreamsync.New("1002", 1)
	sync.GeckoCommits = []*commit.Gecko{{Hash: sha}}
	if err := st.Persist(sync, "", 0); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	lock := upstreamsync.Acquire()
	defer lock.Release()
	mut := upstreamsync.Begin(lock, sync)
	if err := mut.Transition(upstreamsync.StatusIncomplete); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := st.Persist(sync, upstreamsync.StatusOpen, 1); err != nil {
		t.Fatalf("Persist after transition: %v", err)
	}

	all, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List returned %d syncs, want 1 (stale open refs must be removed)", len(all))
	}
	if all[0].Status != upstreamsync.StatusIncomplete {
		t.Errorf("status = %s, want incomplete", all[0].Status)
	}
}

func TestPushPointRoundTrip(t *testing.T) {
	dir, sha := newRepoWithCommit(t)
	st := &Store{Dir: dir}

	got, err := st.PushPoint()
	if err != nil {
		t.Fatalf("PushPoint: %v", err)
	}
	if got != "" {
		t.Errorf("initial PushPoint = %q, want empty", got)
	}

	if err := st.SetPushPoint(sha); err != nil {
		t.Fatalf("SetPushPoint: %v", err)
	}
	got, err = st.PushPoint()
	if err != nil {
		t.Fatalf("PushPoint: %v", err)
	}
	if got != sha {
		t.Errorf("PushPoint = %q, want %q", got, sha)
	}
}
