// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/mozilla/wptsync/commit"
	"github.com/mozilla/wptsync/upstreamsync"
)

const subtree = "testing/web-platform/tests"

func gecko(hash string, bug int, path string) *commit.Gecko {
	return &commit.Gecko{
		Hash:    hash,
		Bug:     bug,
		Message: "bug " + itoa(bug) + ": test change",
		Paths:   []string{path},
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestUpdatedSyncsForPush_NewBugCreatesBucket(t *testing.T) {
	c := gecko("aaa111", 123, subtree+"/foo.html")
	idx := NewIndex(nil)

	creates, updates := UpdatedSyncsForPush([]*commit.Gecko{c}, idx, subtree)

	if len(updates) != 0 {
		t.Fatalf("updates = %v, want empty", updates)
	}
	bucket, ok := creates["123"]
	if !ok {
		t.Fatalf("creates = %v, want a bucket for bug 123", creates)
	}
	if diff := deep.Equal(bucket.Commits, []*commit.Gecko{c}); diff != nil {
		t.Errorf("bucket.Commits diff: %v", diff)
	}
}

func TestUpdatedSyncsForPush_AnonymousBugGoesToOrphanBucket(t *testing.T) {
	c := gecko("aaa111", 0, subtree+"/foo.html")
	idx := NewIndex(nil)

	creates, _ := UpdatedSyncsForPush([]*commit.Gecko{c}, idx, subtree)

	if _, ok := creates[anonymousBug]; !ok {
		t.Fatalf("creates = %v, want an orphan bucket", creates)
	}
}

func TestUpdatedSyncsForPush_AppendsToActiveSyncForSameBug(t *testing.T) {
	existing := upstreamsync.New("123", 1)
	existing.GeckoCommits = []*commit.Gecko{gecko("existing", 123, subtree+"/bar.html")}
	idx := NewIndex([]*upstreamsync.UpstreamSync{existing})

	c := gecko("aaa111", 123, subtree+"/foo.html")
	creates, updates := UpdatedSyncsForPush([]*commit.Gecko{c}, idx, subtree)

	if len(creates) != 0 {
		t.Fatalf("creates = %v, want empty", creates)
	}
	got, ok := updates[existing]
	if !ok || len(got) != 1 || got[0] != c {
		t.Fatalf("updates[existing] = %v, want [%v]", got, c)
	}
}

func TestUpdatedSyncsForPush_AlreadyOwnedCommitIsSkipped(t *testing.T) {
	existing := upstreamsync.New("123", 1)
	owned := gecko("aaa111", 123, subtree+"/foo.html")
	existing.GeckoCommits = []*commit.Gecko{owned}
	idx := NewIndex([]*upstreamsync.UpstreamSync{existing})

	creates, updates := UpdatedSyncsForPush([]*commit.Gecko{owned}, idx, subtree)

	if len(creates) != 0 || len(updates) != 0 {
		t.Fatalf("creates = %v, updates = %v, want both empty (commit already owned)", creates, updates)
	}
}

func TestUpdatedSyncsForPush_UntrackedPathIsSkipped(t *testing.T) {
	c := gecko("aaa111", 123, "unrelated/path.html")
	idx := NewIndex(nil)

	creates, updates := UpdatedSyncsForPush([]*commit.Gecko{c}, idx, subtree)

	if len(creates) != 0 || len(updates) != 0 {
		t.Fatalf("creates = %v, updates = %v, want both empty (commit outside tracked subtree)", creates, updates)
	}
}

func TestUpdatedSyncsForPush_BackoutAttributedToOwningSyncIsAppended(t *testing.T) {
	original := gecko("aaa111", 123, subtree+"/foo.html")
	existing := upstreamsync.New("123", 1)
	existing.GeckoCommits = []*commit.Gecko{original}
	existing.WptCommits = []*commit.Upstream{{
		Hash:     "wpt1",
		Metadata: map[string]string{commit.MetaGeckoCommit: "aaa111"},
	}}
	idx := NewIndex([]*upstreamsync.UpstreamSync{existing})

	backout := &commit.Gecko{
		Hash:      "bbb222",
		Bug:       123,
		Message:   "bug 123: backed out changeset aaa111111111",
		IsBackout: true,
		BackedOut: []string{"aaa111"},
	}

	creates, updates := UpdatedSyncsForPush([]*commit.Gecko{backout}, idx, subtree)

	if len(creates) != 0 {
		t.Fatalf("creates = %v, want empty", creates)
	}
	got := updates[existing]
	if len(got) != 1 || got[0] != backout {
		t.Fatalf("updates[existing] = %v, want [%v]", got, backout)
	}
}

func TestUpdatedSyncsForPush_BackoutWithNoOwnerStartsNewBucket(t *testing.T) {
	backout := &commit.Gecko{
		Hash:      "bbb222",
		Bug:       456,
		Message:   "bug 456: backed out changeset aaa111111111",
		IsBackout: true,
		BackedOut: []string{"aaa111"},
	}
	idx := NewIndex(nil)

	creates, updates := UpdatedSyncsForPush([]*commit.Gecko{backout}, idx, subtree)

	if len(updates) != 0 {
		t.Fatalf("updates = %v, want empty", updates)
	}
	bucket, ok := creates["456"]
	if !ok || len(bucket.Commits) != 1 || bucket.Commits[0] != backout {
		t.Fatalf("creates[456] = %v, want a bucket containing %v", creates["456"], backout)
	}
}

func TestUpdatedSyncsForPush_ResidualBackoutNeverUpdatesUnrelatedSync(t *testing.T) {
	// Bug 123 has an active sync, but the backout's targets were never owned by it (or anyone).
	// The residual must start a new anonymous bucket, not graft the backout onto the active sync.
	existing := upstreamsync.New("123", 1)
	existing.GeckoCommits = []*commit.Gecko{gecko("ccc333", 123, subtree+"/bar.html")}
	idx := NewIndex([]*upstreamsync.UpstreamSync{existing})

	backout := &commit.Gecko{
		Hash:      "bbb222",
		Bug:       123,
		Message:   "bug 123: backed out changeset aaa111111111",
		IsBackout: true,
		BackedOut: []string{"aaa111"},
	}

	creates, updates := UpdatedSyncsForPush([]*commit.Gecko{backout}, idx, subtree)

	if len(updates) != 0 {
		t.Fatalf("updates = %v, want empty (residual backouts never update)", updates)
	}
	bucket, ok := creates[anonymousBug]
	if !ok || len(bucket.Commits) != 1 || bucket.Commits[0] != backout {
		t.Fatalf("creates = %v, want the backout in an anonymous bucket", creates)
	}
}

func TestUpdatedSyncsForPush_BackoutAndItsTargetCancelWithinSamePush(t *testing.T) {
	original := gecko("aaa111", 123, subtree+"/foo.html")
	backout := &commit.Gecko{
		Hash:      "bbb222",
		Bug:       123,
		Message:   "bug 123: backed out changeset aaa111111111",
		IsBackout: true,
		BackedOut: []string{"aaa111"},
	}
	idx := NewIndex(nil)

	creates, updates := UpdatedSyncsForPush([]*commit.Gecko{original, backout}, idx, subtree)

	if len(creates) != 0 || len(updates) != 0 {
		t.Fatalf("creates = %v, updates = %v, want both empty (commit and its own backout cancel out)", creates, updates)
	}
}
