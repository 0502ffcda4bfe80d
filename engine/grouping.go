// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package engine implements the orchestration layer that ties the commit classifier, the
// UpstreamSync state machine, the replay engine, and the PR reconciler together: the grouping
// algorithm, the per-push entry point, and the landing sweep.
package engine

import (
	"log"
	"strconv"

	"github.com/mozilla/wptsync/commit"
	"github.com/mozilla/wptsync/upstreamsync"
)

// anonymousBug is the create-bucket key used when a commit cannot be attributed to any known
// bug; a fresh bug is filed before such a bucket becomes a sync.
const anonymousBug = ""

// CreateBucket accretes the gecko commits that should become a brand new sync, tracking the
// first and last commit so callers can report a useful summary without re-scanning the list.
type CreateBucket struct {
	Bug     string
	Commits []*commit.Gecko
	First   *commit.Gecko
	Last    *commit.Gecko
}

func (b *CreateBucket) add(c *commit.Gecko) {
	if b.First == nil {
		b.First = c
	}
	b.Last = c
	b.Commits = append(b.Commits, c)
}

// Index looks up open/incomplete syncs by bug and by the gecko commit hashes they've already
// upstreamed, so the grouping algorithm can recognize "c already references an UpstreamSync" and
// "b is already among this sync's upstreamed_gecko_commits" without rescanning the whole store.
type Index struct {
	byBug      map[string][]*upstreamsync.UpstreamSync
	syncOfHash map[string]*upstreamsync.UpstreamSync
}

// NewIndex builds an Index over the given open/incomplete syncs.
func NewIndex(syncs []*upstreamsync.UpstreamSync) *Index {
	idx := &Index{
		byBug:      map[string][]*upstreamsync.UpstreamSync{},
		syncOfHash: map[string]*upstreamsync.UpstreamSync{},
	}
	for _, s := range syncs {
		idx.byBug[s.Bug] = append(idx.byBug[s.Bug], s)
		for _, g := range s.GeckoCommits {
			idx.syncOfHash[g.Hash] = s
		}
		for h := range s.UpstreamedGeckoCommits() {
			idx.syncOfHash[h] = s
		}
	}
	return idx
}

// ActiveForBug returns the sync that should receive new commits for bug, per the tie-break rule.
func (idx *Index) ActiveForBug(bug string) *upstreamsync.UpstreamSync {
	return upstreamsync.SelectActive(idx.byBug[bug])
}

// SyncOwning returns the sync that already upstreamed or currently lists gecko commit hash, or
// nil.
func (idx *Index) SyncOwning(hash string) *upstreamsync.UpstreamSync {
	return idx.syncOfHash[hash]
}

// UpdatedSyncsForPush groups a push's commits against the known syncs. trackedSubtree bounds
// which commits are relevant.
// Returns the commits to bucket into new syncs (keyed by bug, "" for anonymous) and the commits
// to append onto existing syncs.
func UpdatedSyncsForPush(pushCommits []*commit.Gecko, idx *Index, trackedSubtree string) (
	creates map[string]*CreateBucket,
	updates map[*upstreamsync.UpstreamSync][]*commit.Gecko,
) {
	creates = map[string]*CreateBucket{}
	updates = map[*upstreamsync.UpstreamSync][]*commit.Gecko{}

	cancelled := commit.CancelBackouts(pushCommits)

	for _, c := range cancelled {
		if idx.SyncOwning(c.Hash) != nil {
			// Already references an UpstreamSync (e.g. re-processing a previously seen push).
			continue
		}

		if c.IsBackout {
			updatesForBackout(c, idx, creates, updates)
			continue
		}

		kind := commit.Classify(c, trackedSubtree)
		if kind == commit.DownstreamReplay || kind == commit.Landing || kind == commit.Skipped {
			continue
		}

		bug := bugKey(c)
		if active := idx.ActiveForBug(bug); active != nil {
			updates[active] = append(updates[active], c)
			continue
		}
		bucket(creates, bug).add(c)
	}

	return creates, updates
}

// updatesForBackout attributes a backout's targets to the syncs that own them; whatever cannot
// be attributed starts a new bucket.
func updatesForBackout(c *commit.Gecko, idx *Index, creates map[string]*CreateBucket, updates map[*upstreamsync.UpstreamSync][]*commit.Gecko) {
	residual := map[string]bool{}
	for _, h := range c.BackedOut {
		residual[h] = true
	}

	for _, h := range c.BackedOut {
		owner := idx.SyncOwning(h)
		if owner == nil {
			continue
		}
		if owner.UpstreamedGeckoCommits()[h] {
			updates[owner] = append(updates[owner], c)
			delete(residual, h)
		}
	}

	if len(residual) == 0 {
		// Every backed-out commit was attributed to an existing sync; nothing more to do.
		return
	}

	// Residual hashes mean the backout covers something no known sync owns, so it always starts
	// a new sync, never an update: bucket under the backout's bug when that bug has no active
	// sync, else anonymously (a fresh bug gets filed).
	bug := bugKey(c)
	if bug != anonymousBug && idx.ActiveForBug(bug) == nil {
		bucket(creates, bug).add(c)
		return
	}
	bucket(creates, anonymousBug).add(c)
}

// bugKey returns the sync store's string-keyed bug id for c, or anonymousBug when the message
// carried none.
func bugKey(c *commit.Gecko) string {
	if c.Bug == 0 {
		return anonymousBug
	}
	return strconv.Itoa(c.Bug)
}

func bucket(creates map[string]*CreateBucket, bug string) *CreateBucket {
	b, ok := creates[bug]
	if !ok {
		b = &CreateBucket{Bug: bug}
		creates[bug] = b
	}
	return b
}

// LogOrphanBucket reports a create-bucket with no known bug, which must go through bug filing
// before a sync can be constructed for it.
func LogOrphanBucket(b *CreateBucket) {
	log.Printf("wptsync: %d commit(s) with no attributable bug, starting from %s; filing a new bug", len(b.Commits), b.First.Hash)
}
