// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mozilla/wptsync/commit"
	"github.com/mozilla/wptsync/reconciler"
	"github.com/mozilla/wptsync/replay"
	"github.com/mozilla/wptsync/store"
	"github.com/mozilla/wptsync/upstreamsync"
)

// BugFiler files a fresh bug for an orphan create-bucket and returns its id.
type BugFiler func(b *CreateBucket) (string, error)

// affected tracks one sync carried through a batch, along with the (status, seq) it was persisted
// under before this batch's mutations, so Store.Persist knows whether to clean up stale refs.
type affected struct {
	mut       *upstreamsync.Mut
	oldStatus upstreamsync.Status
	oldSeq    int
}

// ProcessPush handles one gecko push end to end: bucket pushCommits into per-bug
// groups against the known open/incomplete syncs, file new bugs for orphan buckets, replay each
// affected sync's commits onto its upstream side branch, and reconcile its remote PR.
//
// A failure on one sync (replay conflict, reconcile error) is
// recorded on that sync's sticky error field and does not stop the rest of the batch. The batch
// runs sequentially rather than fanned out, since every sync in it shares replayEngine.WorkDir:
// UpdateWptCommits resets that single worktree to each sync's branch in turn, so two syncs
// replaying at once would stomp on each other's checkout.
func ProcessPush(
	lock *upstreamsync.Lock,
	st *store.Store,
	pushCommits []*commit.Gecko,
	trackedSubtree string,
	fileBug BugFiler,
	replayEngine *replay.Engine,
	replayBase string,
	recon *reconciler.Reconciler,
	notify replay.BugComment,
	geckoDir, upstreamDir, upstreamBaseBranch string,
) error {
	all, err := st.List()
	if err != nil {
		return fmt.Errorf("listing syncs: %w", err)
	}
	var open []*upstreamsync.UpstreamSync
	for _, s := range all {
		if s.Status == upstreamsync.StatusOpen || s.Status == upstreamsync.StatusIncomplete {
			if err := st.Hydrate(s, geckoDir, upstreamDir, upstreamBaseBranch, trackedSubtree); err != nil {
				log.Printf("wptsync: bug %s: failed to hydrate commit history: %v", s.Bug, err)
				continue
			}
			open = append(open, s)
		}
	}
	idx := NewIndex(open)
	creates, updates := UpdatedSyncsForPush(pushCommits, idx, trackedSubtree)

	var batch []affected

	for bug, bucket := range creates {
		if bug == anonymousBug {
			LogOrphanBucket(bucket)
			filed, err := fileBug(bucket)
			if err != nil {
				log.Printf("wptsync: failed to file bug for orphan bucket starting at %s: %v", bucket.First.Hash, err)
				continue
			}
			bug = filed
		}
		seq, err := st.NextSeqID(bug)
		if err != nil {
			log.Printf("wptsync: failed to allocate seq id for bug %s: %v", bug, err)
			continue
		}
		sync := upstreamsync.New(bug, seq)
		mut := upstreamsync.Begin(lock, sync)
		mut.SetGeckoCommits(bucket.Commits)
		batch = append(batch, affected{mut, "", 0})
	}
	for sync, newCommits := range updates {
		oldStatus, oldSeq := sync.Status, sync.SeqID
		mut := upstreamsync.Begin(lock, sync)
		// A backout queued as an update cancels against the commits already on the sync, so a
		// cross-push backout (S3) empties the list rather than appending a second commit.
		combined := commit.CancelBackouts(append(append([]*commit.Gecko(nil), sync.GeckoCommits...), newCommits...))
		mut.SetGeckoCommits(combined)
		// A backout can empty a sync's gecko-side commits entirely without it ever merging;
		// flip it to incomplete so SelectActive still finds it if the bug is reopened later, and
		// reverse that the moment new commits bring it back to life.
		switch {
		case len(combined) == 0 && sync.Status == upstreamsync.StatusOpen:
			if err := mut.Transition(upstreamsync.StatusIncomplete); err != nil {
				log.Printf("wptsync: %v", err)
			}
		case len(combined) > 0 && sync.Status == upstreamsync.StatusIncomplete:
			if err := mut.Transition(upstreamsync.StatusOpen); err != nil {
				log.Printf("wptsync: %v", err)
			}
		}
		batch = append(batch, affected{mut, oldStatus, oldSeq})
	}

	for _, a := range batch {
		if err := processOne(a, replayEngine, replayBase, recon, notify, st, trackedSubtree); err != nil {
			return err
		}
	}
	return nil
}

// processOne advances a single sync through replay, reconcile, and persist. Only InvariantError
// escapes; every other failure is recorded on the sync so the rest of the batch continues.
func processOne(a affected, replayEngine *replay.Engine, replayBase string, recon *reconciler.Reconciler, notify replay.BugComment, st *store.Store, trackedSubtree string) error {
	s := a.mut.Sync()
	replayed := false
	if len(s.GeckoCommits) > 0 {
		if _, err := replayEngine.UpdateWptCommitsWithRecovery(a.mut, replayBase, notify); err != nil {
			if isInvariant(err) {
				return err
			}
			a.mut.SetError(err)
			log.Printf("wptsync: bug %s: replay failed: %v", s.Bug, err)
		} else {
			replayed = true
		}
	}
	if err := recon.Reconcile(a.mut); err != nil {
		if isInvariant(err) {
			return err
		}
		a.mut.SetError(err)
		log.Printf("wptsync: bug %s: reconcile failed: %v", s.Bug, err)
	}
	// A count or order mismatch between the replays and the gecko commits after a successful
	// replay is a programming error: abort before persisting the broken state. A failed replay
	// legitimately leaves the two sides out of step (the conflict is already recorded on the
	// sync), as does a sync emptied by a backout, whose replays are deliberately kept.
	if replayed {
		if err := s.CheckInvariants(trackedSubtree); err != nil {
			return err
		}
	}
	if err := st.Persist(s, a.oldStatus, a.oldSeq); err != nil {
		log.Printf("wptsync: bug %s: failed to persist: %v", s.Bug, err)
	}
	return nil
}

func isInvariant(err error) bool {
	var inv *upstreamsync.InvariantError
	return errors.As(err, &inv)
}

// landConcurrency bounds how many syncs LandOpenSyncs evaluates at once: enough to overlap GitHub
// API latency across syncs without opening an unbounded number of connections.
const landConcurrency = 4

// LandOpenSyncs sweeps every open sync with a PR and attempts to land it, used by the `update`
// command's periodic advance. Unlike ProcessPush, landing attempts only read the shared worktree (RevParse,
// IsAncestor) and call the remote host, so independent syncs are safe to evaluate concurrently;
// golang.org/x/sync/errgroup caps the fan-out.
func LandOpenSyncs(lock *upstreamsync.Lock, st *store.Store, recon *reconciler.Reconciler, in reconciler.LandingInputs, geckoDir, upstreamDir, upstreamBaseBranch, trackedSubtree string) error {
	all, err := st.List()
	if err != nil {
		return fmt.Errorf("listing syncs: %w", err)
	}

	var candidates []*upstreamsync.UpstreamSync
	for _, s := range all {
		if s.Status == upstreamsync.StatusOpen && s.HasPR() {
			if err := st.Hydrate(s, geckoDir, upstreamDir, upstreamBaseBranch, trackedSubtree); err != nil {
				log.Printf("wptsync: bug %s: failed to hydrate commit history: %v", s.Bug, err)
				continue
			}
			candidates = append(candidates, s)
		}
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(landConcurrency)
	for _, s := range candidates {
		s := s
		oldStatus, oldSeq := s.Status, s.SeqID
		g.Go(func() error {
			mu.Lock()
			mut := upstreamsync.Begin(lock, s)
			mu.Unlock()

			if _, err := recon.TryLandPR(mut, in); err != nil {
				if isInvariant(err) {
					return err
				}
				mut.SetError(err)
				log.Printf("wptsync: bug %s: landing attempt failed: %v", s.Bug, err)
			}

			mu.Lock()
			defer mu.Unlock()
			if err := st.Persist(s, oldStatus, oldSeq); err != nil {
				log.Printf("wptsync: bug %s: failed to persist: %v", s.Bug, err)
			}
			return nil
		})
	}
	return g.Wait()
}
