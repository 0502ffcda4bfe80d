// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package reconciler

import (
	"fmt"
	"log"

	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

// BugCommenter posts a comment to a sync's originating bug. Kept as a function value so this
// package doesn't depend on a concrete bug tracker client.
type BugCommenter func(bug, text string) error

// Reconciler keeps one sync's remote pull request consistent with its local state.
type Reconciler struct {
	Host *Host
	// WorkDir is the local clone used to push the side branch.
	WorkDir string
	// Remote is the remote name the upstream repo is configured under in WorkDir, used to read
	// back remote-tracking refs fetched ahead of time (refs/remotes/<Remote>/...).
	Remote string
	// PushURL is the destination PushRefspec pushes the side branch to. It is an authed URL
	// (see gitcmd.URLAuther) rather than a configured remote name, so pushes never depend on a
	// stored credential against a named remote. Falls back to Remote if empty.
	PushURL     string
	BaseBranch  string
	BugzillaURL func(bug string) string
	PostComment BugCommenter

	// CentralDir and CanonicalBranch locate the gecko canonical branch: the landed-status check
	// is "success" only once the sync's gecko commits are themselves ancestors of central, not
	// merely whenever a PR exists.
	CentralDir      string
	CanonicalBranch string
}

func (r *Reconciler) pushDestination() string {
	if r.PushURL != "" {
		return r.PushURL
	}
	return r.Remote
}

// Reconcile walks the decision table in order, mutating sync and the remote PR as
// needed. Returns nil on success (including the legitimate no-op cases); an error otherwise.
func (r *Reconciler) Reconcile(mut *upstreamsync.Mut) error {
	s := mut.Sync()

	if s.HasPR() && len(s.GeckoCommits) == 0 {
		if err := r.Host.ClosePull(s.PRID); err != nil {
			return fmt.Errorf("closing pull %d: %w", s.PRID, err)
		}
		mut.SetPR(s.PRID, "closed")
		return nil
	}

	if s.HasPR() {
		pull, err := r.Host.GetPull(s.PRID)
		if err != nil {
			return err
		}
		if pull.State == "closed" {
			switch {
			case !pull.Merged:
				if err := r.Host.ReopenPull(s.PRID); err != nil {
					return fmt.Errorf("reopening pull %d: %w", s.PRID, err)
				}
				mut.SetPR(s.PRID, "open")
			case pull.Merged && len(s.GeckoCommits) == len(s.WptCommits):
				mut.SetMergeSHA(pull.MergeSHA)
				// The webhook path comments "Upstream PR merged" when it moves the sync to
				// wpt-merged; don't repeat it on the wpt-merged -> complete hop, or when an
				// operator re-reconciles an already-complete sync.
				alreadyAnnounced := s.Status == upstreamsync.StatusWptMerged || s.Status == upstreamsync.StatusComplete
				if s.Status != upstreamsync.StatusComplete {
					if err := r.finish(mut, upstreamsync.StatusComplete); err != nil {
						return err
					}
				}
				if !alreadyAnnounced && r.PostComment != nil {
					if err := r.PostComment(s.Bug, "Upstream PR merged"); err != nil {
						log.Printf("wptsync: failed to comment on bug %s: %v", s.Bug, err)
					}
				}
				return nil
			default:
				mut.SetError(fmt.Errorf("Upstream PR merged, but additional commits added after merge"))
				return nil
			}
		}
	}

	if len(s.GeckoCommits) == 0 {
		return nil
	}
	if len(s.WptCommits) == 0 {
		// Nothing has replayed yet (every commit may have been empty on the tracked subtree);
		// there is no branch content to push or open a PR against.
		return nil
	}

	branch, err := r.getOrCreateRemoteBranch(mut)
	if err != nil {
		return err
	}

	// The replay engine builds commits on a detached HEAD; pin the local side branch ref at the
	// sync's current wpt head so there is a concrete ref to push and to hang the status check on.
	wptHead := s.WptCommits[len(s.WptCommits)-1].Hash
	if err := gitcmd.UpdateRef(r.WorkDir, "refs/heads/"+branch, wptHead); err != nil {
		return fmt.Errorf("updating side branch %s: %w", branch, err)
	}

	pushRequired, err := r.pushRequired(branch)
	if err != nil {
		return err
	}
	if pushRequired {
		refspec := "+refs/heads/" + branch + ":refs/heads/" + branch
		if err := gitcmd.PushRefspec(r.WorkDir, r.pushDestination(), refspec, true); err != nil {
			return fmt.Errorf("pushing %s: %w", branch, err)
		}
	}

	if !s.HasPR() {
		// A prior run may have created the PR and crashed (or lost its state) before persisting
		// pr_id; check for one already open against this branch before opening a duplicate.
		existing, err := r.Host.FindExisting(branch)
		if err != nil {
			return err
		}
		if existing != nil {
			mut.SetPR(existing.ID, "open")
		} else {
			summary := summaryOf(s)
			title := fmt.Sprintf("[Gecko Bug %s] %s", s.Bug, summary)
			body := fmt.Sprintf("Upstreamed from gecko bug %s.", s.Bug)
			pull, err := r.Host.CreatePull(title, body, branch, r.BaseBranch)
			if err != nil {
				return err
			}
			mut.SetPR(pull.ID, "open")
		}
	}

	if s.HasPR() {
		headSHA, err := gitcmd.RevParse(r.WorkDir, branch)
		if err != nil {
			return err
		}
		landed, err := r.geckoLanded(s)
		if err != nil {
			return err
		}
		state := "failure"
		if landed {
			state = "success"
		}
		if err := r.Host.SetStatus(headSHA, state, "", "Landed on mozilla-central", "upstream/gecko"); err != nil {
			return fmt.Errorf("setting landed-status check: %w", err)
		}
	}

	return nil
}

// finish moves the sync to status and, when that status is terminal for the gecko side
// (wpt-merged or complete) and a remote side branch is still assigned, deletes the remote branch
// and releases the name. The delete is best-effort: a failure is logged and the
// branch name kept so a later finish can retry.
func (r *Reconciler) finish(mut *upstreamsync.Mut, status upstreamsync.Status) error {
	if err := mut.Transition(status); err != nil {
		return err
	}
	s := mut.Sync()
	if (status == upstreamsync.StatusWptMerged || status == upstreamsync.StatusComplete) && s.RemoteBranch != "" {
		if err := gitcmd.PushRefspec(r.WorkDir, r.pushDestination(), ":refs/heads/"+s.RemoteBranch, false); err != nil {
			log.Printf("wptsync: failed to delete remote branch %s: %v", s.RemoteBranch, err)
		} else {
			mut.ReleaseRemoteBranch()
		}
	}
	return nil
}

// UpdatePR updates a sync for a PR event delivered by the host's webhook listener. A close
// without a merge SHA mirrors the closed state and tells the bug; a close with one records the
// merge and finishes the sync as wpt-merged; a reopen just mirrors the state back to open.
func (r *Reconciler) UpdatePR(mut *upstreamsync.Mut, action, mergeSHA, mergedBy string) error {
	s := mut.Sync()
	switch action {
	case "closed":
		if mergeSHA == "" {
			if s.PRStatus != "closed" {
				if r.PostComment != nil {
					if err := r.PostComment(s.Bug, "Upstream PR was closed without merging"); err != nil {
						log.Printf("wptsync: failed to comment on bug %s: %v", s.Bug, err)
					}
				}
				mut.SetPR(s.PRID, "closed")
			}
			return nil
		}
		mut.SetMergeSHA(mergeSHA)
		if s.Status != upstreamsync.StatusComplete && s.Status != upstreamsync.StatusWptMerged {
			if r.PostComment != nil {
				if err := r.PostComment(s.Bug, fmt.Sprintf("Upstream PR merged by %s", mergedBy)); err != nil {
					log.Printf("wptsync: failed to comment on bug %s: %v", s.Bug, err)
				}
			}
			return r.finish(mut, upstreamsync.StatusWptMerged)
		}
	case "reopened", "open":
		mut.SetPR(s.PRID, "open")
	}
	return nil
}

// geckoLanded reports whether every gecko commit on the sync is an
// ancestor of the canonical branch. CentralDir/CanonicalBranch may be unset (e.g. in tests or a
// reconciler built before the sync's first landing sweep), in which case the check is reported
// as not-yet-landed rather than erroring.
func (r *Reconciler) geckoLanded(s *upstreamsync.UpstreamSync) (bool, error) {
	if r.CentralDir == "" || r.CanonicalBranch == "" || len(s.GeckoCommits) == 0 {
		return false, nil
	}
	for _, c := range s.GeckoCommits {
		ok, err := gitcmd.IsAncestor(r.CentralDir, c.Hash, r.CanonicalBranch)
		if err != nil {
			return false, fmt.Errorf("checking ancestry of %s against %s: %w", c.Hash, r.CanonicalBranch, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func summaryOf(s *upstreamsync.UpstreamSync) string {
	if len(s.GeckoCommits) == 0 {
		return "(no commits)"
	}
	line := s.GeckoCommits[0].Message
	for i, r := range line {
		if r == '\n' {
			line = line[:i]
			break
		}
	}
	return line
}

// getOrCreateRemoteBranch returns the sync's stored side-branch name, generating a collision-free
// one on first use.
func (r *Reconciler) getOrCreateRemoteBranch(mut *upstreamsync.Mut) (string, error) {
	s := mut.Sync()
	if s.RemoteBranch != "" {
		return s.RemoteBranch, nil
	}
	base := "gecko/" + s.Bug
	name := base
	remoteRefs, err := gitcmd.ForEachRef(r.WorkDir, "refs/remotes/"+r.Remote+"/"+base+"*")
	if err != nil {
		return "", err
	}
	n := 1
	for {
		if _, taken := remoteRefs["refs/remotes/"+r.Remote+"/"+name]; !taken {
			break
		}
		n++
		name = fmt.Sprintf("%s-%d", base, n)
	}
	mut.SetRemoteBranch(name)
	return name, nil
}

// pushRequired reports whether the remote branch is missing or its remote head hash differs
// from the local side-branch head.
func (r *Reconciler) pushRequired(branch string) (bool, error) {
	localHead, err := gitcmd.RevParse(r.WorkDir, branch)
	if err != nil {
		return false, fmt.Errorf("resolving local branch %s: %w", branch, err)
	}
	refs, err := gitcmd.ForEachRef(r.WorkDir, "refs/remotes/"+r.Remote+"/"+branch)
	if err != nil {
		return false, err
	}
	remoteHead, exists := refs["refs/remotes/"+r.Remote+"/"+branch]
	return !exists || remoteHead != localHead, nil
}
