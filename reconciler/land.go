// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package reconciler

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

// CheckStatus is the aggregate CI result for a head SHA, evaluated from its check runs.
type CheckStatus int

const (
	CheckPending CheckStatus = iota
	CheckSuccess
	CheckFailure
)

func (c CheckStatus) String() string {
	switch c {
	case CheckSuccess:
		return "SUCCESS"
	case CheckPending:
		return "PENDING"
	default:
		return "FAILURE"
	}
}

// EvaluateChecks folds a head's check runs into one status: SUCCESS if every check is completed with
// a conclusion of success or neutral; PENDING if there are no checks yet or any check is not yet
// completed; otherwise FAILURE.
func EvaluateChecks(runs map[string]CheckRun) CheckStatus {
	if len(runs) == 0 {
		return CheckPending
	}
	allSuccess := true
	for _, r := range runs {
		if r.Status != "completed" {
			return CheckPending
		}
		if r.Conclusion != "success" && r.Conclusion != "neutral" {
			allSuccess = false
		}
	}
	if allSuccess {
		return CheckSuccess
	}
	return CheckFailure
}

// NeedinfoPoster files a comment and a needinfo flag against a bug, addressed to user (empty
// string means a configured admin list).
type NeedinfoPoster func(bug, text, user string) error

// LandingInputs supplies the facts try_land_pr needs about the outside world.
type LandingInputs struct {
	CanonicalBranch string
	CentralDir      string // repository containing CanonicalBranch, for ancestry checks.
}

// TryLandPR merges the sync's PR if everything is ready: gecko commits landed on central, checks
// green, mergeable, approved. Every not-ready path (sync not open, no PR, no gecko commits, gecko
// head not yet on central, checks pending, not mergeable, not approved) returns (false, nil);
// failing checks and genuine failures return an error.
func (r *Reconciler) TryLandPR(mut *upstreamsync.Mut, in LandingInputs) (landed bool, err error) {
	s := mut.Sync()
	if s.Status != upstreamsync.StatusOpen {
		return false, nil
	}
	if !s.HasPR() {
		return false, nil
	}
	if len(s.GeckoCommits) == 0 {
		return false, nil
	}
	headGecko := s.GeckoCommits[len(s.GeckoCommits)-1].Hash
	landedOnCentral, err := gitcmd.IsAncestor(in.CentralDir, headGecko, in.CanonicalBranch)
	if err != nil {
		return false, err
	}
	if !landedOnCentral {
		return false, nil
	}

	pull, err := r.Host.GetPull(s.PRID)
	if err != nil {
		return false, err
	}
	if pull.Merged {
		mut.SetMergeSHA(pull.MergeSHA)
		if err := r.finish(mut, upstreamsync.StatusWptMerged); err != nil {
			return false, err
		}
		return true, nil
	}

	headSHA, err := gitcmd.RevParse(r.WorkDir, pull.HeadBranch)
	if err != nil {
		return false, fmt.Errorf("resolving PR head branch %s: %w", pull.HeadBranch, err)
	}
	checks, err := r.Host.GetCheckRuns(headSHA)
	if err != nil {
		return false, err
	}
	switch EvaluateChecks(checks) {
	case CheckPending:
		return false, nil
	case CheckFailure:
		return false, fmt.Errorf("bug %s: PR %d checks failed", s.Bug, s.PRID)
	}

	if !pull.Mergeable {
		return false, nil
	}
	if !pull.Approved {
		return false, nil
	}

	sha, err := r.Host.MergePull(s.PRID, fmt.Sprintf("Merge PR for gecko bug %s", s.Bug))
	if err != nil {
		return false, err
	}
	mut.SetMergeSHA(sha)
	if err := r.finish(mut, upstreamsync.StatusWptMerged); err != nil {
		return false, err
	}
	if r.PostComment != nil {
		if err := r.PostComment(s.Bug, "Upstream PR merged"); err != nil {
			log.Printf("wptsync: failed to comment on bug %s: %v", s.Bug, err)
		}
	}
	return true, nil
}

// CommitCheckChanged updates a sync for a CI notification on its PR head.
// checks is the notification's check-run set for headSHA (the listener already has the payload;
// callers re-evaluating out-of-band fetch it with Host.GetCheckRuns first). De-duplicates by
// (state, head_sha); on SUCCESS clears sync.error and attempts a land if gecko has landed; on
// FAILURE posts a comment naming the failing checks and needinfo's the commit author.
func (r *Reconciler) CommitCheckChanged(mut *upstreamsync.Mut, headSHA string, checks map[string]CheckRun, in LandingInputs, needinfo NeedinfoPoster, commitAuthor string) error {
	s := mut.Sync()
	status := EvaluateChecks(checks)
	if s.LastPRCheck.State == status.String() && s.LastPRCheck.HeadSHA == headSHA {
		return nil // Already processed this exact notification.
	}
	mut.SetLastPRCheck(status.String(), headSHA)

	switch status {
	case CheckSuccess:
		mut.ClearError()
		landed, err := r.TryLandPR(mut, in)
		if err != nil {
			return err
		}
		if !landed && r.PostComment != nil {
			if err := r.PostComment(s.Bug, "Checks passed; will merge once the commit reaches central."); err != nil {
				log.Printf("wptsync: failed to comment on bug %s: %v", s.Bug, err)
			}
		}
	case CheckFailure:
		if needinfo != nil {
			var failing []string
			for name, c := range checks {
				if c.Status == "completed" && c.Conclusion != "success" && c.Conclusion != "neutral" {
					failing = append(failing, name)
				}
			}
			sort.Strings(failing)
			text := fmt.Sprintf("Upstream checks failed: %s", strings.Join(failing, ", "))
			if err := needinfo(s.Bug, text, commitAuthor); err != nil {
				log.Printf("wptsync: failed to needinfo on bug %s: %v", s.Bug, err)
			}
		}
	}
	return nil
}
