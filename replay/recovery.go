// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package replay

import (
	"fmt"
	"log"

	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

// BugComment posts a comment (and optionally a needinfo) to the bug tracker. Supplied by the
// caller so this package stays independent of any particular bug tracker client.
type BugComment func(bug, text string, needinfoAuthor string) error

// UpdateWptCommitsWithRecovery wraps UpdateWptCommits with conflict recovery: if the first attempt fails and no PR exists yet, rebase the base onto the
// most recent successful sync point and retry once. If that still fails, flip the sync to "open"
// (to keep replay attempts live) and surface the failure via a bug comment + needinfo.
func (e *Engine) UpdateWptCommitsWithRecovery(mut *upstreamsync.Mut, base string, postComment BugComment) (Result, error) {
	result, err := e.UpdateWptCommits(mut, base)
	if err == nil {
		return result, nil
	}

	var conflict *ConflictError
	if !asConflictError(err, &conflict) || mut.Sync().HasPR() {
		return Result{}, err
	}

	log.Printf("wptsync: replay conflict for bug %s, retrying with rebased base", mut.Sync().Bug)
	rebasedBase, rebaseErr := e.rebaseOntoLastSuccess(base)
	if rebaseErr != nil {
		return Result{}, e.surfaceConflict(mut, postComment, conflict)
	}

	result, err = e.UpdateWptCommits(mut, rebasedBase)
	if err == nil {
		mut.ClearError()
		return result, nil
	}

	return Result{}, e.surfaceConflict(mut, postComment, conflict)
}

func (e *Engine) surfaceConflict(mut *upstreamsync.Mut, postComment BugComment, conflict *ConflictError) error {
	if tErr := mut.Transition(upstreamsync.StatusOpen); tErr != nil {
		// Already open; that's fine, the point is to not leave the sync in a dead status.
		log.Printf("wptsync: %v", tErr)
	}
	mut.SetError(conflict)
	if postComment != nil {
		msg := fmt.Sprintf("Replay failed for gecko commit %s: %v", conflict.GeckoRev, conflict.Err)
		if err := postComment(mut.Sync().Bug, msg, ""); err != nil {
			log.Printf("wptsync: failed to post conflict comment on bug %s: %v", mut.Sync().Bug, err)
		}
	}
	return conflict
}

// rebaseOntoLastSuccess rebases the tracked repository's view of the base onto the most recent
// commit both sides agree was successfully synced. In this engine that is simply the current
// canonical-branch head of the source repository at the time of retry.
func (e *Engine) rebaseOntoLastSuccess(currentBase string) (string, error) {
	head, err := gitcmd.RevParse(e.SourceDir, "HEAD")
	if err != nil {
		return "", err
	}
	if head == currentBase {
		return "", fmt.Errorf("no newer sync point to rebase onto")
	}
	return head, nil
}

func asConflictError(err error, target **ConflictError) bool {
	c, ok := err.(*ConflictError)
	if !ok {
		return false
	}
	*target = c
	return true
}
