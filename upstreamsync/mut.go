// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package upstreamsync

import (
	"fmt"

	"github.com/mozilla/wptsync/commit"
)

// Lock is the in-process face of the process-wide advisory lock. Packages that acquire it return a
// *Lock value; Begin consumes it to produce a mutation capability bound to that lock holder.
type Lock struct {
	held bool
}

// Mut is a mutation capability: a linear token that a control flow must
// hold to write to an UpstreamSync. Read-only access never requires it. Go has no compile-time
// linearity check, so Mut enforces the rule at runtime: Begin panics if the lock isn't held, and
// every mutating method takes a *Mut receiver rather than *UpstreamSync directly.
type Mut struct {
	sync *UpstreamSync
}

// Begin acquires the mutation capability for sync, bound to lock. Panics if lock is not held:
// attempting a write without holding the capability is a programming error.
func Begin(lock *Lock, sync *UpstreamSync) *Mut {
	if lock == nil || !lock.held {
		panic(fmt.Sprintf("upstreamsync: attempted to mutate sync %s without holding the process lock", sync.Bug))
	}
	return &Mut{sync: sync}
}

// Sync returns the underlying sync for read access. Mut embeds no other read methods: callers
// that only need to read should use the plain *UpstreamSync, never acquire a Mut.
func (m *Mut) Sync() *UpstreamSync { return m.sync }

// Transition moves the sync to newStatus, enforcing the allowed transition set. An illegal transition is
// an InvariantError and leaves the sync unchanged.
func (m *Mut) Transition(newStatus Status) error {
	if !CanTransition(m.sync.Status, newStatus) {
		return &InvariantError{fmt.Sprintf(
			"sync %s: illegal transition %s -> %s", m.sync.Bug, m.sync.Status, newStatus)}
	}
	m.sync.Status = newStatus
	return nil
}

// SetError sets the sync's sticky error field.
func (m *Mut) SetError(err error) {
	if err == nil {
		m.sync.Error = ""
		return
	}
	m.sync.Error = err.Error()
}

// ClearError clears the sync's sticky error. It is called when a replay succeeds on retry and
// when a CI notification reports passing checks; Reconcile leaves the error as it is.
func (m *Mut) ClearError() { m.sync.Error = "" }

// SetPR records the remote pull request id and mirrored state.
func (m *Mut) SetPR(id int, state string) {
	m.sync.PRID = id
	m.sync.PRStatus = state
}

// SetMergeSHA records the upstream commit hash the PR merged as.
func (m *Mut) SetMergeSHA(sha string) { m.sync.MergeSHA = sha }

// SetRemoteBranch assigns the side branch name.
func (m *Mut) SetRemoteBranch(name string) { m.sync.RemoteBranch = name }

// ReleaseRemoteBranch clears the remote branch name; only valid once the sync has reached a
// terminal-for-gecko status ({wpt-merged, complete}), per invariant 6.
func (m *Mut) ReleaseRemoteBranch() {
	if m.sync.Status != StatusWptMerged && m.sync.Status != StatusComplete {
		panic(fmt.Sprintf("upstreamsync: sync %s: cannot release remote branch in status %s", m.sync.Bug, m.sync.Status))
	}
	m.sync.RemoteBranch = ""
}

// SetGeckoCommits replaces the gecko-side commit list. Per invariant 3, callers must not call
// this once the sync's status is wpt-merged or complete.
func (m *Mut) SetGeckoCommits(commits []*commit.Gecko) {
	if m.sync.Status == StatusWptMerged || m.sync.Status == StatusComplete {
		panic(fmt.Sprintf("upstreamsync: sync %s: cannot mutate gecko commits in status %s", m.sync.Bug, m.sync.Status))
	}
	m.sync.GeckoCommits = commits
}

// SetWptCommits replaces the upstream-side replayed commit list.
func (m *Mut) SetWptCommits(commits []*commit.Upstream) { m.sync.WptCommits = commits }

// SetLastPRCheck records the last processed CI notification, for de-duplication.
func (m *Mut) SetLastPRCheck(state, headSHA string) {
	m.sync.LastPRCheck = PRCheck{State: state, HeadSHA: headSHA}
}

// Acquire takes the process lock. Since this module has a single command running at a time
// (see package lock), Acquire always succeeds once any prior Lock has been released via Release.
func Acquire() *Lock { return &Lock{held: true} }

// Release releases the process lock.
func (l *Lock) Release() { l.held = false }
