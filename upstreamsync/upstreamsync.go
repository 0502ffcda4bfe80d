// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package upstreamsync implements the central UpstreamSync entity and its state machine. One
// UpstreamSync couples a single originating bug with the gecko commits that belong
// to it and their replayed counterparts in the upstream repository.
package upstreamsync

import (
	"fmt"

	"github.com/mozilla/wptsync/commit"
)

// Status is one of the four states an UpstreamSync can occupy.
type Status string

const (
	StatusOpen       Status = "open"
	StatusWptMerged  Status = "wpt-merged"
	StatusComplete   Status = "complete"
	StatusIncomplete Status = "incomplete"
)

// allowedTransitions enumerates the full set of state changes an
// UpstreamSync may ever undergo. Anything else is a programming error (InvariantError).
var allowedTransitions = map[Status]map[Status]bool{
	StatusOpen:       {StatusWptMerged: true, StatusComplete: true, StatusIncomplete: true},
	StatusIncomplete: {StatusOpen: true},
	StatusWptMerged:  {StatusComplete: true},
}

// PRCheck records the last CI notification processed for a sync, used to de-duplicate repeated
// webhook deliveries.
type PRCheck struct {
	State   string
	HeadSHA string
}

// UpstreamSync couples one originating bug with its replayed upstream commits and pull request.
type UpstreamSync struct {
	Bug          string
	Status       Status
	PRID         int // 0 means absent.
	PRStatus     string
	MergeSHA     string
	RemoteBranch string
	SeqID        int

	GeckoCommits []*commit.Gecko
	WptCommits   []*commit.Upstream

	LastPRCheck PRCheck
	Error       string

	// GeckoEmptied records that a backout cancelled every gecko commit on the sync while its
	// replays were kept (the side branch head must not move, or the closed PR can never be
	// reopened). The store persists it so rehydration doesn't resurrect the gecko list from the
	// replay trailers.
	GeckoEmptied bool
}

// New creates a fresh, open sync for bug.
func New(bug string, seqID int) *UpstreamSync {
	return &UpstreamSync{Bug: bug, Status: StatusOpen, SeqID: seqID}
}

// HasPR reports whether a PR has been created for this sync.
func (s *UpstreamSync) HasPR() bool {
	return s.PRID != 0
}

// UpstreamedGeckoCommits returns the set of gecko commit hashes this sync has already replayed,
// derived from the wpt commit metadata; the reverse lookup is rebuilt on enumeration, never
// stored as a back-reference on the commit.
func (s *UpstreamSync) UpstreamedGeckoCommits() map[string]bool {
	out := make(map[string]bool, len(s.WptCommits))
	for _, w := range s.WptCommits {
		if h := w.Metadata[commit.MetaGeckoCommit]; h != "" {
			out[h] = true
		}
	}
	return out
}

// CheckInvariants validates the sync's in-memory state: every tracked gecko commit has exactly
// one replay, the links are order-preserving, and counts agree. Gecko-side immutability after
// merge and per-bug uniqueness are enforced by the mutation token and the store, not here.
func (s *UpstreamSync) CheckInvariants(trackedSubtree string) error {
	var tracked []*commit.Gecko
	for _, g := range s.GeckoCommits {
		if g.TouchesTracked(trackedSubtree) && !g.EmptyOnTracked(trackedSubtree) {
			tracked = append(tracked, g)
		}
	}
	if len(s.WptCommits) != len(tracked) {
		return &InvariantError{fmt.Sprintf(
			"sync %s: invariant 1 violated: %d wpt commits but %d tracked gecko commits",
			s.Bug, len(s.WptCommits), len(tracked))}
	}
	lastJ := -1
	for i, w := range s.WptCommits {
		h := w.Metadata[commit.MetaGeckoCommit]
		j := indexOfHash(tracked, h)
		if j < 0 {
			return &InvariantError{fmt.Sprintf(
				"sync %s: invariant 2 violated: wpt commit %d links to unknown gecko commit %q",
				s.Bug, i, h)}
		}
		if j < lastJ {
			return &InvariantError{fmt.Sprintf(
				"sync %s: invariant 2 violated: wpt commit %d links out of order", s.Bug, i)}
		}
		lastJ = j
	}
	return nil
}

func indexOfHash(commits []*commit.Gecko, hash string) int {
	for i, c := range commits {
		if c.Hash == hash {
			return i
		}
	}
	return -1
}

// InvariantError signals a broken state-machine transition or invariant violation. It
// is fatal: the command aborts rather than recording it as the sync's sticky error.
type InvariantError struct{ Msg string }

func (e *InvariantError) Error() string { return e.Msg }

// CanTransition reports whether moving from 'from' to 'to' is one of the allowed transitions.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	return allowedTransitions[from][to]
}
