// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package upstreamsync

import "log"

// SelectActive picks the sync to use for a bug out of all currently known syncs for that bug:
// prefer the sync with status open;
// if none is open, prefer the incomplete sync with the highest SeqID. Returns nil if candidates
// is empty.
//
// Invariant 4 (two open syncs never share a bug) means the "open" case should never have more
// than one candidate; if it does, this is a data inconsistency worth a loud log line, and the
// highest SeqID one is picked so processing can still make progress.
func SelectActive(candidates []*UpstreamSync) *UpstreamSync {
	var open, incomplete []*UpstreamSync
	for _, s := range candidates {
		switch s.Status {
		case StatusOpen:
			open = append(open, s)
		case StatusIncomplete:
			incomplete = append(incomplete, s)
		}
	}
	if len(open) > 0 {
		if len(open) > 1 {
			log.Printf("wptsync: bug %s has %d open syncs, which violates invariant 4; picking the highest seq id", candidates[0].Bug, len(open))
		}
		return maxSeqID(open)
	}
	if len(incomplete) > 0 {
		return maxSeqID(incomplete)
	}
	return nil
}

func maxSeqID(syncs []*UpstreamSync) *UpstreamSync {
	best := syncs[0]
	for _, s := range syncs[1:] {
		if s.SeqID > best.SeqID {
			best = s
		}
	}
	return best
}
