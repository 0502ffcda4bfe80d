// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package store persists UpstreamSync records as Git refs in a bare (or ordinary) repository,
// as refs "sync/upstream/<status>/<seq>/<bug>/{gecko,wpt}", with
// mutable scalar fields live in a JSON blob stored as a Git blob object referenced from the
// ref's metadata subtree. This reuses the repository's own object database for atomicity and
// replication rather than a side-channel file or external database.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/mozilla/wptsync/commit"
	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

// Store reads and writes sync records against one repository.
type Store struct {
	// Dir is a working copy (or bare clone) of the repository that owns the sync/upstream/...
	// ref namespace.
	Dir string
}

const refRoot = "sync/upstream"

func refPrefix(status upstreamsync.Status, seq int, bug string) string {
	return fmt.Sprintf("%s/%s/%d/%s", refRoot, status, seq, bug)
}

// metaBlob is the JSON structure stored for each sync's mutable scalar fields.
type metaBlob struct {
	PRID         int                  `json:"pr_id"`
	PRStatus     string               `json:"pr_status"`
	MergeSHA     string               `json:"merge_sha"`
	RemoteBranch string               `json:"remote_branch"`
	LastPRCheck  upstreamsync.PRCheck `json:"last_pr_check"`
	Error        string               `json:"error"`
	// GeckoEmpty marks a sync whose gecko commits were all cancelled by a backout while its
	// replays were kept; without it, Hydrate would rebuild the gecko list from the replay
	// trailers and undo the cancellation.
	GeckoEmpty bool `json:"gecko_empty,omitempty"`
}

// Persist writes sync to its ref and metadata blob. The gecko ref points at the sync's newest
// gecko commit; the wpt ref points at the newest replayed commit (or is omitted if there are
// none yet). Renaming status or seq is handled by deleting the old refs first (callers pass the
// previous status and seq as oldStatus and oldSeq; an empty oldStatus means there is none).
func (s *Store) Persist(sync *upstreamsync.UpstreamSync, oldStatus upstreamsync.Status, oldSeq int) error {
	if oldStatus != "" && (oldStatus != sync.Status || oldSeq != sync.SeqID) {
		if err := s.deleteRefs(oldStatus, oldSeq, sync.Bug); err != nil {
			return fmt.Errorf("removing stale refs before rename: %w", err)
		}
	}

	prefix := refPrefix(sync.Status, sync.SeqID, sync.Bug)

	if len(sync.GeckoCommits) > 0 {
		head := sync.GeckoCommits[len(sync.GeckoCommits)-1].Hash
		if err := gitcmd.UpdateRef(s.Dir, "refs/"+prefix+"/gecko", head); err != nil {
			return fmt.Errorf("updating gecko ref: %w", err)
		}
	}
	if len(sync.WptCommits) > 0 {
		head := sync.WptCommits[len(sync.WptCommits)-1].Hash
		if err := gitcmd.UpdateRef(s.Dir, "refs/"+prefix+"/wpt", head); err != nil {
			return fmt.Errorf("updating wpt ref: %w", err)
		}
	}

	blob := metaBlob{
		PRID:         sync.PRID,
		PRStatus:     sync.PRStatus,
		MergeSHA:     sync.MergeSHA,
		RemoteBranch: sync.RemoteBranch,
		LastPRCheck:  sync.LastPRCheck,
		Error:        sync.Error,
		GeckoEmpty:   len(sync.GeckoCommits) == 0 && len(sync.WptCommits) > 0,
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	hash, err := hashObject(s.Dir, data)
	if err != nil {
		return fmt.Errorf("hashing metadata blob: %w", err)
	}
	if err := gitcmd.UpdateRef(s.Dir, "refs/"+prefix+"/meta", hash); err != nil {
		return fmt.Errorf("updating meta ref: %w", err)
	}
	return nil
}

func (s *Store) deleteRefs(status upstreamsync.Status, seq int, bug string) error {
	prefix := refPrefix(status, seq, bug)
	for _, leaf := range []string{"gecko", "wpt", "meta"} {
		_ = gitcmd.DeleteRef(s.Dir, "refs/"+prefix+"/"+leaf)
	}
	return nil
}

// Delete removes all refs for a sync. Callers must have already deleted the sync's try-pushes.
func (s *Store) Delete(sync *upstreamsync.UpstreamSync) error {
	return s.deleteRefs(sync.Status, sync.SeqID, sync.Bug)
}

// List enumerates every sync ref under refRoot and reconstructs the scalar (non-commit) parts of
// each UpstreamSync. Callers that need the commit lists populate them separately, since walking
// CommitRanges requires knowing the repositories the gecko/wpt hashes live in.
func (s *Store) List() ([]*upstreamsync.UpstreamSync, error) {
	refs, err := gitcmd.ForEachRef(s.Dir, "refs/"+refRoot+"/**")
	if err != nil {
		return nil, fmt.Errorf("enumerating sync refs: %w", err)
	}

	type key struct {
		status upstreamsync.Status
		seq    int
		bug    string
	}
	byKey := map[key]*upstreamsync.UpstreamSync{}
	metaHash := map[key]string{}

	for ref, hash := range refs {
		rest := strings.TrimPrefix(ref, "refs/"+refRoot+"/")
		parts := strings.SplitN(rest, "/", 4)
		if len(parts) != 4 {
			continue
		}
		status := upstreamsync.Status(parts[0])
		seq, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		bug := parts[2]
		leaf := parts[3]

		k := key{status, seq, bug}
		sync, ok := byKey[k]
		if !ok {
			sync = upstreamsync.New(bug, seq)
			sync.Status = status
			byKey[k] = sync
		}

		switch leaf {
		case "gecko":
			sync.GeckoCommits = append(sync.GeckoCommits, &commit.Gecko{Hash: hash})
		case "wpt":
			sync.WptCommits = append(sync.WptCommits, &commit.Upstream{Hash: hash})
		case "meta":
			metaHash[k] = hash
		}
	}

	out := make([]*upstreamsync.UpstreamSync, 0, len(byKey))
	for k, sync := range byKey {
		if hash, ok := metaHash[k]; ok {
			if err := s.applyMeta(sync, hash); err != nil {
				return nil, fmt.Errorf("reading metadata for bug %s: %w", sync.Bug, err)
			}
		}
		out = append(out, sync)
	}
	return out, nil
}

func (s *Store) applyMeta(sync *upstreamsync.UpstreamSync, blobHash string) error {
	data, err := catFile(s.Dir, blobHash)
	if err != nil {
		return err
	}
	var blob metaBlob
	if err := json.Unmarshal([]byte(data), &blob); err != nil {
		return err
	}
	sync.PRID = blob.PRID
	sync.PRStatus = blob.PRStatus
	sync.MergeSHA = blob.MergeSHA
	sync.RemoteBranch = blob.RemoteBranch
	sync.LastPRCheck = blob.LastPRCheck
	sync.Error = blob.Error
	sync.GeckoEmptied = blob.GeckoEmpty
	return nil
}

// Hydrate rebuilds the full, ordered commit lists for a sync that List only gave the head hashes
// for. The WPT side branch holds the real history: it is linear from the point it branched off
// upstreamBaseBranch (replay.Engine.UpdateWptCommits always resets it there before replaying), so
// walking merge-base(wptHead, upstreamBaseBranch)..wptHead recovers every commit this sync ever
// replayed. Each of those commits carries the gecko-commit trailer replay.Engine stamped onto it
// (commit.MetaGeckoCommit), which in turn recovers the exact, order-preserving gecko commit list
// without needing to walk gecko history and disambiguate which commits belong to this sync. This
// is why Persist only needs to write the head of each ref: the rest is already durable as the
// side branch's own commit graph, per the package doc's "reuse the object database" rationale.
//
// Any gecko commits newer than the last replayed one (the gecko ref is ahead of the wpt ref
// because a prior run grouped them but replay hasn't run, or failed) are recovered by walking the
// gecko repository itself from the last replayed commit to the persisted gecko head.
func (s *Store) Hydrate(sync *upstreamsync.UpstreamSync, geckoDir, upstreamDir, upstreamBaseBranch, trackedSubtree string) error {
	geckoHead := ""
	if len(sync.GeckoCommits) > 0 {
		geckoHead = sync.GeckoCommits[len(sync.GeckoCommits)-1].Hash
	}

	var wpt []*commit.Upstream
	var gecko []*commit.Gecko
	lastReplayedGecko := ""

	if len(sync.WptCommits) > 0 {
		wptHead := sync.WptCommits[len(sync.WptCommits)-1].Hash

		mergeBase, err := gitcmd.CombinedOutput(upstreamDir, "merge-base", wptHead, upstreamBaseBranch)
		if err != nil {
			return fmt.Errorf("hydrating bug %s: finding merge-base for %s: %w", sync.Bug, wptHead, err)
		}
		mergeBase = strings.TrimSpace(mergeBase)

		hashes, err := gitcmd.RevList(upstreamDir, mergeBase, wptHead)
		if err != nil {
			return fmt.Errorf("hydrating bug %s: walking side branch: %w", sync.Bug, err)
		}

		wpt = make([]*commit.Upstream, 0, len(hashes))
		gecko = make([]*commit.Gecko, 0, len(hashes))
		for _, hash := range hashes {
			message, err := gitcmd.CommitMessage(upstreamDir, hash)
			if err != nil {
				return fmt.Errorf("hydrating bug %s: reading %s: %w", sync.Bug, hash, err)
			}
			meta := commit.ParseMetadata(message)
			wpt = append(wpt, &commit.Upstream{Hash: hash, Metadata: meta})

			if sync.GeckoEmptied {
				// A backout cancelled this sync's gecko commits; the replays stay (branch head
				// preserved for PR reopen-ability) but must not repopulate the gecko list.
				continue
			}
			geckoHash := meta[commit.MetaGeckoCommit]
			if geckoHash == "" {
				continue
			}
			g, err := readGeckoCommit(geckoDir, geckoHash)
			if err != nil {
				return fmt.Errorf("hydrating bug %s: %w", sync.Bug, err)
			}
			gecko = append(gecko, g)
			lastReplayedGecko = geckoHash
		}
	}

	if geckoHead != "" && geckoHead != lastReplayedGecko {
		if lastReplayedGecko == "" {
			// Never replayed anything: there is no recorded base to walk from, so the only gecko
			// commit this sync can recover is the persisted head itself. Earlier commits in the
			// same original bucket, if any, are lost to this reconstruction.
			log.Printf("wptsync: bug %s: no replayed commits recorded; recovering only the most recent pending gecko commit %s", sync.Bug, geckoHead)
			g, err := readGeckoCommit(geckoDir, geckoHead)
			if err != nil {
				return fmt.Errorf("hydrating bug %s: %w", sync.Bug, err)
			}
			gecko = append(gecko, g)
		} else {
			pending, err := gitcmd.RevList(geckoDir, lastReplayedGecko, geckoHead, trackedSubtree)
			if err != nil {
				return fmt.Errorf("hydrating bug %s: walking pending gecko range: %w", sync.Bug, err)
			}
			// Other bugs' tracked-subtree commits interleave with this sync's in gecko history,
			// so the path-scoped range is a superset: admit only commits that belong to this
			// sync, i.e. changes authored against its bug or backouts of commits it already
			// replayed. Seeding the filter with the replayed commits teaches it their hashes.
			f := &commit.BackoutCommitFilter{Bug: bugID(sync.Bug), TrackedSubtree: trackedSubtree}
			for _, g := range gecko {
				f.Admit(g)
			}
			for _, hash := range pending {
				g, err := readGeckoCommit(geckoDir, hash)
				if err != nil {
					return fmt.Errorf("hydrating bug %s: %w", sync.Bug, err)
				}
				if !f.Admit(g) {
					continue
				}
				gecko = append(gecko, g)
			}
		}
	}

	sync.WptCommits = wpt
	sync.GeckoCommits = gecko
	return nil
}

// bugID converts the store's string-keyed bug to the numeric id gecko commit messages carry.
// A non-numeric key (never produced by the grouping layer, which files numeric work items)
// yields 0, which the filter's bug check matches only against commits carrying no bug id.
func bugID(bug string) int {
	n, err := strconv.Atoi(bug)
	if err != nil {
		return 0
	}
	return n
}

func readGeckoCommit(geckoDir, hash string) (*commit.Gecko, error) {
	message, err := gitcmd.CommitMessage(geckoDir, hash)
	if err != nil {
		return nil, fmt.Errorf("reading gecko commit %s: %w", hash, err)
	}
	paths, err := gitcmd.ChangedPaths(geckoDir, hash)
	if err != nil {
		return nil, fmt.Errorf("reading gecko commit %s paths: %w", hash, err)
	}
	g := commit.ParseGecko(hash, message, paths)
	g.IsDownstream, g.IsLanding = commit.DetectPeerOrigin(message)
	return g, nil
}

func hashObject(dir string, data []byte) (string, error) {
	return gitcmd.HashObjectWrite(dir, data)
}

func catFile(dir, hash string) (string, error) {
	return gitcmd.CombinedOutput(dir, "cat-file", "-p", hash)
}

// pushPointRef records the gecko commit a previous gecko_push invocation last read up to, so the
// next invocation knows where to start scanning. This is outside the sync/upstream/... namespace
// proper since it isn't a sync at all, but it's persisted the same way: a ref in the same
// repository's object database, for the same atomicity reasons described in the package doc.
const pushPointRef = "refs/wptsync/upstream/push-point"

// PushPoint returns the gecko commit the last push scan read up to, or "" if none is recorded yet
// (the very first invocation against this repository).
func (s *Store) PushPoint() (string, error) {
	refs, err := gitcmd.ForEachRef(s.Dir, pushPointRef)
	if err != nil {
		return "", fmt.Errorf("reading push point: %w", err)
	}
	return refs[pushPointRef], nil
}

// SetPushPoint advances the push point ref to rev.
func (s *Store) SetPushPoint(rev string) error {
	if err := gitcmd.UpdateRef(s.Dir, pushPointRef, rev); err != nil {
		return fmt.Errorf("advancing push point to %s: %w", rev, err)
	}
	return nil
}

// NextSeqID returns the next unused SeqID for bug, scanning every status namespace (not just
// open/incomplete) so a completed sync's SeqID is never reused.
func (s *Store) NextSeqID(bug string) (int, error) {
	all, err := s.List()
	if err != nil {
		return 0, err
	}
	max := 0
	for _, sync := range all {
		if sync.Bug == bug && sync.SeqID > max {
			max = sync.SeqID
		}
	}
	return max + 1, nil
}
