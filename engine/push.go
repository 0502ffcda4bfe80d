// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import (
	"github.com/mozilla/wptsync/commit"
	"github.com/mozilla/wptsync/gitcmd"
)

// ReadGeckoRange reads prev..head from the gecko repository at dir, restricted to trackedSubtree,
// in parent-first order, and classifies each commit's peer origin. A range is a (base, head,
// filter) triple whose iteration re-reads the
// underlying refs lazily rather than snapshotting them, which this function respects simply by
// being called fresh on every push rather than caching its result across pushes.
func ReadGeckoRange(dir, prev, head, trackedSubtree string) ([]*commit.Gecko, error) {
	hashes, err := gitcmd.RevList(dir, prev, head, trackedSubtree)
	if err != nil {
		return nil, err
	}
	commits := make([]*commit.Gecko, 0, len(hashes))
	for _, hash := range hashes {
		message, err := gitcmd.CommitMessage(dir, hash)
		if err != nil {
			return nil, err
		}
		paths, err := gitcmd.ChangedPaths(dir, hash)
		if err != nil {
			return nil, err
		}
		g := commit.ParseGecko(hash, message, paths)
		g.IsDownstream, g.IsLanding = commit.DetectPeerOrigin(message)
		commits = append(commits, g)
	}
	return commits, nil
}
