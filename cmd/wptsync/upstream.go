// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"fmt"

	"github.com/mozilla/wptsync/config"
	"github.com/mozilla/wptsync/engine"
	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(upstreamCmd))
}

type upstreamCmd struct{}

func (upstreamCmd) Name() string { return "upstream" }

func (upstreamCmd) Summary() string {
	return "Run gecko_push against a gecko revision, grouping and replaying any new tracked commits."
}

func (upstreamCmd) Description() string {
	return `

Reads every gecko commit between the last recorded push point and rev (default: the HEAD of the
configured integration branch), classifies and groups them per sync, replays each affected sync's
commits onto its upstream side branch, and reconciles the sync's pull request.
`
}

func (upstreamCmd) ArgsSummary() string { return "[rev]" }

func (upstreamCmd) Handle(p subcmd.ParseFunc) error {
	flags := config.BindFlags(config.Root())

	if err := p(); err != nil {
		return err
	}
	args := flagArgs()

	env, err := setUp(flags)
	if err != nil {
		return err
	}
	defer env.tearDown()

	rev := ""
	if len(args) > 0 {
		rev = args[0]
	}
	return runGeckoPush(env, rev)
}

// runGeckoPush resolves rev to a concrete gecko commit (defaulting to the integration branch
// head), reads the commit range since the last recorded push point, and hands it to
// engine.ProcessPush. The push point is only advanced once processing completes, so a failed run
// can simply be retried against the same range.
func runGeckoPush(env *Environment, rev string) error {
	if rev == "" {
		head, err := gitcmd.RevParse(env.GeckoDir, env.Config.IntegrationBranch)
		if err != nil {
			return fmt.Errorf("resolving integration branch %s: %w", env.Config.IntegrationBranch, err)
		}
		rev = head
	}

	prev, err := env.Store.PushPoint()
	if err != nil {
		return err
	}
	if prev == "" {
		// First run against this repository: there is no meaningful history to backfill, so just
		// record the starting point and process nothing.
		return env.Store.SetPushPoint(rev)
	}
	if prev == rev {
		return nil
	}

	commits, err := engine.ReadGeckoRange(env.GeckoDir, prev, rev, env.Config.TrackedSubtree)
	if err != nil {
		return fmt.Errorf("reading gecko range %s..%s: %w", prev, rev, err)
	}

	replayBase, err := gitcmd.RevParse(env.UpstreamDir, env.upstreamBaseRef())
	if err != nil {
		return fmt.Errorf("resolving upstream base branch %s: %w", env.upstreamBaseRef(), err)
	}

	if err := engine.ProcessPush(env.Lock, env.Store, commits, env.Config.TrackedSubtree, env.fileBug, env.Replay, replayBase, env.Reconciler, env.notifyConflict, env.GeckoDir, env.UpstreamDir, env.upstreamBaseRef()); err != nil {
		return err
	}

	return env.Store.SetPushPoint(rev)
}

// fileBug implements engine.BugFiler for an orphan create-bucket: files a fresh bug
// with the configured product, component and whiteboard (Config.BugWhiteboard, e.g.
// "[wptsync upstream]").
func (e *Environment) fileBug(b *engine.CreateBucket) (string, error) {
	if e.Tracker == nil {
		return "", fmt.Errorf("no bug tracker configured, cannot file a bug for orphan commit %s", b.First.Hash)
	}
	summary := fmt.Sprintf("Upstream web-platform-tests changes starting at %s", b.First.Hash[:12])
	body := fmt.Sprintf("Filed automatically for %d gecko commit(s) touching %s with no attributable bug.", len(b.Commits), e.Config.TrackedSubtree)
	return e.Tracker.New(context.Background(), summary, body, e.Config.BugProduct, e.Config.BugComponent, e.Config.BugWhiteboard)
}
