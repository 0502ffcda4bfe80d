// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"fmt"
	"strconv"

	"github.com/mozilla/wptsync/config"
	"github.com/mozilla/wptsync/reconciler"
	"github.com/mozilla/wptsync/subcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

func init() {
	subcommands = append(subcommands, new(prCmd))
}

type prCmd struct{}

func (prCmd) Name() string { return "pr" }

func (prCmd) Summary() string { return "Re-evaluate a single pull request's sync." }

func (prCmd) Description() string {
	return `

Re-reconciles and attempts to land the single sync carrying pull request pr_id, the same work
update performs for every open sync, scoped to one sync for interactive debugging.
`
}

func (prCmd) ArgsSummary() string { return "<pr_id>" }

func (prCmd) Handle(p subcmd.ParseFunc) error {
	flags := config.BindFlags(config.Root())

	if err := p(); err != nil {
		return err
	}
	args := flagArgs()
	if len(args) != 1 {
		return fmt.Errorf("pr: expected exactly one argument, the pull request id")
	}
	prID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("pr: %q is not a pull request id: %w", args[0], err)
	}

	env, err := setUp(flags)
	if err != nil {
		return err
	}
	defer env.tearDown()

	all, err := env.Store.List()
	if err != nil {
		return err
	}
	var sync *upstreamsync.UpstreamSync
	for _, s := range all {
		if s.PRID == prID {
			sync = s
			break
		}
	}
	if sync == nil {
		return fmt.Errorf("pr: no sync found for pull request %d", prID)
	}

	return reevaluateOne(env, sync)
}

// reevaluateOne reconciles and attempts to land a single sync, raising on error rather than
// recording it onto the sync: operator-invoked single-sync paths want the real failure.
func reevaluateOne(env *Environment, sync *upstreamsync.UpstreamSync) error {
	if err := env.Store.Hydrate(sync, env.GeckoDir, env.UpstreamDir, env.upstreamBaseRef(), env.Config.TrackedSubtree); err != nil {
		return fmt.Errorf("bug %s: %w", sync.Bug, err)
	}

	oldStatus, oldSeq := sync.Status, sync.SeqID
	mut := upstreamsync.Begin(env.Lock, sync)

	if err := env.Reconciler.Reconcile(mut); err != nil {
		_ = env.Store.Persist(sync, oldStatus, oldSeq)
		return fmt.Errorf("bug %s: reconcile: %w", sync.Bug, err)
	}

	in := reconciler.LandingInputs{CanonicalBranch: env.Config.CanonicalBranch, CentralDir: env.GeckoDir}
	if _, err := env.Reconciler.TryLandPR(mut, in); err != nil {
		_ = env.Store.Persist(sync, oldStatus, oldSeq)
		return fmt.Errorf("bug %s: try_land_pr: %w", sync.Bug, err)
	}

	return env.Store.Persist(sync, oldStatus, oldSeq)
}
