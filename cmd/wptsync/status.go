// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"flag"
	"fmt"

	"github.com/mozilla/wptsync/config"
	"github.com/mozilla/wptsync/subcmd"
	"github.com/mozilla/wptsync/upstreamsync"
)

func init() {
	subcommands = append(subcommands, new(statusCmd))
}

type statusCmd struct{}

func (statusCmd) Name() string { return "status" }

func (statusCmd) Summary() string { return "Force a sync's status (operator escape hatch)." }

func (statusCmd) Description() string {
	return `

Forces a sync's status to a new value, bypassing engine decision-making entirely. Intended as an
operator escape hatch for recovering a sync an automatic reconcile cannot move on its own; it
still enforces the allowed transition set, so it cannot be used to reach an unreachable
status.
`
}

func (statusCmd) ArgsSummary() string { return "<obj-type> <sync-type> <id> <new>" }

func (statusCmd) Handle(p subcmd.ParseFunc) error {
	flags := config.BindFlags(config.Root())
	oldStatusFlag := flag.String("old-status", "", "Require the sync's current status to match this value.")
	seqIDFlag := flag.Int("seq-id", 0, "Disambiguate among multiple syncs for the same bug by sequence id.")

	if err := p(); err != nil {
		return err
	}
	args := flagArgs()
	if len(args) != 4 {
		return fmt.Errorf("status: expected <obj-type> <sync-type> <id> <new>, got %v", args)
	}
	objType, syncType, bug, newStatus := args[0], args[1], args[2], args[3]
	if objType != "sync" {
		return fmt.Errorf("status: unsupported obj-type %q (only \"sync\" is supported)", objType)
	}
	if syncType != "upstream" {
		return fmt.Errorf("status: unsupported sync-type %q (only \"upstream\" is supported by this module; downstream and landing syncs are handled by their own engines)", syncType)
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
		if s.Bug != bug {
			continue
		}
		if *oldStatusFlag != "" && string(s.Status) != *oldStatusFlag {
			continue
		}
		if *seqIDFlag != 0 && s.SeqID != *seqIDFlag {
			continue
		}
		sync = s
		break
	}
	if sync == nil {
		return fmt.Errorf("status: no matching sync found for bug %s", bug)
	}

	oldStatus, oldSeq := sync.Status, sync.SeqID
	mut := upstreamsync.Begin(env.Lock, sync)
	if err := mut.Transition(upstreamsync.Status(newStatus)); err != nil {
		return err
	}
	return env.Store.Persist(sync, oldStatus, oldSeq)
}
