// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/mozilla/wptsync/config"
	"github.com/mozilla/wptsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(deleteCmd))
}

type deleteCmd struct{}

func (deleteCmd) Name() string { return "delete" }

func (deleteCmd) Summary() string { return "Delete a sync (or its try-pushes)." }

func (deleteCmd) Description() string {
	return `

With --try, deletes only the sync's try-pushes. Without --try, deletes the sync's refs entirely;
callers are expected to have deleted its try-pushes first. This module does not itself track
gecko try-server pushes, so --try is a no-op here
besides logging that nothing needed cleaning up.
`
}

func (deleteCmd) ArgsSummary() string { return "<sync-type> <id>" }

func (deleteCmd) Handle(p subcmd.ParseFunc) error {
	flags := config.BindFlags(config.Root())
	tryOnly := flag.Bool("try", false, "Delete only the sync's try-pushes, not the sync itself.")

	if err := p(); err != nil {
		return err
	}
	args := flagArgs()
	if len(args) != 2 {
		return fmt.Errorf("delete: expected <sync-type> <id>, got %v", args)
	}
	syncType, bug := args[0], args[1]
	if syncType != "upstream" {
		return fmt.Errorf("delete: unsupported sync-type %q (only \"upstream\" is supported by this module)", syncType)
	}

	env, err := setUp(flags)
	if err != nil {
		return err
	}
	defer env.tearDown()

	if *tryOnly {
		log.Printf("wptsync: bug %s: no try-pushes are tracked by this module, nothing to delete", bug)
		return nil
	}

	all, err := env.Store.List()
	if err != nil {
		return err
	}
	var deleted int
	for _, s := range all {
		if s.Bug != bug {
			continue
		}
		if err := env.Store.Delete(s); err != nil {
			return fmt.Errorf("deleting sync for bug %s (seq %d): %w", bug, s.SeqID, err)
		}
		deleted++
	}
	if deleted == 0 {
		return fmt.Errorf("delete: no sync found for bug %s", bug)
	}
	log.Printf("wptsync: deleted %d sync(s) for bug %s", deleted, bug)
	return nil
}
