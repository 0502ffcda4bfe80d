// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"fmt"

	"github.com/mozilla/wptsync/config"
	"github.com/mozilla/wptsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(bugCmd))
}

type bugCmd struct{}

func (bugCmd) Name() string { return "bug" }

func (bugCmd) Summary() string { return "Re-evaluate every sync for a bug." }

func (bugCmd) Description() string {
	return `

Re-reconciles and attempts to land every sync (across every status, not just open) that
originated from the given bug, for interactive debugging of a single bug's syncs.
`
}

func (bugCmd) ArgsSummary() string { return "<bug>" }

func (bugCmd) Handle(p subcmd.ParseFunc) error {
	flags := config.BindFlags(config.Root())

	if err := p(); err != nil {
		return err
	}
	args := flagArgs()
	if len(args) != 1 {
		return fmt.Errorf("bug: expected exactly one argument, the bug id")
	}
	bug := args[0]

	env, err := setUp(flags)
	if err != nil {
		return err
	}
	defer env.tearDown()

	all, err := env.Store.List()
	if err != nil {
		return err
	}
	var found bool
	for _, s := range all {
		if s.Bug != bug {
			continue
		}
		found = true
		if err := reevaluateOne(env, s); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("bug: no sync found for bug %s", bug)
	}
	return nil
}
