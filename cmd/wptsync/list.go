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
	subcommands = append(subcommands, new(listCmd))
}

type listCmd struct{}

func (listCmd) Name() string { return "list" }

func (listCmd) Summary() string { return "Enumerate syncs." }

func (listCmd) Description() string {
	return `

Lists every known sync, one per line, as
"<mark> bug=<bug> status=<status> pr_status=<pr-status> [error=<first line of error>]". By default
only open and incomplete syncs are shown; pass status names as args to show other statuses instead
(e.g. "list complete"). <mark> is "*" for a sync with a non-empty error and a space otherwise.
`
}

func (listCmd) ArgsSummary() string { return "[status...]" }

func (listCmd) Handle(p subcmd.ParseFunc) error {
	flags := config.BindFlags(config.Root())
	onlyErrors := flag.Bool("error", false, "Only list syncs with a non-empty error.")

	if err := p(); err != nil {
		return err
	}
	statuses := flagArgs()
	if len(statuses) == 0 {
		statuses = []string{string(upstreamsync.StatusOpen), string(upstreamsync.StatusIncomplete)}
	}
	want := map[upstreamsync.Status]bool{}
	for _, s := range statuses {
		want[upstreamsync.Status(s)] = true
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
	for _, s := range all {
		if !want[s.Status] {
			continue
		}
		if *onlyErrors && s.Error == "" {
			continue
		}
		prefix := " "
		if s.Error != "" {
			prefix = "*"
		}
		line := fmt.Sprintf("%s bug=%s status=%s pr_status=%s", prefix, s.Bug, s.Status, s.PRStatus)
		if s.Error != "" {
			line += " error=" + firstLine(s.Error)
		}
		fmt.Println(line)
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
