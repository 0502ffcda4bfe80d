// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"fmt"

	"github.com/mozilla/wptsync/config"
	"github.com/mozilla/wptsync/engine"
	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/reconciler"
	"github.com/mozilla/wptsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(updateCmd))
}

type updateCmd struct{}

func (updateCmd) Name() string { return "update" }

func (updateCmd) Summary() string {
	return "Pull changes from the remote host and advance every open sync."
}

func (updateCmd) Description() string {
	return `

Fetches the gecko and upstream repositories, runs gecko_push against the freshly fetched
integration branch head, and then sweeps every open sync with a pull request attempting to land
it. This is the command a scheduler (cron, pipeline trigger) is expected to invoke periodically;
wptsync itself does no scheduling.
`
}

func (updateCmd) Handle(p subcmd.ParseFunc) error {
	flags := config.BindFlags(config.Root())

	if err := p(); err != nil {
		return err
	}

	env, err := setUp(flags)
	if err != nil {
		return err
	}
	defer env.tearDown()

	if err := gitcmd.SetRemoteURL(env.GeckoDir, "origin", env.GitAuther.InsertAuth(env.Config.GeckoRepo)); err != nil {
		return fmt.Errorf("authenticating gecko repository remote: %w", err)
	}
	if err := gitcmd.Fetch(env.GeckoDir, "origin"); err != nil {
		return fmt.Errorf("fetching gecko repository: %w", err)
	}
	if err := gitcmd.SetRemoteURL(env.UpstreamDir, "origin", env.GitAuther.InsertAuth(env.Config.UpstreamRepo)); err != nil {
		return fmt.Errorf("authenticating upstream repository remote: %w", err)
	}
	if err := gitcmd.Fetch(env.UpstreamDir, "origin"); err != nil {
		return fmt.Errorf("fetching upstream repository: %w", err)
	}

	if err := runGeckoPush(env, ""); err != nil {
		return err
	}

	in := reconciler.LandingInputs{
		CanonicalBranch: env.Config.CanonicalBranch,
		CentralDir:      env.GeckoDir,
	}
	return engine.LandOpenSyncs(env.Lock, env.Store, env.Reconciler, in, env.GeckoDir, env.UpstreamDir, env.upstreamBaseRef(), env.Config.TrackedSubtree)
}
