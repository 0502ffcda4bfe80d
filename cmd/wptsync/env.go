// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/go-github/v65/github"

	"github.com/mozilla/wptsync/bugtracker"
	"github.com/mozilla/wptsync/config"
	"github.com/mozilla/wptsync/gitcmd"
	"github.com/mozilla/wptsync/githubutil"
	"github.com/mozilla/wptsync/lock"
	"github.com/mozilla/wptsync/reconciler"
	"github.com/mozilla/wptsync/replay"
	"github.com/mozilla/wptsync/store"
	"github.com/mozilla/wptsync/upstreamsync"
)

// lockTimeout bounds how long a command waits for another wptsync invocation to release the
// process-wide advisory lock before giving up.
const lockTimeout = 10 * time.Minute

// Environment threads the config, the acquired process lock, and every client a mutating
// subcommand needs, built once in setUp so each subcommand gets the same wiring without
// repeating it.
type Environment struct {
	Config *config.Config
	Flags  *config.Flags

	GeckoDir    string
	UpstreamDir string

	// GitAuther rewrites a gecko/upstream repo URL with credentials before it's handed to a git
	// subprocess, so git operations that can't rely on an already-authenticated remote (no SSH
	// agent, no stored credential) still work against an HTTP PAT or GitHub App token.
	GitAuther gitcmd.URLAuther

	Store      *store.Store
	LockFile   *lock.File
	Lock       *upstreamsync.Lock
	Reconciler *reconciler.Reconciler
	Replay     *replay.Engine
	Tracker    *bugtracker.Tracker
}

// setUp loads the config, acquires the process lock, and builds every client a mutating command
// needs. Callers must call tearDown when done, even on error, once lock acquisition has
// succeeded.
func setUp(flags *config.Flags) (*Environment, error) {
	config.EnsureShell()
	root := *flags.Root

	cfg, err := config.ReadConfig(*flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	lockFile, lk, err := lock.Acquire(root, lock.Domain, lockTimeout)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		Config:      cfg,
		Flags:       flags,
		GeckoDir:    filepath.Join(root, "gecko"),
		UpstreamDir: filepath.Join(root, "upstream"),
		GitAuther:   gitAutherFor(cfg, flags),
		Store:       &store.Store{Dir: filepath.Join(root, "gecko")},
		LockFile:    lockFile,
		Lock:        lk,
	}

	ctx := context.Background()
	client, err := githubClientFor(ctx, cfg, flags)
	if err != nil {
		env.tearDown()
		return nil, err
	}
	if _, err := githubutil.FetchRepository(ctx, client, cfg.UpstreamOwner, cfg.UpstreamName); err != nil {
		env.tearDown()
		return nil, fmt.Errorf("checking upstream repo %s/%s: %w", cfg.UpstreamOwner, cfg.UpstreamName, err)
	}

	env.Reconciler = &reconciler.Reconciler{
		Host:            &reconciler.Host{Client: client, Owner: cfg.UpstreamOwner, Repo: cfg.UpstreamName},
		WorkDir:         env.UpstreamDir,
		Remote:          "origin",
		PushURL:         env.GitAuther.InsertAuth(cfg.UpstreamRepo),
		BaseBranch:      cfg.UpstreamBaseBranch,
		BugzillaURL:     env.bugURL,
		PostComment:     env.postComment,
		CentralDir:      env.GeckoDir,
		CanonicalBranch: cfg.CanonicalBranch,
	}
	env.Replay = &replay.Engine{
		SourceDir:         env.GeckoDir,
		WorkDir:           env.UpstreamDir,
		TrackedSubtree:    cfg.TrackedSubtree,
		IntegrationBranch: cfg.IntegrationBranch,
		BugzillaURL:       env.bugURL,
	}

	if *flags.AzDOOrg != "" {
		tracker, err := bugtracker.NewTracker(ctx, bugtracker.ClientFlags{
			Org:  *flags.AzDOOrg,
			Proj: *flags.AzDOProj,
			PAT:  *flags.AzDOPAT,
		}, "Task", "")
		if err != nil {
			env.tearDown()
			return nil, err
		}
		env.Tracker = tracker
	}

	return env, nil
}

// tearDown releases the process lock and its backing file. Safe to call even if setUp returned
// an error partway through, as long as the lock was acquired.
func (e *Environment) tearDown() {
	if e.Lock != nil {
		e.Lock.Release()
	}
	if e.LockFile != nil {
		if err := e.LockFile.Release(); err != nil {
			log.Printf("wptsync: failed to release lock file: %v", err)
		}
	}
}

// upstreamBaseRef is the remote-tracking ref git-side operations (merge-base anchoring, replay
// base resolution) compare against. The plain Config.UpstreamBaseBranch name is what the PR API
// wants; the local branch of that name goes stale after a fetch, so git reads use origin's view.
func (e *Environment) upstreamBaseRef() string {
	return "origin/" + e.Config.UpstreamBaseBranch
}

// bugURL resolves bug through the configured tracker, or "" if no tracker is configured (e.g. a
// dry run with no AzDO credentials).
func (e *Environment) bugURL(bug string) string {
	if e.Tracker == nil || bug == "" {
		return ""
	}
	return e.Tracker.BugURL(bug)
}

// postComment is the BugCommenter adapter threaded into the reconciler, respecting -n (dry run).
func (e *Environment) postComment(bug, text string) error {
	if bug == "" {
		return nil
	}
	if *e.Flags.DryRun {
		log.Printf("wptsync: [dry run] would comment on bug %s: %s", bug, text)
		return nil
	}
	if e.Tracker == nil {
		log.Printf("wptsync: no bug tracker configured, dropping comment on bug %s: %s", bug, text)
		return nil
	}
	return e.Tracker.Comment(context.Background(), bug, text)
}

// notifyConflict surfaces a replay conflict on the sync's bug: Tracker.Needinfo both comments
// and flags the given user (or the configured admin list when empty).
func (e *Environment) notifyConflict(bug, text, user string) error {
	if bug == "" {
		return nil
	}
	if *e.Flags.DryRun {
		log.Printf("wptsync: [dry run] would comment and needinfo %s on bug %s: %s", user, bug, text)
		return nil
	}
	if e.Tracker == nil {
		log.Printf("wptsync: no bug tracker configured, dropping conflict report for bug %s: %s", bug, text)
		return nil
	}
	return e.Tracker.BugCtx(bug).Needinfo(context.Background(), text, user)
}

// needinfo is a NeedinfoPoster adapter for CommitCheckChanged. No subcommand passes it on.
func (e *Environment) needinfo(bug, text, user string) error {
	if bug == "" {
		return nil
	}
	if *e.Flags.DryRun {
		log.Printf("wptsync: [dry run] would needinfo %s on bug %s: %s", user, bug, text)
		return nil
	}
	if e.Tracker == nil {
		return nil
	}
	return e.Tracker.Needinfo(context.Background(), bug, text, user)
}

// gitAutherFor resolves the gitcmd.URLAuther git subprocesses use to rewrite the gecko/upstream
// repo URLs before fetch/push, mirroring how cfg.AuthMode already selects the REST client in
// githubClientFor. "ssh" rewrites an https-style GitHub URL to the git@github.com: form and relies
// on the machine's own SSH agent/known_hosts, same as the REST client still needs a PAT for API
// calls even when git transport goes over SSH. "none" leaves URLs untouched.
func gitAutherFor(cfg *config.Config, flags *config.Flags) gitcmd.URLAuther {
	switch cfg.AuthMode {
	case "app":
		return githubutil.GitHubAppAuther{
			ClientID:       fmt.Sprintf("%d", *flags.GitHubAppID),
			InstallationID: *flags.GitHubAppInstallation,
			PrivateKey:     *flags.GitHubAppPrivateKey,
		}
	case "ssh":
		return githubutil.GitHubSSHAuther{}
	case "pat", "":
		return gitcmd.MultiAuther{Authers: []gitcmd.URLAuther{
			githubutil.GitHubPATAuther{PAT: *flags.GitHubPAT},
			gitcmd.NoAuther{},
		}}
	default:
		return gitcmd.NoAuther{}
	}
}

func githubClientFor(ctx context.Context, cfg *config.Config, flags *config.Flags) (*github.Client, error) {
	switch cfg.AuthMode {
	case "app":
		return githubutil.NewInstallationClient(ctx, *flags.GitHubAppID, *flags.GitHubAppInstallation, *flags.GitHubAppPrivateKey)
	case "ssh", "pat", "":
		// The REST API has no SSH transport; "ssh" only changes how git fetch/push authenticate,
		// so PR/check-run calls still go through a PAT.
		return githubutil.NewClient(ctx, *flags.GitHubPAT)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}
