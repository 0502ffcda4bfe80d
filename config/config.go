// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package config implements the ambient configuration layer for the synchronizer: a Config
// struct loaded from a YAML or JSON file on disk, plus the command-line Flags (config path, state
// root, credentials, dry run) that every subcommand binds.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v4"

	"github.com/mozilla/wptsync/githubutil"
)

// Config holds the settings the synchronizer needs to locate its repositories and bug tracker,
// tracked subtree, integration and canonical branch names, repository URLs and coordinates,
// auth mode, and the bug-tracker fields used when filing new bugs.
type Config struct {
	// TrackedSubtree is the path prefix within the gecko repository that is mirrored upstream
	// e.g. "testing/web-platform/tests".
	TrackedSubtree string `json:"tracked_subtree" yaml:"tracked_subtree"`
	// IntegrationBranch is the moving branch new gecko commits first land on, e.g. "autoland".
	IntegrationBranch string `json:"integration_branch" yaml:"integration_branch"`
	// CanonicalBranch is the stable branch that indicates a commit is durably landed, e.g.
	// "central".
	CanonicalBranch string `json:"canonical_branch" yaml:"canonical_branch"`

	// GeckoRepo is the URL (or local path) of the gecko source repository.
	GeckoRepo string `json:"gecko_repo" yaml:"gecko_repo"`
	// UpstreamRepo is the URL (or local path) of the upstream web-platform-tests repository that
	// sync side branches and PRs are created against.
	UpstreamRepo string `json:"upstream_repo" yaml:"upstream_repo"`
	// UpstreamOwner and UpstreamName identify the GitHub repo PRs are opened against.
	UpstreamOwner string `json:"upstream_owner" yaml:"upstream_owner"`
	UpstreamName  string `json:"upstream_name" yaml:"upstream_name"`
	// UpstreamBaseBranch is the branch PRs are opened against, e.g. "master".
	UpstreamBaseBranch string `json:"upstream_base_branch" yaml:"upstream_base_branch"`

	// BugProduct, BugComponent, and BugWhiteboard are used when filing a fresh bug for an orphan
	// commit group, e.g. whiteboard "[wptsync upstream]".
	BugProduct    string `json:"bug_product" yaml:"bug_product"`
	BugComponent  string `json:"bug_component" yaml:"bug_component"`
	BugWhiteboard string `json:"bug_whiteboard" yaml:"bug_whiteboard"`

	// AuthMode selects how Git and GitHub requests are authenticated: "none", "pat", "app", or
	// "ssh" (git transport only; REST calls still use a PAT under "ssh").
	AuthMode string `json:"auth_mode" yaml:"auth_mode"`
}

// Flags are the command-line flags every subcommand binds to configure a Config.
type Flags struct {
	ConfigPath *string
	Root       *string

	GitHubPAT             *string
	GitHubAppID           *int64
	GitHubAppInstallation *int64
	GitHubAppPrivateKey   *string

	AzDOOrg  *string
	AzDOProj *string
	AzDOPAT  *string

	DryRun *bool
}

// BindFlags registers the common flags used by every subcommand. root is the default
// WPTSYNC_ROOT, used as the base for the default config path.
func BindFlags(root string) *Flags {
	return &Flags{
		ConfigPath: flag.String("c", filepath.Join(root, "wptsync-config.yaml"),
			"Path to the synchronizer config file (YAML or JSON)."),
		Root: flag.String("root", root, "Overrides WPTSYNC_ROOT for this invocation."),

		GitHubPAT:             flag.String("github-pat", "", "GitHub PAT to authenticate PR operations with."),
		GitHubAppID:           githubutil.BindAPPIDFlag(),
		GitHubAppInstallation: githubutil.BindAppInstallationFlag(),
		GitHubAppPrivateKey:   githubutil.BindAppPrivateKeyFlag(),

		AzDOOrg:  flag.String("azdo-org", "", "Azure DevOps organization URL, for the bug tracker."),
		AzDOProj: flag.String("azdo-proj", "", "Azure DevOps project, for the bug tracker."),
		AzDOPAT:  flag.String("azdo-pat", "", "Azure DevOps PAT, for the bug tracker."),

		DryRun: flag.Bool("n", false, "Enable dry run: do not push, create PRs, or mutate bugs."),
	}
}

// ReadConfig loads and parses the file at path. It accepts YAML (".yaml"/".yml") or JSON
// (anything else), detected by extension rather than content-sniffing.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var c Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}
	return &c, nil
}

// Root resolves the synchronizer's state directory: the WPTSYNC_ROOT environment variable,
// falling back to the current working directory.
func Root() string {
	if r := os.Getenv("WPTSYNC_ROOT"); r != "" {
		return r
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// EnsureShell sets SHELL to /bin/bash if unset; the underlying Git toolchain requires it.
func EnsureShell() {
	if os.Getenv("SHELL") == "" {
		os.Setenv("SHELL", "/bin/bash")
	}
}
