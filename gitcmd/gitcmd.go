// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package gitcmd contains utilities for common Git operations in a local repository, including
// authentication with a remote repository.
package gitcmd

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/mozilla/wptsync/executil"
)

// CombinedOutput runs "git <args...>" in the given directory and returns the result.
func CombinedOutput(dir string, args ...string) (string, error) {
	return executil.CombinedOutput(executil.Dir(dir, "git", args...))
}

// RevParse runs "git rev-parse <rev>" and returns the result with whitespace trimmed.
func RevParse(dir, rev string) (string, error) {
	return executil.SpaceTrimmedCombinedOutput(executil.Dir(dir, "git", "rev-parse", rev))
}

// ShowQuietPretty runs "git show" with the given format and revision and returns the result.
// See https://git-scm.com/docs/git-show#_pretty_formats
func ShowQuietPretty(dir, format, rev string) (string, error) {
	return CombinedOutput(dir, "show", "--quiet", "--pretty=format:"+format, strings.TrimSpace(rev))
}

// Run runs "git <args>" in the given directory, showing the command to the user in logs for
// diagnosability. Using this func helps make one-line Git commands readable.
func Run(dir string, args ...string) error {
	return executil.Run(executil.Dir(dir, "git", args...))
}

// NewTempGitRepo creates a gitRepo in temp storage. If desired, clean it up with AttemptDelete.
func NewTempGitRepo() (string, error) {
	gitDir, err := os.MkdirTemp("", "wptsync-temp-git-*")
	if err != nil {
		return "", err
	}
	if err := executil.Run(exec.Command("git", "init", gitDir)); err != nil {
		return "", err
	}
	log.Printf("Created dir %#q to store temp Git repo.\n", gitDir)
	return gitDir, nil
}

// AttemptDelete tries to delete the git dir. If an error occurs, log it, but this is not fatal.
// gitDir is expected to be in a temp dir, so it will be cleaned up later by the OS anyway.
func AttemptDelete(gitDir string) {
	if err := os.RemoveAll(gitDir); err != nil {
		log.Printf("Unable to clean up git repository directory %#q: %v\n", gitDir, err)
	}
}

// RevList runs "git rev-list --reverse <base>..<head> -- <paths...>" and returns the listed
// commit hashes in parent-first (topological) order. Restricting to paths filters out commits
// that don't touch any of them.
func RevList(dir, base, head string, paths ...string) ([]string, error) {
	args := []string{"rev-list", "--reverse", base + ".." + head}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	output, err := CombinedOutput(dir, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits %v..%v: %w", base, head, err)
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}
	return strings.Split(output, "\n"), nil
}

// IsAncestor reports whether ancestor is an ancestor of (or equal to) descendant.
func IsAncestor(dir, ancestor, descendant string) (bool, error) {
	err := executil.Dir(dir, "git", "merge-base", "--is-ancestor", ancestor, descendant).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to check ancestry of %v in %v: %w", ancestor, descendant, err)
}

// UpdateRef runs "git update-ref <ref> <rev>", creating or moving the ref to point at rev.
func UpdateRef(dir, ref, rev string) error {
	return Run(dir, "update-ref", ref, rev)
}

// DeleteRef runs "git update-ref -d <ref>", ignoring the case where the ref doesn't exist.
func DeleteRef(dir, ref string) error {
	_, err := CombinedOutput(dir, "update-ref", "-d", ref)
	return err
}

// ForEachRef lists refs matching pattern and returns them as a map from ref name to commit hash.
func ForEachRef(dir, pattern string) (map[string]string, error) {
	output, err := CombinedOutput(dir, "for-each-ref", "--format=%(refname) %(objectname)", pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate refs matching %v: %w", pattern, err)
	}
	refs := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		refs[fields[0]] = fields[1]
	}
	return refs, nil
}

// ResetHard runs "git reset --hard [rev]" followed by "git clean -fdx", restoring the worktree to
// a pristine copy of rev (or HEAD, if rev is empty). Used before every replay attempt: worktrees
// are scratch space and are not reused across commands without this reset.
func ResetHard(dir, rev string) error {
	args := []string{"reset", "--hard"}
	if rev != "" {
		args = append(args, rev)
	}
	if err := Run(dir, args...); err != nil {
		return fmt.Errorf("failed to reset worktree: %w", err)
	}
	if err := Run(dir, "clean", "-fdx"); err != nil {
		return fmt.Errorf("failed to clean worktree: %w", err)
	}
	return nil
}

// CheckoutDetach runs "git checkout --detach <rev>", leaving every local branch ref untouched by
// whatever commits are built on top of it afterwards.
func CheckoutDetach(dir, rev string) error {
	return Run(dir, "checkout", "--detach", rev)
}

// CommitTreeEqualToParent reports whether rev's tree is identical to its first parent's tree,
// meaning the commit introduced no net change.
func CommitTreeEqualToParent(dir, rev string) (bool, error) {
	_, err := CombinedOutput(dir, "diff", "--quiet", rev+"^", rev)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to diff %v against its parent: %w", rev, err)
}

// CommitMessage returns the full commit message body (subject + body) of rev.
func CommitMessage(dir, rev string) (string, error) {
	return ShowQuietPretty(dir, "%B", rev)
}

// PushRefspec runs "git push [--force] <remote> <refspec>".
func PushRefspec(dir, remote, refspec string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, remote, refspec)
	return Run(dir, args...)
}

// Fetch runs "git fetch <remote> <refspecs...>".
func Fetch(dir, remote string, refspecs ...string) error {
	args := append([]string{"fetch", remote}, refspecs...)
	return Run(dir, args...)
}

// SetRemoteURL runs "git remote set-url <remote> <url>", pointing an already-configured remote at
// a (possibly freshly-authed) URL without disturbing its configured fetch refspec, the way
// Fetch's implicit "update every remote-tracking ref" behavior requires a remote name rather than
// a bare URL to resolve against.
func SetRemoteURL(dir, remote, url string) error {
	return Run(dir, "remote", "set-url", remote, url)
}

// HashObjectWrite runs "git hash-object -w --stdin", writing data into the repository's object
// database as a blob and returning its hash. Used by the sync store to persist the metadata JSON
// blob referenced from each sync's meta ref.
func HashObjectWrite(dir string, data []byte) (string, error) {
	c := executil.Dir(dir, "git", "hash-object", "-w", "--stdin")
	c.Stdin = bytes.NewReader(data)
	fmt.Printf("---- Running command: %v %v\n", c.Path, c.Args)
	out, err := c.Output()
	if err != nil {
		return "", fmt.Errorf("failed to hash-object: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ChangedPaths runs "git diff-tree --no-commit-id --name-only -r <rev>" and returns the paths
// rev touches, relative to the repository root.
func ChangedPaths(dir, rev string) ([]string, error) {
	output, err := CombinedOutput(dir, "diff-tree", "--no-commit-id", "--name-only", "-r", rev)
	if err != nil {
		return nil, fmt.Errorf("listing changed paths for %v: %w", rev, err)
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}
	return strings.Split(output, "\n"), nil
}
