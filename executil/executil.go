// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package executil contains some common wrappers for simple use of exec.Cmd.
package executil

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Dir builds an *exec.Cmd for name/args rooted at dir, the same way every gitcmd helper wants a
// command that runs against a particular repository working copy rather than the process cwd.
func Dir(dir, name string, args ...string) *exec.Cmd {
	c := exec.Command(name, args...)
	c.Dir = dir
	return c
}

// Run sets up the command to log directly to our stdout/stderr streams, then runs it.
func Run(c *exec.Cmd) error {
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return RunQuiet(c)
}

// RunQuiet logs the command line and runs the given command, but sends the output to os.DevNull.
func RunQuiet(c *exec.Cmd) error {
	fmt.Printf("---- Running command: %v %v\n", c.Path, c.Args)
	return c.Run()
}

// CombinedOutput runs a command and returns the output string of c.CombinedOutput.
func CombinedOutput(c *exec.Cmd) (string, error) {
	fmt.Printf("---- Running command: %v %v\n", c.Path, c.Args)
	out, err := c.CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// SpaceTrimmedCombinedOutput runs CombinedOutput and trims leading/trailing spaces from the result.
func SpaceTrimmedCombinedOutput(c *exec.Cmd) (string, error) {
	out, err := CombinedOutput(c)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// MakeWorkDir creates a unique path inside rootDir to use as a scratch worktree, e.g. for a
// replay engine checkout or a temporary clone. The name starts with the local time in a sortable
// format so multiple workspaces are easy to tell apart when browsing rootDir by hand. rootDir is
// created with os.MkdirAll if it doesn't already exist.
func MakeWorkDir(rootDir string) (string, error) {
	pathDate := time.Now().Format("2006-01-02_15-04-05")
	if err := os.MkdirAll(rootDir, os.ModePerm); err != nil {
		return "", err
	}
	return os.MkdirTemp(rootDir, fmt.Sprintf("%s_*", pathDate))
}
