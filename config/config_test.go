// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestReadConfigYAML(t *testing.T) {
	path := writeConfig(t, "wptsync-config.yaml", `
tracked_subtree: testing/web-platform/tests
integration_branch: autoland
canonical_branch: central
upstream_owner: web-platform-tests
upstream_name: wpt
upstream_base_branch: master
bug_whiteboard: "[wptsync upstream]"
auth_mode: pat
`)
	c, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if c.TrackedSubtree != "testing/web-platform/tests" {
		t.Errorf("TrackedSubtree = %q", c.TrackedSubtree)
	}
	if c.IntegrationBranch != "autoland" || c.CanonicalBranch != "central" {
		t.Errorf("branches = (%q, %q), want (autoland, central)", c.IntegrationBranch, c.CanonicalBranch)
	}
	if c.BugWhiteboard != "[wptsync upstream]" {
		t.Errorf("BugWhiteboard = %q", c.BugWhiteboard)
	}
	if c.AuthMode != "pat" {
		t.Errorf("AuthMode = %q", c.AuthMode)
	}
}

func TestReadConfigJSON(t *testing.T) {
	path := writeConfig(t, "wptsync-config.json",
		`{"tracked_subtree": "testing/web-platform/tests", "upstream_base_branch": "master"}`)
	c, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if c.TrackedSubtree != "testing/web-platform/tests" || c.UpstreamBaseBranch != "master" {
		t.Errorf("parsed config = %+v", c)
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	if _, err := ReadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("ReadConfig on a missing file should error")
	}
}
