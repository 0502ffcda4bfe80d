// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package commit

import "testing"

func TestClassify(t *testing.T) {
	const tracked = "testing/web-platform/tests"

	tests := []struct {
		name string
		c    *Gecko
		want Kind
	}{
		{
			"tracked change",
			ParseGecko("abc123", "Bug 1001 - Fix thing. r=reviewer", []string{tracked + "/foo.html"}),
			TrackedChange,
		},
		{
			"untouched path is skipped",
			ParseGecko("abc124", "Bug 1001 - Fix thing elsewhere. r=reviewer", []string{"other/file.cpp"}),
			Skipped,
		},
		{
			"explicit skip marker",
			ParseGecko("abc125", "Bug 1001 - Fix. wptsync-skip", []string{tracked + "/foo.html"}),
			Skipped,
		},
		{
			"backout of tracked commit",
			ParseGecko("abc126", "Backed out changeset abc123abc123 for bustage.", []string{tracked + "/foo.html"}),
			Backout,
		},
		{
			"backout with no backed-out hashes is skipped",
			&Gecko{Hash: "abc127", IsBackout: true},
			Skipped,
		},
		{
			"downstream replay is classified as downstream replay",
			&Gecko{Hash: "abc128", IsDownstream: true},
			DownstreamReplay,
		},
		{
			"landing commit is classified as landing",
			&Gecko{Hash: "abc129", IsLanding: true},
			Landing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.c, tracked); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseGeckoBug(t *testing.T) {
	c := ParseGecko("abc", "Bug 1234 - Do the thing. r=foo", nil)
	if c.Bug != 1234 {
		t.Errorf("Bug = %v, want 1234", c.Bug)
	}
}

func TestFilterMessageRoundTrip(t *testing.T) {
	msg := FilterMessage("Bug 1001 - Fix thing.\n\nMore detail.\nr=reviewer\nBugzilla-url: https://bugzilla.example/1001\n")
	full := AppendMetadata(msg, "canonicalhash", "autoland", "https://bugzilla.example/1001")
	meta := ParseMetadata(full)
	if meta[MetaGeckoCommit] != "canonicalhash" {
		t.Errorf("gecko-commit = %q, want canonicalhash", meta[MetaGeckoCommit])
	}
	if meta[MetaGeckoIntegrationBranch] != "autoland" {
		t.Errorf("gecko-integration-branch = %q, want autoland", meta[MetaGeckoIntegrationBranch])
	}
	if meta[MetaBugzillaURL] != "https://bugzilla.example/1001" {
		t.Errorf("bugzilla-url = %q", meta[MetaBugzillaURL])
	}
}
