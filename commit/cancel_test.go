// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package commit

import "testing"

func g(hash string) *Gecko { return &Gecko{Hash: hash} }

func backout(hash string, backs ...string) *Gecko {
	return &Gecko{Hash: hash, IsBackout: true, BackedOut: backs}
}

func hashes(l []*Gecko) []string {
	var out []string
	for _, c := range l {
		out = append(out, c.Hash)
	}
	return out
}

func TestCancelBackouts(t *testing.T) {
	tests := []struct {
		name string
		in   []*Gecko
		want []string
	}{
		{"no backouts", []*Gecko{g("a"), g("b")}, []string{"a", "b"}},
		{
			"simple pair cancels",
			[]*Gecko{g("a"), backout("y", "a")},
			nil,
		},
		{
			"backout of unknown commit is kept",
			[]*Gecko{backout("y", "unknown")},
			[]string{"y"},
		},
		{
			"interleaved survivor",
			[]*Gecko{g("a"), g("b"), backout("y", "a")},
			[]string{"b"},
		},
		{
			"partial backout set not fully admitted is kept",
			[]*Gecko{g("a"), backout("y", "a", "b")},
			[]string{"a", "y"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hashes(CancelBackouts(tt.in))
			if !equalStrings(got, tt.want) {
				t.Errorf("CancelBackouts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCancelBackoutsInvolutive(t *testing.T) {
	in := []*Gecko{g("a"), g("b"), backout("y", "a"), g("c"), backout("z", "c")}
	once := CancelBackouts(in)
	twice := CancelBackouts(once)
	if !equalStrings(hashes(once), hashes(twice)) {
		t.Errorf("CancelBackouts is not involutive: once=%v twice=%v", hashes(once), hashes(twice))
	}
}

func TestBackoutCommitFilter(t *testing.T) {
	const tracked = "testing/web-platform/tests"
	f := &BackoutCommitFilter{Bug: 1001, TrackedSubtree: tracked}

	mine := &Gecko{Hash: "a", Bug: 1001, Paths: []string{tracked + "/x.html"}}
	if !f.Admit(mine) {
		t.Error("tracked change for this bug should be admitted")
	}
	otherBug := &Gecko{Hash: "b", Bug: 1002, Paths: []string{tracked + "/y.html"}}
	if f.Admit(otherBug) {
		t.Error("change for another bug should be rejected")
	}
	untracked := &Gecko{Hash: "c", Bug: 1001, Paths: []string{"dom/base/z.cpp"}}
	if f.Admit(untracked) {
		t.Error("change outside the tracked subtree should be rejected")
	}
	backoutOfMine := &Gecko{Hash: "d", IsBackout: true, BackedOut: []string{"a"}}
	if !f.Admit(backoutOfMine) {
		t.Error("backout of an admitted commit should be admitted")
	}
	backoutOfStranger := &Gecko{Hash: "e", IsBackout: true, BackedOut: []string{"zzz"}}
	if f.Admit(backoutOfStranger) {
		t.Error("backout of an unknown commit with no bug match should be rejected")
	}
	// A backout naming nothing seen still falls through to the bug check: authored against this
	// bug and touching the subtree, it is admitted on its own terms.
	ownBackout := &Gecko{
		Hash: "g", Bug: 1001, IsBackout: true, BackedOut: []string{"yyy"},
		Paths: []string{tracked + "/x.html"},
	}
	if !f.Admit(ownBackout) {
		t.Error("backout authored against the bug should fall through to the bug match")
	}
	skipped := &Gecko{Hash: "h", Bug: 1001, Message: "wptsync-skip", Paths: []string{tracked + "/x.html"}}
	if f.Admit(skipped) {
		t.Error("commit with the skip marker should be rejected")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
