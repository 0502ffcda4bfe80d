// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package upstreamsync

import (
	"testing"

	"github.com/go-test/deep"
	"github.com/mozilla/wptsync/commit"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusWptMerged, true},
		{StatusOpen, StatusComplete, true},
		{StatusOpen, StatusIncomplete, true},
		{StatusIncomplete, StatusOpen, true},
		{StatusWptMerged, StatusComplete, true},
		{StatusOpen, StatusOpen, false},
		{StatusComplete, StatusOpen, false},
		{StatusWptMerged, StatusOpen, false},
		{StatusIncomplete, StatusComplete, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMutRequiresLock(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("Begin with an unheld lock should panic")
		}
	}()
	l := &Lock{}
	Begin(l, New("1001", 1))
}

func TestMutTransition(t *testing.T) {
	lock := Acquire()
	defer lock.Release()
	s := New("1001", 1)
	m := Begin(lock, s)
	if err := m.Transition(StatusWptMerged); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if s.Status != StatusWptMerged {
		t.Errorf("Status = %v, want wpt-merged", s.Status)
	}
	if err := m.Transition(StatusOpen); err == nil {
		t.Fatal("expected illegal transition wpt-merged -> open to fail")
	}
}

func TestCheckInvariants(t *testing.T) {
	const tracked = "testing/web-platform/tests"
	gc := commit.ParseGecko("g1", "Bug 1001 - Fix. r=x", []string{tracked + "/a.html"})
	s := New("1001", 1)
	s.GeckoCommits = []*commit.Gecko{gc}
	s.WptCommits = []*commit.Upstream{{Hash: "w1", Metadata: map[string]string{commit.MetaGeckoCommit: "g1"}}}
	if err := s.CheckInvariants(tracked); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}

	s.WptCommits = nil
	if err := s.CheckInvariants(tracked); err == nil {
		t.Fatal("expected invariant violation when wpt commits missing")
	}
}

func TestSelectActivePrefersOpen(t *testing.T) {
	open := New("1001", 2)
	incomplete := New("1001", 1)
	incomplete.Status = StatusIncomplete
	got := SelectActive([]*UpstreamSync{incomplete, open})
	if diff := deep.Equal(got, open); diff != nil {
		t.Errorf("SelectActive() diff: %v", diff)
	}
}

func TestSelectActiveFallsBackToIncomplete(t *testing.T) {
	a := New("1001", 1)
	a.Status = StatusIncomplete
	b := New("1001", 2)
	b.Status = StatusIncomplete
	got := SelectActive([]*UpstreamSync{a, b})
	if got.SeqID != 2 {
		t.Errorf("SelectActive() seq = %v, want 2", got.SeqID)
	}
}
