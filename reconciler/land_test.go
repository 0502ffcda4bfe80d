// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package reconciler

import (
	"testing"

	"github.com/mozilla/wptsync/upstreamsync"
)

func TestEvaluateChecks(t *testing.T) {
	tests := []struct {
		name string
		runs map[string]CheckRun
		want CheckStatus
	}{
		{"no checks yet", map[string]CheckRun{}, CheckPending},
		{
			"all success",
			map[string]CheckRun{"a": {Status: "completed", Conclusion: "success"}},
			CheckSuccess,
		},
		{
			"success and neutral",
			map[string]CheckRun{
				"a": {Status: "completed", Conclusion: "success"},
				"b": {Status: "completed", Conclusion: "neutral"},
			},
			CheckSuccess,
		},
		{
			"one pending",
			map[string]CheckRun{
				"a": {Status: "completed", Conclusion: "success"},
				"b": {Status: "in_progress"},
			},
			CheckPending,
		},
		{
			"one failed",
			map[string]CheckRun{
				"a": {Status: "completed", Conclusion: "success"},
				"b": {Status: "completed", Conclusion: "failure"},
			},
			CheckFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateChecks(tt.runs); got != tt.want {
				t.Errorf("EvaluateChecks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommitCheckChangedDeduplicatesNotifications(t *testing.T) {
	lock := upstreamsync.Acquire()
	defer lock.Release()
	s := upstreamsync.New("1005", 1)
	mut := upstreamsync.Begin(lock, s)

	var comments, needinfos []string
	r := &Reconciler{PostComment: func(bug, text string) error {
		comments = append(comments, text)
		return nil
	}}
	needinfo := func(bug, text, user string) error {
		needinfos = append(needinfos, text)
		return nil
	}

	failing := map[string]CheckRun{
		"lint":   {Status: "completed", Conclusion: "failure"},
		"taskcl": {Status: "completed", Conclusion: "success"},
	}
	if err := r.CommitCheckChanged(mut, "h1", failing, LandingInputs{}, needinfo, "a@x"); err != nil {
		t.Fatalf("CommitCheckChanged: %v", err)
	}
	if len(needinfos) != 1 || needinfos[0] != "Upstream checks failed: lint" {
		t.Fatalf("needinfos = %v, want one naming lint", needinfos)
	}
	if s.LastPRCheck.State != "FAILURE" || s.LastPRCheck.HeadSHA != "h1" {
		t.Errorf("LastPRCheck = %+v, want (FAILURE, h1)", s.LastPRCheck)
	}

	// The same (state, head_sha) delivered again is dropped without a second needinfo.
	if err := r.CommitCheckChanged(mut, "h1", failing, LandingInputs{}, needinfo, "a@x"); err != nil {
		t.Fatalf("repeat CommitCheckChanged: %v", err)
	}
	if len(needinfos) != 1 {
		t.Errorf("needinfos = %v, want no duplicate", needinfos)
	}

	// A success at a new head clears the sticky error and reports what happens next.
	s.Error = "Checks failed"
	success := map[string]CheckRun{"lint": {Status: "completed", Conclusion: "success"}}
	if err := r.CommitCheckChanged(mut, "h2", success, LandingInputs{}, needinfo, "a@x"); err != nil {
		t.Fatalf("success CommitCheckChanged: %v", err)
	}
	if s.Error != "" {
		t.Errorf("Error = %q, want cleared", s.Error)
	}
	if len(comments) != 1 {
		t.Errorf("comments = %v, want the will-merge-once-landed comment", comments)
	}
}

func TestUpdatePRClosedWithoutMerge(t *testing.T) {
	lock := upstreamsync.Acquire()
	defer lock.Release()
	s := upstreamsync.New("1003", 1)
	s.PRID = 7
	s.PRStatus = "open"
	mut := upstreamsync.Begin(lock, s)

	var comments []string
	r := &Reconciler{PostComment: func(bug, text string) error {
		comments = append(comments, text)
		return nil
	}}

	if err := r.UpdatePR(mut, "closed", "", ""); err != nil {
		t.Fatalf("UpdatePR: %v", err)
	}
	if s.PRStatus != "closed" {
		t.Errorf("PRStatus = %q, want closed", s.PRStatus)
	}
	if s.Status != upstreamsync.StatusOpen {
		t.Errorf("Status = %v, want open (a human close does not finish the sync)", s.Status)
	}
	if len(comments) != 1 || comments[0] != "Upstream PR was closed without merging" {
		t.Errorf("comments = %v, want the closed-without-merging comment", comments)
	}

	// A repeated delivery of the same close event posts no duplicate comment.
	if err := r.UpdatePR(mut, "closed", "", ""); err != nil {
		t.Fatalf("second UpdatePR: %v", err)
	}
	if len(comments) != 1 {
		t.Errorf("comments = %v, want no duplicate", comments)
	}
}

func TestUpdatePRClosedWithMergeFinishesSync(t *testing.T) {
	lock := upstreamsync.Acquire()
	defer lock.Release()
	s := upstreamsync.New("1004", 1)
	s.PRID = 9
	s.PRStatus = "open"
	mut := upstreamsync.Begin(lock, s)

	r := &Reconciler{}
	if err := r.UpdatePR(mut, "closed", "abc123", "pr-bot"); err != nil {
		t.Fatalf("UpdatePR: %v", err)
	}
	if s.MergeSHA != "abc123" {
		t.Errorf("MergeSHA = %q, want abc123", s.MergeSHA)
	}
	if s.Status != upstreamsync.StatusWptMerged {
		t.Errorf("Status = %v, want wpt-merged", s.Status)
	}
}
