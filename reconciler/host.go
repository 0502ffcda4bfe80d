// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package reconciler pushes each sync's side branch, keeps its pull request consistent with the
// sync's state, and lands the PR once the originating commits are durable, against a
// GitHub-backed remote host via google/go-github/v65.
package reconciler

import (
	"context"
	"fmt"

	"github.com/google/go-github/v65/github"
	"github.com/mozilla/wptsync/githubutil"
)

// Host wraps a *github.Client scoped to one owner/repo, exposing the handful of PR operations
// the reconciler needs.
type Host struct {
	Client *github.Client
	Owner  string
	Repo   string
}

// CheckRun is the host-agnostic shape of one CI check.
type CheckRun struct {
	Name       string
	Status     string
	Conclusion string
	Required   bool
	HeadSHA    string
	URL        string
}

// PullState mirrors the PR's state as known at the host: open or closed, merged or not.
type PullState struct {
	ID         int
	State      string // "open" or "closed"
	Merged     bool
	MergeSHA   string
	Mergeable  bool
	Approved   bool
	HeadBranch string
	URL        string
}

func (h *Host) ctx() context.Context { return context.Background() }

// GetPull fetches the current state of a PR.
func (h *Host) GetPull(id int) (*PullState, error) {
	var pr *github.PullRequest
	if err := githubutil.Retry(func() error {
		p, _, err := h.Client.PullRequests.Get(h.ctx(), h.Owner, h.Repo, id)
		pr = p
		return err
	}); err != nil {
		return nil, fmt.Errorf("get pull %d: %w", id, err)
	}
	state := &PullState{
		ID:         pr.GetNumber(),
		State:      pr.GetState(),
		Merged:     pr.GetMerged(),
		MergeSHA:   pr.GetMergeCommitSHA(),
		Mergeable:  pr.GetMergeable(),
		HeadBranch: pr.GetHead().GetRef(),
		URL:        pr.GetHTMLURL(),
	}
	approved, err := h.isApproved(id)
	if err != nil {
		return nil, err
	}
	state.Approved = approved
	return state, nil
}

func (h *Host) isApproved(id int) (bool, error) {
	var reviews []*github.PullRequestReview
	if err := githubutil.Retry(func() error {
		r, _, err := h.Client.PullRequests.ListReviews(h.ctx(), h.Owner, h.Repo, id, nil)
		reviews = r
		return err
	}); err != nil {
		return false, fmt.Errorf("list reviews for pull %d: %w", id, err)
	}
	for _, r := range reviews {
		if r.GetState() == "APPROVED" {
			return true, nil
		}
	}
	return false, nil
}

// GetCheckRuns fetches the check runs registered against headSHA.
func (h *Host) GetCheckRuns(headSHA string) (map[string]CheckRun, error) {
	var runs *github.ListCheckRunsResults
	if err := githubutil.Retry(func() error {
		r, _, err := h.Client.Checks.ListCheckRunsForRef(h.ctx(), h.Owner, h.Repo, headSHA, nil)
		runs = r
		return err
	}); err != nil {
		return nil, fmt.Errorf("list check runs for %s: %w", headSHA, err)
	}
	out := make(map[string]CheckRun, runs.GetTotal())
	for _, cr := range runs.CheckRuns {
		out[cr.GetName()] = CheckRun{
			Name:       cr.GetName(),
			Status:     cr.GetStatus(),
			Conclusion: cr.GetConclusion(),
			HeadSHA:    cr.GetHeadSHA(),
			URL:        cr.GetHTMLURL(),
		}
	}
	return out, nil
}

// CreatePull opens a new PR.
func (h *Host) CreatePull(title, body, head, base string) (*PullState, error) {
	var pr *github.PullRequest
	if err := githubutil.Retry(func() error {
		p, _, err := h.Client.PullRequests.Create(h.ctx(), h.Owner, h.Repo, &github.NewPullRequest{
			Title: &title,
			Body:  &body,
			Head:  &head,
			Base:  &base,
		})
		pr = p
		return err
	}); err != nil {
		return nil, fmt.Errorf("create pull: %w", err)
	}
	return &PullState{ID: pr.GetNumber(), State: pr.GetState(), HeadBranch: pr.GetHead().GetRef(), URL: pr.GetHTMLURL()}, nil
}

// ClosePull closes a PR without merging.
func (h *Host) ClosePull(id int) error {
	return h.editState(id, "closed")
}

// ReopenPull reopens a previously closed (and not merged) PR.
func (h *Host) ReopenPull(id int) error {
	return h.editState(id, "open")
}

func (h *Host) editState(id int, state string) error {
	return githubutil.Retry(func() error {
		_, _, err := h.Client.PullRequests.Edit(h.ctx(), h.Owner, h.Repo, id, &github.PullRequest{State: &state})
		return err
	})
}

// MergePull attempts to merge the PR. Returns the merge commit SHA on success.
func (h *Host) MergePull(id int, commitMessage string) (string, error) {
	var result *github.PullRequestMergeResult
	if err := githubutil.Retry(func() error {
		r, _, err := h.Client.PullRequests.Merge(h.ctx(), h.Owner, h.Repo, id, commitMessage, nil)
		result = r
		return err
	}); err != nil {
		return "", fmt.Errorf("merge pull %d: %w", id, err)
	}
	if !result.GetMerged() {
		return "", fmt.Errorf("merge pull %d: host reported not merged: %s", id, result.GetMessage())
	}
	return result.GetSHA(), nil
}

// SetStatus sets a commit status check, e.g. the landed-status check under the
// "upstream/gecko" context.
func (h *Host) SetStatus(headSHA, state, targetURL, description, context string) error {
	return githubutil.Retry(func() error {
		_, _, err := h.Client.Repositories.CreateStatus(h.ctx(), h.Owner, h.Repo, headSHA, &github.RepoStatus{
			State:       &state,
			TargetURL:   &targetURL,
			Description: &description,
			Context:     &context,
		})
		return err
	})
}

// FindExisting looks for an open PR with the given head branch, so the reconciler can avoid
// creating a duplicate after a restart loses the stored pr_id. Pages through every open PR with
// that head rather than trusting the first page, since a repo with many stale open PRs against
// similarly-named branches could otherwise push the real match past page one.
func (h *Host) FindExisting(head string) (*PullState, error) {
	var match *github.PullRequest
	err := githubutil.FetchEachPage(func(opts github.ListOptions) (*github.Response, error) {
		var (
			prs  []*github.PullRequest
			resp *github.Response
		)
		if err := githubutil.Retry(func() error {
			p, r, err := h.Client.PullRequests.List(h.ctx(), h.Owner, h.Repo, &github.PullRequestListOptions{
				State:       "open",
				Head:        h.Owner + ":" + head,
				ListOptions: opts,
			})
			prs, resp = p, r
			return err
		}); err != nil {
			return nil, err
		}
		if match == nil && len(prs) > 0 {
			match = prs[0]
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pulls for head %s: %w", head, err)
	}
	if match == nil {
		return nil, nil
	}
	return &PullState{ID: match.GetNumber(), State: match.GetState(), HeadBranch: match.GetHead().GetRef(), URL: match.GetHTMLURL()}, nil
}
