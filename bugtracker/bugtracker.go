// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package bugtracker files and annotates the bugs the synchronizer reports to, backed by Azure
// Boards work items via github.com/microsoft/azure-devops-go-api/azuredevops; "bug" below
// always means "work item".
package bugtracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/microsoft/azure-devops-go-api/azuredevops"
	"github.com/microsoft/azure-devops-go-api/azuredevops/webapi"
	"github.com/microsoft/azure-devops-go-api/azuredevops/workitemtracking"
)

// ClientFlags is the set of connection settings for Azure Boards (Org/Proj/PAT).
type ClientFlags struct {
	Org  string
	Proj string
	PAT  string
}

// NewConnection creates an AzDO connection based on the given flags.
func (c ClientFlags) NewConnection() *azuredevops.Connection {
	return azuredevops.NewPatConnection(c.Org, c.PAT)
}

// Tracker implements the bug tracker contract against one Azure Boards project.
type Tracker struct {
	Client       workitemtracking.Client
	OrgURL       string
	Project      string
	WorkItemType string
	// AdminUser is assigned needinfo when no more specific user is given.
	AdminUser string
}

// NewTracker builds a Tracker from connection flags.
func NewTracker(ctx context.Context, flags ClientFlags, workItemType, adminUser string) (*Tracker, error) {
	conn := flags.NewConnection()
	client, err := workitemtracking.NewClient(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("creating work item tracking client: %w", err)
	}
	return &Tracker{
		Client:       client,
		OrgURL:       flags.Org,
		Project:      flags.Proj,
		WorkItemType: workItemType,
		AdminUser:    adminUser,
	}, nil
}

func addOp(path string, value interface{}) webapi.JsonPatchOperation {
	op := webapi.OperationValues.Add
	p := path
	return webapi.JsonPatchOperation{Op: &op, Path: &p, Value: value}
}

// New files a fresh bug and returns its id. Azure Boards has no product/component pair;
// product/component are folded into the work item's area path ("product\component"), and the
// whiteboard becomes a tag.
func (t *Tracker) New(ctx context.Context, summary, body, product, component, whiteboard string) (string, error) {
	doc := []webapi.JsonPatchOperation{
		addOp("/fields/System.Title", summary),
		addOp("/fields/System.Description", body),
	}
	if areaPath := areaPath(product, component); areaPath != "" {
		doc = append(doc, addOp("/fields/System.AreaPath", areaPath))
	}
	if whiteboard != "" {
		doc = append(doc, addOp("/fields/System.Tags", whiteboard))
	}

	wi, err := t.Client.CreateWorkItem(ctx, workitemtracking.CreateWorkItemArgs{
		Document: &doc,
		Project:  &t.Project,
		Type:     &t.WorkItemType,
	})
	if err != nil {
		return "", fmt.Errorf("creating work item %q: %w", summary, err)
	}
	if wi == nil || wi.Id == nil {
		return "", fmt.Errorf("creating work item %q: host returned no id", summary)
	}
	return strconv.Itoa(*wi.Id), nil
}

func areaPath(product, component string) string {
	switch {
	case product == "":
		return ""
	case component == "":
		return product
	default:
		return product + "\\" + component
	}
}

// Comment posts text to a bug. Azure Boards' classic work item history field
// is used rather than the newer per-comment API, since it only requires a work item update
// (already wired via Client.UpdateWorkItem) and needs no additional client surface.
func (t *Tracker) Comment(ctx context.Context, bug, text string) error {
	id, err := strconv.Atoi(bug)
	if err != nil {
		return fmt.Errorf("comment: bug %q is not a work item id: %w", bug, err)
	}
	doc := []webapi.JsonPatchOperation{addOp("/fields/System.History", text)}
	_, err = t.Client.UpdateWorkItem(ctx, workitemtracking.UpdateWorkItemArgs{
		Document: &doc,
		Id:       &id,
		Project:  &t.Project,
	})
	if err != nil {
		return fmt.Errorf("commenting on work item %s: %w", bug, err)
	}
	return nil
}

// Needinfo assigns the work item to user (or Tracker.AdminUser if empty) and posts a comment
// flagging the request, standing in for Bugzilla's needinfo flag, which Azure Boards has no
// equivalent field for.
func (t *Tracker) Needinfo(ctx context.Context, bug, text, user string) error {
	if user == "" {
		user = t.AdminUser
	}
	id, err := strconv.Atoi(bug)
	if err != nil {
		return fmt.Errorf("needinfo: bug %q is not a work item id: %w", bug, err)
	}
	doc := []webapi.JsonPatchOperation{
		addOp("/fields/System.History", fmt.Sprintf("needinfo? %s: %s", user, text)),
	}
	if user != "" {
		doc = append(doc, addOp("/fields/System.AssignedTo", user))
	}
	_, err = t.Client.UpdateWorkItem(ctx, workitemtracking.UpdateWorkItemArgs{
		Document: &doc,
		Id:       &id,
		Project:  &t.Project,
	})
	if err != nil {
		return fmt.Errorf("needinfo on work item %s: %w", bug, err)
	}
	return nil
}

// BugContext is a handle scoped to one bug, for callers that post several updates to it.
type BugContext struct {
	tracker *Tracker
	bug     string
}

// Comment posts text to the bug this context is scoped to.
func (b *BugContext) Comment(ctx context.Context, text string) error {
	return b.tracker.Comment(ctx, b.bug, text)
}

// Needinfo requests more information from user (or the configured admin, if empty).
func (b *BugContext) Needinfo(ctx context.Context, text string, user string) error {
	return b.tracker.Needinfo(ctx, b.bug, text, user)
}

// BugCtx returns a context scoped to one bug.
func (t *Tracker) BugCtx(bug string) *BugContext {
	return &BugContext{tracker: t, bug: bug}
}

// IDFromURL recovers a bug id from its URL, parsing the trailing numeric
// segment of either an edit-form URL (".../_workitems/edit/12345") or an API URL
// (".../_apis/wit/workItems/12345").
func IDFromURL(url string) (string, error) {
	trimmed := strings.TrimRight(url, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return "", fmt.Errorf("id_from_url: no path segment in %q", url)
	}
	id := trimmed[idx+1:]
	if _, err := strconv.Atoi(id); err != nil {
		return "", fmt.Errorf("id_from_url: %q does not end in a work item id: %w", url, err)
	}
	return id, nil
}

// BugURL returns the Azure Boards web URL for
// the work item.
func (t *Tracker) BugURL(bug string) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%s", strings.TrimRight(t.OrgURL, "/"), t.Project, bug)
}
