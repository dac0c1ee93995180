package githubissues

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// GitHub Issues has no native "workflow state" concept; this plugin encodes
// one as a "state:<name>" label, the same convention many GitHub Actions
// project-automation tools use in lieu of a real board API.
const stateLabelPrefix = "state:"

func stateLabel(name string) string { return stateLabelPrefix + name }

type ghLabel struct {
	Name string `json:"name"`
}

type ghAssignee struct {
	Login string `json:"login"`
}

type ghIssue struct {
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	State     string       `json:"state"`
	Labels    []ghLabel    `json:"labels"`
	Assignees []ghAssignee `json:"assignees"`
}

func (i ghIssue) toIssue() plugin.Issue {
	labels := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		labels = append(labels, l.Name)
	}
	return plugin.Issue{ID: strconv.Itoa(i.Number), Title: i.Title, Description: i.Body, Labels: labels}
}

// GetIssue fetches a single issue by number.
func (c *Client) GetIssue(ctx context.Context, issueID, projectID string) (*plugin.Issue, error) {
	var gi ghIssue
	if err := c.doJSON(ctx, "GET", c.repoPath("/issues/"+issueID), nil, &gi); err != nil {
		return nil, err
	}
	issue := gi.toIssue()
	return &issue, nil
}

// ListIssues lists issues matching filter.State and, if set,
// filter.WorkflowStateName's encoded label.
func (c *Client) ListIssues(ctx context.Context, filter plugin.IssueFilter, projectID string) ([]plugin.Issue, error) {
	state := filter.State
	if state == "" {
		state = "open"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	path := c.repoPath(fmt.Sprintf("/issues?state=%s&per_page=%d", state, limit))
	if filter.WorkflowStateName != "" {
		path += "&labels=" + url.QueryEscape(stateLabel(filter.WorkflowStateName))
	}

	var issues []ghIssue
	if err := c.doJSON(ctx, "GET", path, nil, &issues); err != nil {
		return nil, err
	}

	out := make([]plugin.Issue, 0, len(issues))
	for _, gi := range issues {
		out = append(out, gi.toIssue())
	}
	return out, nil
}

type ghComment struct {
	Body      string     `json:"body"`
	User      ghAssignee `json:"user"`
	CreatedAt string     `json:"created_at"`
}

// ListComments returns every comment on issueID.
func (c *Client) ListComments(ctx context.Context, issueID, projectID string) ([]plugin.Comment, error) {
	return c.listComments(ctx, issueID, "")
}

// GetIssueComments returns comments created after sinceUnix, for the
// Comment Watcher (§4.9). GitHub's "since" filter is coarser (time.Time),
// so results are also filtered client-side to the exact boundary.
func (c *Client) GetIssueComments(ctx context.Context, issueID, projectID string, sinceUnix int64) ([]plugin.Comment, error) {
	since := formatGitHubTime(sinceUnix)
	comments, err := c.listComments(ctx, issueID, since)
	if err != nil {
		return nil, err
	}
	out := comments[:0]
	for _, cm := range comments {
		if cm.CreatedAt > sinceUnix {
			out = append(out, cm)
		}
	}
	return out, nil
}

func (c *Client) listComments(ctx context.Context, issueID, sinceParam string) ([]plugin.Comment, error) {
	path := c.repoPath("/issues/" + issueID + "/comments?per_page=100")
	if sinceParam != "" {
		path += "&since=" + sinceParam
	}

	var comments []ghComment
	if err := c.doJSON(ctx, "GET", path, nil, &comments); err != nil {
		return nil, err
	}

	out := make([]plugin.Comment, 0, len(comments))
	for _, cm := range comments {
		createdAt, _ := parseGitHubTime(cm.CreatedAt)
		out = append(out, plugin.Comment{Author: cm.User.Login, Body: cm.Body, CreatedAt: createdAt})
	}
	return out, nil
}

type ghIssueUpdateRequest struct {
	State     string   `json:"state,omitempty"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// UpdateIssue applies a partial update. WorkflowStateName replaces any
// existing "state:*" label with the new one, preserving other labels.
func (c *Client) UpdateIssue(ctx context.Context, issueID string, update plugin.IssueUpdate, projectID string) error {
	req := ghIssueUpdateRequest{State: update.State}
	if update.HasDescription {
		req.Body = update.Description
	}
	if update.Assignee != "" {
		req.Assignees = []string{update.Assignee}
	}

	if update.WorkflowStateName != "" || len(update.Labels) > 0 {
		var current ghIssue
		if err := c.doJSON(ctx, "GET", c.repoPath("/issues/"+issueID), nil, &current); err != nil {
			return err
		}
		labels := mergeLabels(current.Labels, update.Labels, update.WorkflowStateName)
		req.Labels = labels
	}

	if err := c.doJSON(ctx, "PATCH", c.repoPath("/issues/"+issueID), req, nil); err != nil {
		return err
	}

	if update.Comment != "" {
		body := struct {
			Body string `json:"body"`
		}{Body: update.Comment}
		if err := c.doJSON(ctx, "POST", c.repoPath("/issues/"+issueID+"/comments"), body, nil); err != nil {
			return err
		}
	}
	return nil
}

func mergeLabels(existing []ghLabel, add []string, workflowState string) []string {
	out := make([]string, 0, len(existing)+len(add)+1)
	for _, l := range existing {
		if workflowState != "" && strings.HasPrefix(l.Name, stateLabelPrefix) {
			continue
		}
		out = append(out, l.Name)
	}
	out = append(out, add...)
	if workflowState != "" {
		out = append(out, stateLabel(workflowState))
	}
	return out
}
