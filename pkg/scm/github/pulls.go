package github

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

type ghUser struct {
	Login string `json:"login"`
}

type ghPull struct {
	Number         int     `json:"number"`
	HTMLURL        string  `json:"html_url"`
	Title          string  `json:"title"`
	State          string  `json:"state"` // open, closed
	Merged         bool    `json:"merged"`
	Draft          bool    `json:"draft"`
	MergeableState string  `json:"mergeable_state"`
	Mergeable      *bool   `json:"mergeable"`
	User           ghUser  `json:"user"`
	Head           ghRef   `json:"head"`
	Base           ghRef   `json:"base"`
}

type ghRef struct {
	Ref  string `json:"ref"`
	SHA  string `json:"sha"`
	Repo *struct {
		Name  string `json:"name"`
		Owner ghUser `json:"owner"`
	} `json:"repo"`
}

func (p ghPull) toPRInfo(owner, repo string) model.PRInfo {
	return model.PRInfo{
		Number:     p.Number,
		URL:        p.HTMLURL,
		Title:      p.Title,
		Owner:      owner,
		Repo:       repo,
		Branch:     p.Head.Ref,
		BaseBranch: p.Base.Ref,
		IsDraft:    p.Draft,
		Author:     p.User.Login,
	}
}

// DetectPR implements §4.1 step 3: find an open PR whose head branch matches
// the session's branch, once a PR hasn't already been recorded.
func (c *Client) DetectPR(ctx context.Context, session *model.Session, projectID string) (*model.PRInfo, error) {
	var pulls []ghPull
	path := c.repoPath(fmt.Sprintf("/pulls?state=open&head=%s:%s", c.owner, session.Branch))
	if err := c.doJSON(ctx, "GET", path, nil, &pulls); err != nil {
		return nil, err
	}
	if len(pulls) == 0 {
		return nil, nil
	}
	pr := pulls[0].toPRInfo(c.owner, c.repo)
	return &pr, nil
}

// GetPRState maps GitHub's merged/state fields onto the closed PRState set.
func (c *Client) GetPRState(ctx context.Context, pr *model.PRInfo) (plugin.PRState, error) {
	var p ghPull
	if err := c.doJSON(ctx, "GET", c.repoPath(fmt.Sprintf("/pulls/%d", pr.Number)), nil, &p); err != nil {
		return "", err
	}
	switch {
	case p.Merged:
		return plugin.PRStateMerged, nil
	case p.State == "closed":
		return plugin.PRStateClosed, nil
	default:
		return plugin.PRStateOpen, nil
	}
}

type ghCombinedStatus struct {
	State string `json:"state"` // success, failure, pending
}

// GetCISummary uses the combined commit status API rather than check-runs,
// since check-runs requires a SHA this plugin doesn't track independently of
// the branch ref.
func (c *Client) GetCISummary(ctx context.Context, pr *model.PRInfo) (plugin.CISummary, error) {
	var status ghCombinedStatus
	path := c.repoPath(fmt.Sprintf("/commits/%s/status", pr.Branch))
	if err := c.doJSON(ctx, "GET", path, nil, &status); err != nil {
		return plugin.CISummaryNone, err
	}
	switch status.State {
	case "success":
		return plugin.CISummaryPassing, nil
	case "failure", "error":
		return plugin.CISummaryFailing, nil
	case "pending":
		return plugin.CISummaryPending, nil
	default:
		return plugin.CISummaryNone, nil
	}
}

type ghCheckRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, ...
}

type ghCheckRunsResponse struct {
	CheckRuns []ghCheckRun `json:"check_runs"`
}

// GetCIChecks lists per-check results for the merge gate's
// requirePassingChecks sub-gate (§4.4).
func (c *Client) GetCIChecks(ctx context.Context, pr *model.PRInfo) ([]plugin.Check, error) {
	var resp ghCheckRunsResponse
	path := c.repoPath(fmt.Sprintf("/commits/%s/check-runs", pr.Branch))
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	checks := make([]plugin.Check, 0, len(resp.CheckRuns))
	for _, r := range resp.CheckRuns {
		checks = append(checks, plugin.Check{Name: r.Name, Status: checkStatus(r)})
	}
	return checks, nil
}

func checkStatus(r ghCheckRun) plugin.CheckStatus {
	if r.Status != "completed" {
		if r.Status == "queued" {
			return plugin.CheckPending
		}
		return plugin.CheckRunning
	}
	switch r.Conclusion {
	case "success", "neutral", "skipped":
		return plugin.CheckPassed
	default:
		return plugin.CheckFailed
	}
}

type ghReview struct {
	User        ghUser `json:"user"`
	State       string `json:"state"` // APPROVED, CHANGES_REQUESTED, COMMENTED, PENDING
	SubmittedAt string `json:"submitted_at"`
}

// GetReviews lists every review left on the PR, newest last (GitHub's
// default order), for the caller to fold per author.
func (c *Client) GetReviews(ctx context.Context, pr *model.PRInfo) ([]plugin.Review, error) {
	var reviews []ghReview
	path := c.repoPath(fmt.Sprintf("/pulls/%d/reviews", pr.Number))
	if err := c.doJSON(ctx, "GET", path, nil, &reviews); err != nil {
		return nil, err
	}
	out := make([]plugin.Review, 0, len(reviews))
	for _, r := range reviews {
		decision := reviewStateToDecision(r.State)
		if decision == "" {
			continue
		}
		createdAt, _ := parseGitHubTime(r.SubmittedAt)
		out = append(out, plugin.Review{Author: r.User.Login, Decision: decision, CreatedAt: createdAt})
	}
	return out, nil
}

func reviewStateToDecision(state string) plugin.ReviewDecision {
	switch state {
	case "APPROVED":
		return plugin.ReviewApproved
	case "CHANGES_REQUESTED":
		return plugin.ReviewChangesRequested
	case "COMMENTED", "PENDING":
		return plugin.ReviewPending
	default:
		return ""
	}
}

// GetReviewDecision folds every author's latest review into one decision:
// any changes-requested wins, else all-approved wins, else pending if any
// review exists, else none. The allowedUsers filter (§4.8) is applied by
// pkg/review, not here — this is the unfiltered ground truth.
func (c *Client) GetReviewDecision(ctx context.Context, pr *model.PRInfo) (plugin.ReviewDecision, error) {
	reviews, err := c.GetReviews(ctx, pr)
	if err != nil {
		return "", err
	}
	latest := make(map[string]plugin.Review, len(reviews))
	for _, r := range reviews {
		if prev, ok := latest[r.Author]; !ok || r.CreatedAt >= prev.CreatedAt {
			latest[r.Author] = r
		}
	}
	if len(latest) == 0 {
		return plugin.ReviewNone, nil
	}
	allApproved := true
	for _, r := range latest {
		if r.Decision == plugin.ReviewChangesRequested {
			return plugin.ReviewChangesRequested, nil
		}
		if r.Decision != plugin.ReviewApproved {
			allApproved = false
		}
	}
	if allApproved {
		return plugin.ReviewApproved, nil
	}
	return plugin.ReviewPending, nil
}

type ghRequestedReviewers struct {
	Users []ghUser `json:"users"`
	Teams []struct {
		Slug string `json:"slug"`
	} `json:"teams"`
}

// GetReviewRequestsCount reports how many reviewers (users + teams) are
// still outstanding, used by requireApprovedReviewOrNoRequests (§4.4).
func (c *Client) GetReviewRequestsCount(ctx context.Context, pr *model.PRInfo) (int, error) {
	var resp ghRequestedReviewers
	path := c.repoPath(fmt.Sprintf("/pulls/%d/requested_reviewers", pr.Number))
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return 0, err
	}
	return len(resp.Users) + len(resp.Teams), nil
}

type ghReviewComment struct {
	User ghUser `json:"user"`
	Body string `json:"body"`
}

// GetPendingComments returns every PR review comment. GitHub's REST API
// doesn't expose thread-resolved state (that's GraphQL-only), so this
// returns all review comments rather than only unresolved ones; callers
// that need "unresolved" to mean something stricter should filter by author
// via the reaction's own Filter config (§4.3).
func (c *Client) GetPendingComments(ctx context.Context, pr *model.PRInfo) ([]plugin.PendingComment, error) {
	var comments []ghReviewComment
	path := c.repoPath(fmt.Sprintf("/pulls/%d/comments", pr.Number))
	if err := c.doJSON(ctx, "GET", path, nil, &comments); err != nil {
		return nil, err
	}
	out := make([]plugin.PendingComment, 0, len(comments))
	for _, comment := range comments {
		out = append(out, plugin.PendingComment{Author: comment.User.Login, Body: comment.Body})
	}
	return out, nil
}

// GetMergeability reports GitHub's computed mergeable/mergeable_state.
func (c *Client) GetMergeability(ctx context.Context, pr *model.PRInfo) (plugin.Mergeability, error) {
	var p ghPull
	if err := c.doJSON(ctx, "GET", c.repoPath(fmt.Sprintf("/pulls/%d", pr.Number)), nil, &p); err != nil {
		return plugin.Mergeability{}, err
	}
	mergeable := p.Mergeable != nil && *p.Mergeable && p.MergeableState == "clean"
	var blockers []string
	if !mergeable {
		blockers = append(blockers, "mergeable_state: "+p.MergeableState)
	}
	return plugin.Mergeability{Mergeable: mergeable, Blockers: blockers}, nil
}

type ghMergeRequest struct {
	MergeMethod string `json:"merge_method"`
}

// MergePR merges the PR via GitHub's merge endpoint.
func (c *Client) MergePR(ctx context.Context, pr *model.PRInfo, method plugin.MergeMethod) error {
	if method == "" {
		method = plugin.MergeSquash
	}
	path := c.repoPath(fmt.Sprintf("/pulls/%d/merge", pr.Number))
	return c.doJSON(ctx, "PUT", path, ghMergeRequest{MergeMethod: string(method)}, nil)
}

// ListOpenPRs supports External PR Adoption (§4.8).
func (c *Client) ListOpenPRs(ctx context.Context, projectID string) ([]model.PRInfo, error) {
	var pulls []ghPull
	if err := c.doJSON(ctx, "GET", c.repoPath("/pulls?state=open"), nil, &pulls); err != nil {
		return nil, err
	}
	out := make([]model.PRInfo, 0, len(pulls))
	for _, p := range pulls {
		out = append(out, p.toPRInfo(c.owner, c.repo))
	}
	return out, nil
}
