// Package plugin declares the capability interfaces the Lifecycle Engine
// depends on (§6). Plugins are capabilities, not classes: a registry maps
// (slot, name) to a concrete implementation, and the engine depends only on
// the interface, never on any vendor. Trust in a capability's correctness is
// established by whatever wires the registry, not by the engine itself.
package plugin

import (
	"context"

	"github.com/codeready-toolchain/agentctl/pkg/model"
)

// ActivityState is the agent's observed terminal activity.
type ActivityState string

// The closed set of activity states.
const (
	ActivityActive       ActivityState = "active"
	ActivityIdle         ActivityState = "idle"
	ActivityWaitingInput ActivityState = "waiting_input"
)

// ReviewDecision is the folded review state for a pull request.
type ReviewDecision string

// The closed set of review decisions.
const (
	ReviewNone              ReviewDecision = "none"
	ReviewPending            ReviewDecision = "pending"
	ReviewApproved          ReviewDecision = "approved"
	ReviewChangesRequested  ReviewDecision = "changes_requested"
)

// PRState is the pull request's lifecycle state as reported by the SCM.
type PRState string

// The closed set of PR states relevant to classification.
const (
	PRStateOpen   PRState = "open"
	PRStateMerged PRState = "merged"
	PRStateClosed PRState = "closed"
)

// CISummary is the coarse pass/fail/pending summary used by the classifier.
type CISummary string

// The closed set of CI summaries.
const (
	CISummaryPassing CISummary = "passing"
	CISummaryFailing CISummary = "failing"
	CISummaryPending CISummary = "pending"
	CISummaryNone    CISummary = "none"
)

// CheckStatus is one CI check's status, used by the merge gate's
// requirePassingChecks sub-gate.
type CheckStatus string

// The closed set of check statuses.
const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckPending CheckStatus = "pending"
	CheckRunning CheckStatus = "running"
)

// Check is a single named CI check result.
type Check struct {
	Name   string
	Status CheckStatus
}

// Review is one reviewer's decision on a pull request.
type Review struct {
	Author    string
	Decision  ReviewDecision
	CreatedAt int64 // unix seconds; only used for "latest review per author wins" folding
}

// PendingComment is an unresolved PR review thread comment.
type PendingComment struct {
	Author string
	Body   string
}

// Mergeability reports whether the SCM considers a PR clean to merge.
type Mergeability struct {
	Mergeable bool
	Blockers  []string
}

// MergeMethod selects how mergePR integrates a branch.
type MergeMethod string

// The closed set of merge methods.
const (
	MergeMerge  MergeMethod = "merge"
	MergeSquash MergeMethod = "squash"
	MergeRebase MergeMethod = "rebase"
)

// Runtime probes and drives the process hosting an agent session.
type Runtime interface {
	IsAlive(ctx context.Context, handle any) (bool, error)
	GetOutput(ctx context.Context, handle any, lastNLines int) (string, error)
	SendMessage(ctx context.Context, handle any, text string) error
}

// Agent interprets a runtime's terminal output and process state.
type Agent interface {
	// Name identifies the agent binary/vendor (e.g. "codex"); used by the
	// classifier's codex rate-limit auto-dismiss special case (§4.1).
	Name() string
	DetectActivity(ctx context.Context, terminalOutput string) (ActivityState, error)
	IsProcessRunning(ctx context.Context, handle any) (bool, error)
}

// SCM is the source-control-management capability: PR state, CI, reviews,
// mergeability, and merging.
type SCM interface {
	DetectPR(ctx context.Context, session *model.Session, projectID string) (*model.PRInfo, error)
	GetPRState(ctx context.Context, pr *model.PRInfo) (PRState, error)
	GetCISummary(ctx context.Context, pr *model.PRInfo) (CISummary, error)
	GetCIChecks(ctx context.Context, pr *model.PRInfo) ([]Check, error)
	GetReviews(ctx context.Context, pr *model.PRInfo) ([]Review, error)
	GetReviewDecision(ctx context.Context, pr *model.PRInfo) (ReviewDecision, error)
	GetReviewRequestsCount(ctx context.Context, pr *model.PRInfo) (int, error)
	GetPendingComments(ctx context.Context, pr *model.PRInfo) ([]PendingComment, error)
	GetMergeability(ctx context.Context, pr *model.PRInfo) (Mergeability, error)
	MergePR(ctx context.Context, pr *model.PRInfo, method MergeMethod) error
	// ListOpenPRs supports External PR Adoption (§4.8). A plugin that can't
	// list PRs independently of a session returns ErrNotSupported.
	ListOpenPRs(ctx context.Context, projectID string) ([]model.PRInfo, error)
}

// ErrNotSupported is returned by optional capability methods a plugin
// doesn't implement (e.g. SCM.ListOpenPRs).
var ErrNotSupported = errNotSupported{}

type errNotSupported struct{}

func (errNotSupported) Error() string { return "capability not supported by this plugin" }

// IssueUpdate is the partial update accepted by Tracker.UpdateIssue.
type IssueUpdate struct {
	State             string // e.g. "open", "in_progress", "closed"
	WorkflowStateName string
	Description       string
	HasDescription    bool
	Comment           string
	Labels            []string
	Assignee          string
}

// Issue is the tracker issue snapshot the completion gate and queue pickup
// reason about.
type Issue struct {
	ID          string
	Title       string
	Description string
	Labels      []string
}

// Comment is one tracker-issue comment.
type Comment struct {
	Author    string
	Body      string
	CreatedAt int64 // unix seconds
}

// IssueFilter selects issues for Queue Pickup's listIssues call.
type IssueFilter struct {
	State             string
	WorkflowStateName string
	Limit             int
}

// Tracker is the issue-tracker capability.
type Tracker interface {
	GetIssue(ctx context.Context, issueID, projectID string) (*Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter, projectID string) ([]Issue, error)
	ListComments(ctx context.Context, issueID, projectID string) ([]Comment, error)
	// GetIssueComments returns comments created after since (unix seconds),
	// used by the Comment Watcher (§4.9).
	GetIssueComments(ctx context.Context, issueID, projectID string, sinceUnix int64) ([]Comment, error)
	UpdateIssue(ctx context.Context, issueID string, update IssueUpdate, projectID string) error
}

// Notifier delivers an event to a human via some external transport
// (Slack, email, pager, ...).
type Notifier interface {
	Notify(ctx context.Context, ev any) error
}

// SessionManager owns session lifecycle mechanics (spawn, send, kill) that
// are out of scope for the core per spec.md §1: workspace cloning, prompt
// composition, and process launch live behind this interface.
type SessionManager interface {
	Spawn(ctx context.Context, projectID, issueID string) (*model.Session, error)
	Get(ctx context.Context, id model.SessionID) (*model.Session, error)
	List(ctx context.Context, projectID string) ([]*model.Session, error)
	Send(ctx context.Context, id model.SessionID, message string) error
	Kill(ctx context.Context, id model.SessionID) error
}

// MetadataPort writes to a session's sidecar metadata file. Implementations
// must serialize writes per sessionID (single-writer guarantee, §5).
type MetadataPort interface {
	UpdateMetadata(ctx context.Context, sessionsDir string, id model.SessionID, partial map[string]string) error
}

// SessionAdopter is an optional SessionManager capability for synthesizing
// an adopted session (no runtime) from an externally-discovered PR (§4.8).
// A SessionManager that can't reserve ids outside of Spawn returns
// ErrNotSupported; External PR Adoption then does nothing that cycle rather
// than guessing at id allocation (§9 leaves the race with concurrent Spawn
// unspecified).
type SessionAdopter interface {
	AdoptSession(ctx context.Context, projectID string, pr *model.PRInfo, metadata map[string]string) (*model.Session, error)
}
