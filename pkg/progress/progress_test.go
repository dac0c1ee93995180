package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/model"
)

func TestComputePROpenedBuildsComment(t *testing.T) {
	now := time.Now()
	session := &model.Session{ID: "app-1", Branch: "feature-x", PR: &model.PRInfo{URL: "https://example/pr/1"}}

	result := Compute(Input{
		Session:     session,
		ReactionKey: model.ReactionIssueProgressPROpened,
		Now:         now,
		Cooldown:    time.Hour,
	})

	require.False(t, result.Suppressed)
	assert.Equal(t, "in_progress", result.Update.State)
	assert.Contains(t, result.Update.Comment, "PR is now open")
	assert.Contains(t, result.Update.Comment, "https://example/pr/1")
	assert.Equal(t, "pr_opened", result.MetadataStamp["progress_stage"])
}

func TestComputeReviewUpdatedDerivesTargetState(t *testing.T) {
	now := time.Now()
	session := &model.Session{ID: "app-1", Metadata: map[string]string{"verify_status": "work_verify_pass_full"}}

	result := Compute(Input{
		Session:             session,
		ReactionKey:         model.ReactionIssueProgressReviewUpdate,
		TransitionEventType: eventbus.EventReviewPending,
		Now:                 now,
		Cooldown:            time.Hour,
	})

	assert.Equal(t, "In Review", result.Update.WorkflowStateName)
	assert.Equal(t, "In Review", result.MetadataStamp["progress_target_state"])
}

func TestComputeChangesRequestedTargetsInProgress(t *testing.T) {
	session := &model.Session{ID: "app-1"}

	result := Compute(Input{
		Session:             session,
		ReactionKey:         model.ReactionIssueProgressReviewUpdate,
		TransitionEventType: eventbus.EventReviewChangesReq,
		Now:                 time.Now(),
		Cooldown:            time.Hour,
	})

	assert.Equal(t, "In Progress", result.Update.WorkflowStateName)
}

func TestComputeSuppressedWithinCooldownSameTarget(t *testing.T) {
	now := time.Now()
	session := &model.Session{
		ID: "app-1",
		Metadata: map[string]string{
			"progress_stage":        "pr_opened",
			"progress_target_state": "",
			"progress_updated_at":   clock.FormatUnix(now.Add(-time.Minute)),
		},
	}

	result := Compute(Input{
		Session:     session,
		ReactionKey: model.ReactionIssueProgressPROpened,
		Now:         now,
		Cooldown:    time.Hour,
	})

	assert.True(t, result.Suppressed)
}

func TestComputeCooldownBypassedOnTargetChange(t *testing.T) {
	now := time.Now()
	session := &model.Session{
		ID: "app-1",
		Metadata: map[string]string{
			"progress_stage":        "review_updated",
			"progress_target_state": "",
			"progress_updated_at":   clock.FormatUnix(now.Add(-time.Minute)),
			"verify_status":         "work_verify_pass_full",
		},
	}

	result := Compute(Input{
		Session:             session,
		ReactionKey:         model.ReactionIssueProgressReviewUpdate,
		TransitionEventType: eventbus.EventReviewApproved,
		Now:                 now,
		Cooldown:            time.Hour,
	})

	require.False(t, result.Suppressed)
	assert.Equal(t, "In Review", result.Update.WorkflowStateName)
}

func TestDevSummaryFallsBackThroughChain(t *testing.T) {
	in := Input{
		Session:   &model.Session{ID: "app-1", PR: &model.PRInfo{Title: "Add widget"}},
		IssueTitle: "Build the widget",
	}
	assert.Equal(t, "Add widget", devSummary(in))

	in.Session.PR = nil
	assert.Equal(t, "Build the widget", devSummary(in))

	in.TerminalOutput = "some log\ndevelopment summary: ships the thing\n\nmore log"
	assert.Equal(t, "ships the thing", devSummary(in))

	in.Session.Metadata = map[string]string{"summary": "from metadata"}
	assert.Equal(t, "from metadata", devSummary(in))
}

func TestTruncateAppendsEllipsis(t *testing.T) {
	long := make([]byte, maxLineLen+10)
	for i := range long {
		long[i] = 'a'
	}
	got := truncate(string(long))
	assert.True(t, len(got) > maxLineLen)
	assert.Contains(t, got, "...")
}
