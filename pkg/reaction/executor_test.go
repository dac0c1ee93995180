package reaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/gate"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

type fakeSessionManager struct {
	sent       []string
	sendErr    error
	spawned    int
	spawnErr   error
}

func (f *fakeSessionManager) Spawn(ctx context.Context, projectID, issueID string) (*model.Session, error) {
	f.spawned++
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	return &model.Session{ID: "app-2", ProjectID: projectID, IssueID: issueID}, nil
}
func (f *fakeSessionManager) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	return nil, nil
}
func (f *fakeSessionManager) List(ctx context.Context, projectID string) ([]*model.Session, error) {
	return nil, nil
}
func (f *fakeSessionManager) Send(ctx context.Context, id model.SessionID, message string) error {
	f.sent = append(f.sent, message)
	return f.sendErr
}
func (f *fakeSessionManager) Kill(ctx context.Context, id model.SessionID) error { return nil }

type fakeTracker struct {
	issue       *plugin.Issue
	comments    []plugin.Comment
	updates     []plugin.IssueUpdate
	updateErr   error
}

func (f *fakeTracker) GetIssue(ctx context.Context, issueID, projectID string) (*plugin.Issue, error) {
	return f.issue, nil
}
func (f *fakeTracker) ListIssues(ctx context.Context, filter plugin.IssueFilter, projectID string) ([]plugin.Issue, error) {
	return nil, nil
}
func (f *fakeTracker) ListComments(ctx context.Context, issueID, projectID string) ([]plugin.Comment, error) {
	return f.comments, nil
}
func (f *fakeTracker) GetIssueComments(ctx context.Context, issueID, projectID string, sinceUnix int64) ([]plugin.Comment, error) {
	return nil, nil
}
func (f *fakeTracker) UpdateIssue(ctx context.Context, issueID string, update plugin.IssueUpdate, projectID string) error {
	f.updates = append(f.updates, update)
	return f.updateErr
}

type fakeSCM struct {
	mergeErr error
	merged   int
}

func (f *fakeSCM) DetectPR(ctx context.Context, s *model.Session, projectID string) (*model.PRInfo, error) {
	return nil, nil
}
func (f *fakeSCM) GetPRState(ctx context.Context, pr *model.PRInfo) (plugin.PRState, error) {
	return plugin.PRStateOpen, nil
}
func (f *fakeSCM) GetCISummary(ctx context.Context, pr *model.PRInfo) (plugin.CISummary, error) {
	return plugin.CISummaryPassing, nil
}
func (f *fakeSCM) GetCIChecks(ctx context.Context, pr *model.PRInfo) ([]plugin.Check, error) {
	return []plugin.Check{{Name: "build", Status: plugin.CheckPassed}}, nil
}
func (f *fakeSCM) GetReviews(ctx context.Context, pr *model.PRInfo) ([]plugin.Review, error) {
	return nil, nil
}
func (f *fakeSCM) GetReviewDecision(ctx context.Context, pr *model.PRInfo) (plugin.ReviewDecision, error) {
	return plugin.ReviewApproved, nil
}
func (f *fakeSCM) GetReviewRequestsCount(ctx context.Context, pr *model.PRInfo) (int, error) {
	return 0, nil
}
func (f *fakeSCM) GetPendingComments(ctx context.Context, pr *model.PRInfo) ([]plugin.PendingComment, error) {
	return nil, nil
}
func (f *fakeSCM) GetMergeability(ctx context.Context, pr *model.PRInfo) (plugin.Mergeability, error) {
	return plugin.Mergeability{Mergeable: true}, nil
}
func (f *fakeSCM) MergePR(ctx context.Context, pr *model.PRInfo, method plugin.MergeMethod) error {
	f.merged++
	return f.mergeErr
}
func (f *fakeSCM) ListOpenPRs(ctx context.Context, projectID string) ([]model.PRInfo, error) {
	return nil, plugin.ErrNotSupported
}

func noCooldown(model.SessionID) (int64, bool) { return 0, false }

func approvedDecision(ctx context.Context, scm plugin.SCM, pr *model.PRInfo) (plugin.ReviewDecision, error) {
	return plugin.ReviewApproved, nil
}

func baseDeps() Deps {
	return Deps{Clock: clock.NewFake(time.Now())}
}

func TestRunNotifyEmitsEvent(t *testing.T) {
	var emitted []eventbus.OrchestratorEvent
	d := baseDeps()
	d.NotifyHuman = func(ctx context.Context, ev eventbus.OrchestratorEvent) { emitted = append(emitted, ev) }

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1"},
		ReactionKey: model.ReactionAgentNeedsInput,
		Config:      model.ReactionConfig{Action: model.ActionNotify, Message: "needs input"},
	})

	assert.True(t, outcome.Handled)
	assert.True(t, outcome.Success)
	require.Len(t, emitted, 1)
	assert.Equal(t, "needs input", emitted[0].Message)
}

func TestRunEscalatesAfterRetriesExceeded(t *testing.T) {
	var emitted []eventbus.OrchestratorEvent
	d := baseDeps()
	d.NotifyHuman = func(ctx context.Context, ev eventbus.OrchestratorEvent) { emitted = append(emitted, ev) }

	cfg := model.ReactionConfig{Action: model.ActionNotify, Retries: 1, HasRetries: true}
	tracker := model.ReactionTracker{Attempts: 2} // already exceeds retries=1 once incremented to 3

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1"},
		ReactionKey: model.ReactionAgentStuck,
		Config:      cfg,
		Tracker:     tracker,
	})

	assert.True(t, outcome.Escalated)
	require.Len(t, emitted, 1)
	assert.Equal(t, eventbus.EventReactionEscalated, emitted[0].Type)
}

func TestRunSendToAgentUsesDefaultMessage(t *testing.T) {
	sm := &fakeSessionManager{}
	d := baseDeps()
	d.SessionManager = sm

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1"},
		ReactionKey: model.ReactionCIFailed,
		Config:      model.ReactionConfig{Action: model.ActionSendToAgent},
	})

	assert.True(t, outcome.Success)
	require.Len(t, sm.sent, 1)
	assert.Contains(t, sm.sent[0], "CI is failing")
}

func TestRunSendToAgentDowngradesToNotifyForAdoptedSession(t *testing.T) {
	var emitted []eventbus.OrchestratorEvent
	sm := &fakeSessionManager{}
	d := baseDeps()
	d.SessionManager = sm
	d.NotifyHuman = func(ctx context.Context, ev eventbus.OrchestratorEvent) { emitted = append(emitted, ev) }

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1", Adopted: true},
		ReactionKey: model.ReactionCIFailed,
		Config:      model.ReactionConfig{Action: model.ActionSendToAgent},
	})

	assert.True(t, outcome.Success)
	assert.Empty(t, sm.sent)
	require.Len(t, emitted, 1)
}

func TestRunSendToAgentFailureDoesNotEscalate(t *testing.T) {
	sm := &fakeSessionManager{sendErr: errors.New("boom")}
	d := baseDeps()
	d.SessionManager = sm

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1"},
		ReactionKey: model.ReactionCIFailed,
		Config:      model.ReactionConfig{Action: model.ActionSendToAgent},
	})

	assert.False(t, outcome.Success)
	assert.False(t, outcome.Escalated)
}

func TestRunAutoMergeBlockedSetsCooldown(t *testing.T) {
	var emitted []eventbus.OrchestratorEvent
	scm := &fakeSCM{}
	d := baseDeps()
	d.SCM = scm
	d.ReviewDecision = approvedDecision
	d.NotifyHuman = func(ctx context.Context, ev eventbus.OrchestratorEvent) { emitted = append(emitted, ev) }

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1", PR: &model.PRInfo{Number: 1}},
		ReactionKey: model.ReactionApprovedAndGreen,
		Config:      model.ReactionConfig{Action: model.ActionAutoMerge},
		Merge: gate.MergeConfig{
			Enabled:          true,
			RetryCooldownSec: 60,
			Strict:           gate.MergeStrictConfig{RequireVerifyMarker: true},
		},
		MergeCooldownUntil: noCooldown,
	})

	assert.False(t, outcome.Success)
	assert.True(t, outcome.SetMergeRetryCooldown)
	assert.Equal(t, 0, scm.merged)
	require.Len(t, emitted, 1)
}

func TestRunAutoMergeClearMerges(t *testing.T) {
	scm := &fakeSCM{}
	d := baseDeps()
	d.SCM = scm
	d.ReviewDecision = approvedDecision

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1", PR: &model.PRInfo{Number: 1}},
		ReactionKey: model.ReactionApprovedAndGreen,
		Config:      model.ReactionConfig{Action: model.ActionAutoMerge},
		Merge:       gate.MergeConfig{Enabled: true, RetryCooldownSec: 60},
		MergeCooldownUntil: noCooldown,
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, int64(0), outcome.NewMergeRetryCooldownUntil)
	assert.Equal(t, 1, scm.merged)
}

func TestRunSpawnReviewerUsesInjectedSpawn(t *testing.T) {
	var gotScript string
	d := baseDeps()
	d.Spawn = func(script string, env []string) error {
		gotScript = script
		return nil
	}

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1"},
		ReactionKey: model.ReactionAutoReview,
		Config:      model.ReactionConfig{Action: model.ActionSpawnReviewer, Script: "./review.sh"},
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, "./review.sh", gotScript)
}

func TestRunSpawnAgentCallsSessionManager(t *testing.T) {
	sm := &fakeSessionManager{}
	d := baseDeps()
	d.SessionManager = sm

	outcome := Run(context.Background(), d, Params{
		Session:     &model.Session{ID: "app-1", IssueID: "42"},
		ProjectID:   "proj",
		ReactionKey: model.ReactionAgentExited,
		Config:      model.ReactionConfig{Action: model.ActionSpawnAgent},
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, 1, sm.spawned)
}

func TestRunCompleteTrackerIssueBlockedByVerifyMarker(t *testing.T) {
	tr := &fakeTracker{}
	d := baseDeps()
	d.Tracker = tr

	session := &model.Session{ID: "app-1", IssueID: "42", Metadata: map[string]string{}}
	outcome := Run(context.Background(), d, Params{
		Session:     session,
		ReactionKey: model.ReactionIssueCompleted,
		Config:      model.ReactionConfig{Action: model.ActionCompleteTrackerIssue},
	})

	assert.False(t, outcome.Success)
	assert.Empty(t, tr.updates)
}

func TestRunCompleteTrackerIssueClosesOnPass(t *testing.T) {
	tr := &fakeTracker{issue: &plugin.Issue{Description: "- [x] done"}}
	d := baseDeps()
	d.Tracker = tr

	session := &model.Session{ID: "app-1", IssueID: "42", Metadata: map[string]string{
		"verify_status":         "work_verify_pass_full",
		"verify_browser_status": "work_verify_browser_pass",
	}}
	outcome := Run(context.Background(), d, Params{
		Session:     session,
		ReactionKey: model.ReactionIssueCompleted,
		Config:      model.ReactionConfig{Action: model.ActionCompleteTrackerIssue},
		Completion:  gate.CompletionConfig{Enabled: true, EvidencePattern: "done"},
	})

	assert.True(t, outcome.Success)
	require.Len(t, tr.updates, 1)
	assert.Equal(t, "closed", tr.updates[0].State)
}

func TestRunUpdateTrackerProgressSendsComment(t *testing.T) {
	tr := &fakeTracker{}
	d := baseDeps()
	d.Tracker = tr

	session := &model.Session{ID: "app-1", IssueID: "42"}
	outcome := Run(context.Background(), d, Params{
		Session:             session,
		ReactionKey:         model.ReactionIssueProgressPROpened,
		Config:              model.ReactionConfig{Action: model.ActionUpdateTrackerProgress},
		TransitionEventType: eventbus.EventPRCreated,
	})

	assert.True(t, outcome.Success)
	require.Len(t, tr.updates, 1)
	assert.Contains(t, tr.updates[0].Comment, "PR is now open")
}
