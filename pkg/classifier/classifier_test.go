package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
	"github.com/codeready-toolchain/agentctl/pkg/plugin/memory"
)

type fakeRuntime struct {
	alive      bool
	aliveErr   error
	output     string
	outputErr  error
	sent       []string
}

func (f *fakeRuntime) IsAlive(ctx context.Context, handle any) (bool, error) { return f.alive, f.aliveErr }
func (f *fakeRuntime) GetOutput(ctx context.Context, handle any, lastNLines int) (string, error) {
	return f.output, f.outputErr
}
func (f *fakeRuntime) SendMessage(ctx context.Context, handle any, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

type fakeAgent struct {
	name       string
	activity   plugin.ActivityState
	activityErr error
	running    bool
}

func (f *fakeAgent) Name() string { return f.name }
func (f *fakeAgent) DetectActivity(ctx context.Context, terminalOutput string) (plugin.ActivityState, error) {
	return f.activity, f.activityErr
}
func (f *fakeAgent) IsProcessRunning(ctx context.Context, handle any) (bool, error) {
	return f.running, nil
}

type fakeSCM struct {
	pr           *model.PRInfo
	prState      plugin.PRState
	ciSummary    plugin.CISummary
	decision     plugin.ReviewDecision
	mergeability plugin.Mergeability
}

func (f *fakeSCM) DetectPR(ctx context.Context, s *model.Session, projectID string) (*model.PRInfo, error) {
	return f.pr, nil
}
func (f *fakeSCM) GetPRState(ctx context.Context, pr *model.PRInfo) (plugin.PRState, error) {
	return f.prState, nil
}
func (f *fakeSCM) GetCISummary(ctx context.Context, pr *model.PRInfo) (plugin.CISummary, error) {
	return f.ciSummary, nil
}
func (f *fakeSCM) GetCIChecks(ctx context.Context, pr *model.PRInfo) ([]plugin.Check, error) {
	return nil, nil
}
func (f *fakeSCM) GetReviews(ctx context.Context, pr *model.PRInfo) ([]plugin.Review, error) {
	return nil, nil
}
func (f *fakeSCM) GetReviewDecision(ctx context.Context, pr *model.PRInfo) (plugin.ReviewDecision, error) {
	return f.decision, nil
}
func (f *fakeSCM) GetReviewRequestsCount(ctx context.Context, pr *model.PRInfo) (int, error) {
	return 0, nil
}
func (f *fakeSCM) GetPendingComments(ctx context.Context, pr *model.PRInfo) ([]plugin.PendingComment, error) {
	return nil, nil
}
func (f *fakeSCM) GetMergeability(ctx context.Context, pr *model.PRInfo) (plugin.Mergeability, error) {
	return f.mergeability, nil
}
func (f *fakeSCM) MergePR(ctx context.Context, pr *model.PRInfo, method plugin.MergeMethod) error {
	return nil
}
func (f *fakeSCM) ListOpenPRs(ctx context.Context, projectID string) ([]model.PRInfo, error) {
	return nil, plugin.ErrNotSupported
}

func TestClassifySpawningToWorking(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusSpawning, RuntimeHandle: "h"}

	status := c.Classify(context.Background(), Input{
		Session: session,
		Runtime: &fakeRuntime{alive: true, output: "working away"},
		Agent:   &fakeAgent{name: "claude", activity: plugin.ActivityActive, running: true},
	})

	assert.Equal(t, model.StatusWorking, status)
}

func TestClassifyRuntimeNotAliveIsKilled(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusWorking, RuntimeHandle: "h"}

	status := c.Classify(context.Background(), Input{
		Session: session,
		Runtime: &fakeRuntime{alive: false},
		Agent:   &fakeAgent{name: "claude"},
	})

	assert.Equal(t, model.StatusKilled, status)
}

func TestClassifyProcessNotRunningIsKilled(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusWorking, RuntimeHandle: "h"}

	status := c.Classify(context.Background(), Input{
		Session: session,
		Runtime: &fakeRuntime{alive: true, output: "shell prompt"},
		Agent:   &fakeAgent{name: "claude", activity: plugin.ActivityActive, running: false},
	})

	assert.Equal(t, model.StatusKilled, status)
}

func TestClassifyWaitingInputIsNeedsInput(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusWorking, RuntimeHandle: "h"}

	status := c.Classify(context.Background(), Input{
		Session: session,
		Runtime: &fakeRuntime{alive: true, output: "waiting for your input"},
		Agent:   &fakeAgent{name: "claude", activity: plugin.ActivityWaitingInput, running: true},
	})

	assert.Equal(t, model.StatusNeedsInput, status)
}

func TestClassifyCodexRateLimitAutoDismiss(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusWorking, RuntimeHandle: "h"}
	rt := &fakeRuntime{
		alive:  true,
		output: "Approaching rate limits\nSwitch to gpt-5.1-codex-mini\nPress enter to confirm",
	}

	status := c.Classify(context.Background(), Input{
		Session: session,
		Runtime: rt,
		Agent:   &fakeAgent{name: "codex", activity: plugin.ActivityWaitingInput, running: true},
	})

	assert.Equal(t, model.StatusWorking, status)
	require.Len(t, rt.sent, 1)
	assert.Equal(t, "3\n", rt.sent[0])
}

func TestClassifyProbeFailurePreservesStuck(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusStuck, RuntimeHandle: "h"}

	status := c.Classify(context.Background(), Input{
		Session: session,
		Runtime: &fakeRuntime{alive: true, outputErr: assertErr},
		Agent:   &fakeAgent{name: "claude"},
	})

	assert.Equal(t, model.StatusStuck, status)
}

var assertErr = errTest("probe failed")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestClassifyPRMergedStatus(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{
		ID:     "app-1",
		Status: model.StatusPROpen,
		PR:     &model.PRInfo{Number: 1},
	}

	status := c.Classify(context.Background(), Input{
		Session: session,
		SCM:     &fakeSCM{prState: plugin.PRStateMerged},
	})

	assert.Equal(t, model.StatusMerged, status)
}

func TestClassifyCIFailing(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusPROpen, PR: &model.PRInfo{Number: 1}}

	status := c.Classify(context.Background(), Input{
		Session: session,
		SCM:     &fakeSCM{prState: plugin.PRStateOpen, ciSummary: plugin.CISummaryFailing},
	})

	assert.Equal(t, model.StatusCIFailed, status)
}

func TestClassifyApprovedAndMergeable(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusReviewPending, PR: &model.PRInfo{Number: 1}}

	status := c.Classify(context.Background(), Input{
		Session: session,
		SCM: &fakeSCM{
			prState:      plugin.PRStateOpen,
			ciSummary:    plugin.CISummaryPassing,
			decision:     plugin.ReviewApproved,
			mergeability: plugin.Mergeability{Mergeable: true},
		},
	})

	assert.Equal(t, model.StatusMergeable, status)
}

func TestClassifyApprovedNotMergeable(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusReviewPending, PR: &model.PRInfo{Number: 1}}

	status := c.Classify(context.Background(), Input{
		Session: session,
		SCM: &fakeSCM{
			prState:      plugin.PRStateOpen,
			ciSummary:    plugin.CISummaryPassing,
			decision:     plugin.ReviewApproved,
			mergeability: plugin.Mergeability{Mergeable: false},
		},
	})

	assert.Equal(t, model.StatusApproved, status)
}

func TestClassifyPRAutoDetect(t *testing.T) {
	c := New(clock.NewFake(time.Now()), memory.NewMetadataStore())
	session := &model.Session{ID: "app-1", Status: model.StatusWorking, Branch: "feature-x"}

	status := c.Classify(context.Background(), Input{
		Session: session,
		SCM: &fakeSCM{
			pr:        &model.PRInfo{Number: 5, URL: "https://example/pr/5"},
			prState:   plugin.PRStateOpen,
			ciSummary: plugin.CISummaryPending,
			decision:  plugin.ReviewPending,
		},
	})

	assert.Equal(t, model.StatusReviewPending, status)
	require.NotNil(t, session.PR)
	assert.Equal(t, 5, session.PR.Number)
}

func TestClassifyStuckRecoverySustainedSendsMessage(t *testing.T) {
	fc := clock.NewFake(time.Now())
	store := memory.NewMetadataStore()
	c := New(fc, store)
	session := &model.Session{ID: "app-1", Status: model.StatusWorking, RuntimeHandle: "h"}
	rt := &fakeRuntime{alive: true, output: "I seem to be stuck in a loop"}
	stuckCfg := StuckRecoveryConfig{
		Enabled:      true,
		Pattern:      "stuck in a loop",
		ThresholdSec: 60,
		CooldownSec:  300,
		Message:      "please continue",
	}

	status := c.Classify(context.Background(), Input{
		Session:       session,
		Runtime:       rt,
		Agent:         &fakeAgent{name: "claude", running: true},
		StuckRecovery: stuckCfg,
	})
	assert.Equal(t, model.StatusWorking, status)
	assert.Empty(t, rt.sent)

	fc.Advance(61 * time.Second)
	session2 := &model.Session{ID: "app-1", Status: model.StatusWorking, RuntimeHandle: "h", Metadata: store.Get("app-1")}
	status = c.Classify(context.Background(), Input{
		Session:       session2,
		Runtime:       rt,
		Agent:         &fakeAgent{name: "claude", running: true},
		StuckRecovery: stuckCfg,
	})

	assert.Equal(t, model.StatusStuck, status)
	require.Len(t, rt.sent, 1)
	assert.Equal(t, "please continue", rt.sent[0])
}
