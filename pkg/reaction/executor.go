// Package reaction implements the Reaction Executor (§4.3): attempt and
// escalation bookkeeping per (session, reaction key), and the action
// dispatch switch over model.ReactionAction.
package reaction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/gate"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
	"github.com/codeready-toolchain/agentctl/pkg/progress"
	"github.com/codeready-toolchain/agentctl/pkg/review"
)

// defaultMessages is the built-in send-to-agent message table (§4.3 step 3),
// used when a reaction's own config.message is unset.
var defaultMessages = map[model.ReactionKey]string{
	model.ReactionCIFailed:        "CI is failing on your pull request. Please investigate the failing checks and push a fix.",
	model.ReactionChangesRequested: "A reviewer requested changes. Please address the feedback and push an update.",
	model.ReactionBugbotComments:  "New automated review comments are available. Please address them.",
	model.ReactionAgentNeedsInput: "Your session is waiting for input. Please continue.",
	model.ReactionIssueCommented:  "New comments were posted on the tracked issue.",
}

// Deps bundles the plugin capabilities and engine-owned collaborators one
// reaction invocation needs. Nothing here is mutated by Run.
type Deps struct {
	SessionManager plugin.SessionManager
	SCM            plugin.SCM
	Tracker        plugin.Tracker
	Metadata       plugin.MetadataPort
	Clock          clock.Clock
	SessionsDir    string
	NotifyHuman    func(ctx context.Context, ev eventbus.OrchestratorEvent)
	ReviewDecision review.FilteredDecisionFunc
	// Spawn overrides detached-process launch for spawn-reviewer, e.g. in
	// tests. nil uses exec.Command(...).Start().
	Spawn func(script string, env []string) error
}

// Params is everything specific to one reaction invocation.
type Params struct {
	Session     *model.Session
	ProjectID   string
	ReactionKey model.ReactionKey
	Config      model.ReactionConfig
	Tracker     model.ReactionTracker

	AllowedUsers []string
	// Comments, when set, is a pre-built concatenated comment block (Comment
	// Watcher, §4.9) prepended to a send-to-agent message.
	Comments string

	Merge              gate.MergeConfig
	MergeCooldownUntil func(model.SessionID) (int64, bool)
	Completion         gate.CompletionConfig

	// TransitionEventType is the event that triggered this cycle, needed by
	// update-tracker-progress to derive its target workflow state (§4.6).
	TransitionEventType eventbus.EventType
	TerminalOutput      string
	IssueTitle          string
}

// Outcome is what Run reports back to the engine, which owns
// reactionTrackers and mergeRetryCooldownUntil and applies these values
// itself rather than letting Run mutate shared maps directly.
type Outcome struct {
	Tracker   model.ReactionTracker
	Escalated bool
	// Handled is true when an action executed (or notified internally),
	// telling the engine's transition routing to suppress its default
	// notifyHuman fallback.
	Handled bool
	Success bool

	SetMergeRetryCooldown     bool
	NewMergeRetryCooldownUntil int64
}

// Run implements §4.3 steps 1-3: tracker bookkeeping, escalation check, then
// action dispatch.
func Run(ctx context.Context, d Deps, p Params) Outcome {
	tracker := p.Tracker
	now := d.Clock.Now()
	if tracker.FirstTriggered.IsZero() {
		tracker.FirstTriggered = now
	}
	tracker.Attempts++

	if checkEscalation(p.Config, tracker, now) {
		d.emit(ctx, p, eventbus.EventReactionEscalated, escalationPriority(p.Config), nil,
			fmt.Sprintf("reaction %s escalated after %d attempts", p.ReactionKey, tracker.Attempts))
		return Outcome{Tracker: tracker, Escalated: true, Handled: true}
	}

	outcome := d.dispatch(ctx, p, tracker, now)
	outcome.Tracker = tracker
	return outcome
}

func checkEscalation(cfg model.ReactionConfig, tr model.ReactionTracker, now time.Time) bool {
	if retries, infinite := cfg.EffectiveRetries(); !infinite && tr.Attempts > retries {
		return true
	}
	ea := cfg.EscalateAfter
	if !ea.IsSet() {
		return false
	}
	if ea.IsDuration() {
		return now.Sub(tr.FirstTriggered) > ea.Duration()
	}
	return tr.Attempts > ea.Count()
}

func escalationPriority(cfg model.ReactionConfig) model.EventPriority {
	if cfg.Priority != "" {
		return cfg.Priority
	}
	return model.PriorityUrgent
}

func defaultPriority(cfg model.ReactionConfig) model.EventPriority {
	if cfg.Priority != "" {
		return cfg.Priority
	}
	return model.PriorityInfo
}

func (d Deps) dispatch(ctx context.Context, p Params, tracker model.ReactionTracker, now time.Time) Outcome {
	switch p.Config.Action {
	case model.ActionNotify:
		d.emit(ctx, p, eventbus.EventReactionTriggered, defaultPriority(p.Config), nil, p.Config.Message)
		return Outcome{Handled: true, Success: true}
	case model.ActionSendToAgent:
		return d.runSendToAgent(ctx, p)
	case model.ActionAutoMerge:
		return d.runAutoMerge(ctx, p, now)
	case model.ActionSpawnReviewer:
		return d.runSpawnReviewer(ctx, p)
	case model.ActionSpawnAgent:
		return d.runSpawnAgent(ctx, p)
	case model.ActionCompleteTrackerIssue:
		return d.runCompleteTrackerIssue(ctx, p, now)
	case model.ActionUpdateTrackerProgress:
		return d.runUpdateTrackerProgress(ctx, p, now)
	default:
		return Outcome{}
	}
}

func (d Deps) emit(ctx context.Context, p Params, evType eventbus.EventType, priority model.EventPriority, data map[string]any, message string) {
	if d.NotifyHuman == nil {
		return
	}
	ev := eventbus.New(d.Clock.Now(), evType, p.Session.ID, p.ProjectID, message, data, priority)
	d.NotifyHuman(ctx, ev)
}

func (d Deps) persistMetadata(ctx context.Context, p Params, partial map[string]string) {
	if d.Metadata == nil {
		return
	}
	if err := d.Metadata.UpdateMetadata(ctx, d.SessionsDir, p.Session.ID, partial); err != nil {
		slog.Default().Warn("reaction: metadata persist failed", "session", p.Session.ID, "error", err)
	}
}

// runSendToAgent implements §4.3's send-to-agent action.
func (d Deps) runSendToAgent(ctx context.Context, p Params) Outcome {
	message := p.Config.Message
	if message == "" {
		message = defaultMessages[p.ReactionKey]
	}

	if (p.ReactionKey == model.ReactionChangesRequested || p.ReactionKey == model.ReactionBugbotComments) && len(p.AllowedUsers) > 0 {
		filtered, ok := d.filteredTrustedComments(ctx, p)
		if !ok {
			return Outcome{Success: false}
		}
		if len(filtered) == 0 {
			return Outcome{Handled: true, Success: true}
		}
		message = formatTrustedComments(filtered)
	}

	if p.Comments != "" {
		message = p.Comments + "\n\n" + message
	}

	if p.Session.Adopted {
		d.emit(ctx, p, eventbus.EventReactionTriggered, defaultPriority(p.Config), nil, message)
		return Outcome{Handled: true, Success: true}
	}

	if d.SessionManager == nil {
		return Outcome{Success: false}
	}
	if err := d.SessionManager.Send(ctx, p.Session.ID, message); err != nil {
		slog.Default().Warn("reaction: send-to-agent failed", "session", p.Session.ID, "error", err)
		return Outcome{Success: false}
	}
	return Outcome{Handled: true, Success: true}
}

func (d Deps) filteredTrustedComments(ctx context.Context, p Params) ([]plugin.PendingComment, bool) {
	if p.Session.PR == nil || d.SCM == nil {
		return nil, false
	}
	comments, err := d.SCM.GetPendingComments(ctx, p.Session.PR)
	if err != nil {
		return nil, false
	}
	allowed := make(map[string]bool, len(p.AllowedUsers))
	for _, u := range p.AllowedUsers {
		allowed[u] = true
	}
	var filtered []plugin.PendingComment
	for _, c := range comments {
		if allowed[c.Author] {
			filtered = append(filtered, c)
		}
	}
	return filtered, true
}

func formatTrustedComments(comments []plugin.PendingComment) string {
	var b strings.Builder
	b.WriteString("Trusted reviewer comments (do not read the full PR thread):\n")
	for i, c := range comments {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "**@%s** commented:\n%s", c.Author, c.Body)
	}
	return b.String()
}

// runAutoMerge implements §4.4.
func (d Deps) runAutoMerge(ctx context.Context, p Params, now time.Time) Outcome {
	nowUnix := now.Unix()
	result := gate.CheckMergeGate(ctx, d.SCM, p.Session, p.Merge, p.MergeCooldownUntil, nowUnix, gate.FilteredReviewDecision(d.ReviewDecision), d.completionDryRun(p))

	if !result.Clear {
		until := now.Add(time.Duration(p.Merge.RetryCooldownSec) * time.Second).Unix()
		d.emit(ctx, p, eventbus.EventReactionTriggered, model.PriorityWarning, map[string]any{"blockers": result.Blockers},
			"merge blocked: "+strings.Join(result.Blockers, "; "))
		return Outcome{Handled: true, Success: false, SetMergeRetryCooldown: true, NewMergeRetryCooldownUntil: until}
	}

	method := p.Merge.Method
	if method == "" {
		method = plugin.MergeSquash
	}
	if err := d.SCM.MergePR(ctx, p.Session.PR, method); err != nil {
		until := now.Add(time.Duration(p.Merge.RetryCooldownSec) * time.Second).Unix()
		d.emit(ctx, p, eventbus.EventReactionEscalated, model.PriorityUrgent, map[string]any{"error": err.Error()}, "merge failed: "+err.Error())
		return Outcome{Handled: true, Success: false, Escalated: true, SetMergeRetryCooldown: true, NewMergeRetryCooldownUntil: until}
	}

	d.emit(ctx, p, eventbus.EventReactionTriggered, model.PriorityAction, nil, "pull request merged")
	return Outcome{Handled: true, Success: true, SetMergeRetryCooldown: true, NewMergeRetryCooldownUntil: 0}
}

func (d Deps) completionDryRun(p Params) func(ctx context.Context) (gate.CompletionResult, error) {
	if d.Tracker == nil || p.Session.IssueID == "" {
		return nil
	}
	return func(ctx context.Context) (gate.CompletionResult, error) {
		return gate.EvaluateCompletion(ctx, d.Tracker, p.Session.IssueID, p.ProjectID, p.Completion)
	}
}

// runSpawnReviewer implements §4.3's spawn-reviewer action: a detached,
// unwaited OS process (§9 notes zombie reaping is an open question left to
// the OS/init, not this engine).
func (d Deps) runSpawnReviewer(ctx context.Context, p Params) Outcome {
	if p.Config.Script == "" {
		return Outcome{Success: false}
	}
	if err := d.spawnDetached(p.Config.Script, reviewerEnv(p)); err != nil {
		slog.Default().Warn("reaction: spawn-reviewer failed", "session", p.Session.ID, "error", err)
		return Outcome{Success: false}
	}
	d.emit(ctx, p, eventbus.EventReactionTriggered, defaultPriority(p.Config), nil, "spawned reviewer process")
	return Outcome{Handled: true, Success: true}
}

func (d Deps) spawnDetached(script string, env []string) error {
	if d.Spawn != nil {
		return d.Spawn(script, env)
	}
	cmd := exec.Command(script)
	cmd.Env = append(os.Environ(), env...)
	return cmd.Start()
}

func reviewerEnv(p Params) []string {
	env := []string{
		"AGENTCTL_PROJECT_ID=" + p.ProjectID,
		"AGENTCTL_SESSION_ID=" + string(p.Session.ID),
	}
	if p.Session.PR != nil {
		env = append(env,
			"AGENTCTL_PR_URL="+p.Session.PR.URL,
			"AGENTCTL_PR_NUMBER="+strconv.Itoa(p.Session.PR.Number),
		)
	}
	return env
}

// runSpawnAgent implements §4.3's spawn-agent action.
func (d Deps) runSpawnAgent(ctx context.Context, p Params) Outcome {
	if d.SessionManager == nil {
		return Outcome{Success: false}
	}
	if _, err := d.SessionManager.Spawn(ctx, p.ProjectID, p.Session.IssueID); err != nil {
		slog.Default().Warn("reaction: spawn-agent failed", "project", p.ProjectID, "error", err)
		return Outcome{Success: false}
	}
	return Outcome{Handled: true, Success: true}
}

// runCompleteTrackerIssue implements §4.5's complete-tracker-issue action.
func (d Deps) runCompleteTrackerIssue(ctx context.Context, p Params, now time.Time) Outcome {
	if p.Session.MetaGet("verify_status") != "work_verify_pass_full" {
		return d.failCompletion(ctx, p, now, "blocked_verify_pending", gate.ChecklistSummary{})
	}
	if p.Session.MetaGet("verify_browser_status") != "work_verify_browser_pass" {
		return d.failCompletion(ctx, p, now, "blocked_browser_verify_pending", gate.ChecklistSummary{})
	}
	if d.Tracker == nil {
		return Outcome{Success: false}
	}

	result, err := gate.EvaluateCompletion(ctx, d.Tracker, p.Session.IssueID, p.ProjectID, p.Completion)
	if err != nil {
		slog.Default().Warn("reaction: completion gate evaluation failed", "session", p.Session.ID, "error", err)
		return Outcome{Success: false}
	}
	if !result.Pass {
		return d.failCompletion(ctx, p, now, gate.StatusReasonFor(result.FailReason), result.Checklist)
	}

	status := "passed"
	if result.CanAutoSyncChecklist {
		status = "auto_checked"
		if err := d.Tracker.UpdateIssue(ctx, p.Session.IssueID, plugin.IssueUpdate{
			Description:    result.Checklist.Rewritten,
			HasDescription: true,
			Comment:        fmt.Sprintf("Auto-checked %d acceptance criteria based on evidence found.", result.Checklist.Unchecked),
		}, p.ProjectID); err != nil {
			slog.Default().Warn("reaction: checklist auto-sync failed", "session", p.Session.ID, "error", err)
		}
	}

	acceptance := gate.AcceptanceMetadata(result.Checklist, status)
	acceptance["acceptance_checked_at"] = clock.FormatUnix(now)
	d.persistMetadata(ctx, p, acceptance)

	closeComment := fmt.Sprintf("Closing: verify=%s, browser_verify=%s, acceptance=%s.",
		p.Session.MetaGet("verify_status"), p.Session.MetaGet("verify_browser_status"), status)
	if err := d.Tracker.UpdateIssue(ctx, p.Session.IssueID, plugin.IssueUpdate{State: "closed", Comment: closeComment}, p.ProjectID); err != nil {
		d.emit(ctx, p, eventbus.EventReactionEscalated, model.PriorityUrgent, nil, "failed to close tracker issue: "+err.Error())
		return Outcome{Success: false, Escalated: true}
	}

	d.emit(ctx, p, eventbus.EventReactionTriggered, model.PriorityAction, nil, "tracker issue completed")
	return Outcome{Handled: true, Success: true}
}

func (d Deps) failCompletion(ctx context.Context, p Params, now time.Time, reason string, checklist gate.ChecklistSummary) Outcome {
	acceptance := gate.AcceptanceMetadata(checklist, reason)
	acceptance["acceptance_checked_at"] = clock.FormatUnix(now)
	d.persistMetadata(ctx, p, acceptance)
	d.emit(ctx, p, eventbus.EventReactionTriggered, model.PriorityWarning, nil, "completion gate blocked: "+reason)
	return Outcome{Handled: true, Success: false}
}

// runUpdateTrackerProgress implements §4.6, delegating stage/cooldown/
// comment derivation to pkg/progress.
func (d Deps) runUpdateTrackerProgress(ctx context.Context, p Params, now time.Time) Outcome {
	if d.Tracker == nil || p.Session.IssueID == "" {
		return Outcome{Success: false}
	}

	cooldown := time.Duration(0)
	if p.Config.HasCooldown {
		cooldown = p.Config.Cooldown
	}

	result := progress.Compute(progress.Input{
		Session:             p.Session,
		ReactionKey:         p.ReactionKey,
		TransitionEventType: p.TransitionEventType,
		TerminalOutput:      p.TerminalOutput,
		IssueTitle:          p.IssueTitle,
		Now:                 now,
		Cooldown:            cooldown,
	})
	if result.Suppressed {
		return Outcome{Handled: true, Success: true}
	}

	if err := d.Tracker.UpdateIssue(ctx, p.Session.IssueID, result.Update, p.ProjectID); err != nil {
		d.emit(ctx, p, eventbus.EventReactionEscalated, model.PriorityWarning, nil, "tracker progress update failed: "+err.Error())
		return Outcome{Success: false, Escalated: true}
	}

	d.persistMetadata(ctx, p, result.MetadataStamp)
	return Outcome{Handled: true, Success: true}
}
