package engine

import (
	"context"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/classifier"
	"github.com/codeready-toolchain/agentctl/pkg/config"
	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
	"github.com/codeready-toolchain/agentctl/pkg/reaction"
	"github.com/codeready-toolchain/agentctl/pkg/review"
	"github.com/codeready-toolchain/agentctl/pkg/watcher"
)

// sessionResult is what checkSession reports back for one session; the
// engine applies every field to its own maps serially (§5: "fanned-out
// tasks communicate back via their return values").
type sessionResult struct {
	sessionID model.SessionID
	newStatus model.SessionStatus

	trackerUpdates map[trackerKey]model.ReactionTracker
	trackerDeletes []trackerKey

	clearAllComplete bool

	mergeCooldownSet   bool
	mergeCooldownUntil int64

	commentTimestampSet bool
	commentTimestamp    time.Time
}

// checkSession runs classifier → router → reaction executor → comment
// watcher for one session (§5: "strictly sequentially" within a session).
func (e *Engine) checkSession(ctx context.Context, s *model.Session, proj config.Project) sessionResult {
	result := sessionResult{
		sessionID:      s.ID,
		trackerUpdates: make(map[trackerKey]model.ReactionTracker),
	}

	oldStatus := e.currentStatus(s)

	runtime := e.runtimeFor(proj)
	agent := e.agentFor(proj)
	scm, _ := e.scmFor(proj)
	tracker, _ := e.trackerFor(proj)

	reviewFilter := review.Filter(e.deps.Config.AllowedUsers)

	newStatus := e.classifier.Classify(ctx, classifier.Input{
		Session:        s,
		ProjectID:      proj.ID,
		SessionsDir:    e.deps.SessionsDir,
		Runtime:        runtime,
		Agent:          agent,
		SCM:            scm,
		StuckRecovery:  stuckRecoveryConfig(proj),
		ReviewDecision: classifier.ReviewDecisionFunc(reviewFilter),
	})
	s.Status = newStatus
	result.newStatus = newStatus

	if oldStatus != newStatus {
		e.routeTransition(ctx, s, proj, oldStatus, &result)
	}

	e.watchComments(ctx, s, proj, tracker, reviewFilter, &result)

	return result
}

func (e *Engine) currentStatus(s *model.Session) model.SessionStatus {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if st, ok := e.states[s.ID]; ok {
		return st
	}
	return s.Status
}

// routeTransition implements §4.2 steps 1-6 for a session whose status just
// changed.
func (e *Engine) routeTransition(ctx context.Context, s *model.Session, proj config.Project, oldStatus model.SessionStatus, result *sessionResult) {
	routed, err := e.router.OnTransition(ctx, e.deps.SessionsDir, s, oldStatus)
	if err != nil {
		e.logger.Warn("router: transition persist failed", "session", s.ID, "error", err)
		return
	}

	for _, k := range routed.OldReactionKeys {
		result.trackerDeletes = append(result.trackerDeletes, trackerKey{session: s.ID, key: k})
	}
	if routed.ClearAllCompleteEmitted {
		result.clearAllComplete = true
	}

	effective := e.deps.Config.EffectiveReactions(proj.ID)

	handled := false
	terminalOutput := e.terminalOutputFor(ctx, s, proj, routed.ReactionKeys)
	issueTitle := e.issueTitleFor(ctx, proj, s)

	for _, key := range routed.ReactionKeys {
		cfg, ok := effective[key]
		if !ok || !cfg.IsAuto() {
			continue
		}

		tk := trackerKey{session: s.ID, key: key}
		tracker := e.trackerBookkeeping(tk)

		outcome := reaction.Run(ctx, e.reactionDeps(proj), reaction.Params{
			Session:             s,
			ProjectID:           proj.ID,
			ReactionKey:         key,
			Config:              cfg,
			Tracker:             tracker,
			AllowedUsers:        e.deps.Config.AllowedUsers,
			Merge:               e.mergeConfigFor(proj),
			MergeCooldownUntil:  e.mergeCooldownLookup(),
			Completion:          e.completionConfigFor(proj),
			TransitionEventType: routed.EventType,
			TerminalOutput:      terminalOutput,
			IssueTitle:          issueTitle,
		})

		result.trackerUpdates[tk] = outcome.Tracker
		if outcome.Handled {
			handled = true
		}
		if outcome.SetMergeRetryCooldown {
			result.mergeCooldownSet = true
			result.mergeCooldownUntil = outcome.NewMergeRetryCooldownUntil
		}
	}

	if !handled && eventbus.InferPriority(routed.EventType) != model.PriorityInfo {
		e.notifyHuman(ctx, eventbus.New(e.deps.Clock.Now(), routed.EventType, s.ID, proj.ID, string(routed.EventType), nil, ""))
	}
}

// watchComments implements §4.9 for one session.
func (e *Engine) watchComments(ctx context.Context, s *model.Session, proj config.Project, tracker plugin.Tracker, reviewDecision review.FilteredDecisionFunc, result *sessionResult) {
	if s.IssueID == "" || tracker == nil {
		return
	}
	effective := e.deps.Config.EffectiveReactions(proj.ID)
	cfg, ok := effective[model.ReactionIssueCommented]
	if !ok || !cfg.IsAuto() {
		return
	}

	if labels := labelsFor(cfg); len(labels) > 0 {
		issue, err := tracker.GetIssue(ctx, s.IssueID, proj.ID)
		if err != nil {
			e.logger.Warn("comment watcher label filter: failed to fetch issue", "session", s.ID, "error", err)
			return
		}
		if !hasAnyLabel(issue.Labels, labels) {
			return
		}
	}

	e.stateMu.Lock()
	lastSeen, hasLastSeen := e.lastCommentTimestamps[s.ID]
	e.stateMu.Unlock()

	now := e.deps.Clock.Now()
	watchResult, err := watcher.Run(ctx, watcher.Input{
		IssueID:     s.IssueID,
		ProjectID:   proj.ID,
		Tracker:     tracker,
		Config:      watcher.Config{Enabled: true, Authors: authorsFor(cfg)},
		Now:         now,
		LastSeenAt:  lastSeen,
		HasLastSeen: hasLastSeen,
	})
	if err != nil {
		e.logger.Warn("comment watcher failed", "session", s.ID, "error", err)
		return
	}

	result.commentTimestampSet = true
	result.commentTimestamp = watchResult.NewLastSeenAt

	if watchResult.FirstObservation || !watchResult.HasComments {
		return
	}

	e.notifyHuman(ctx, eventbus.New(now, eventbus.EventIssueCommentAdded, s.ID, proj.ID, "new issue comments", nil, ""))

	tk := trackerKey{session: s.ID, key: model.ReactionIssueCommented}
	tracked := e.trackerBookkeeping(tk)
	outcome := reaction.Run(ctx, e.reactionDeps(proj), reaction.Params{
		Session:            s,
		ProjectID:          proj.ID,
		ReactionKey:        model.ReactionIssueCommented,
		Config:             cfg,
		Tracker:            tracked,
		AllowedUsers:       e.deps.Config.AllowedUsers,
		Comments:           watchResult.CommentBlock,
		Merge:              e.mergeConfigFor(proj),
		MergeCooldownUntil: e.mergeCooldownLookup(),
		Completion:         e.completionConfigFor(proj),
	})
	result.trackerUpdates[tk] = outcome.Tracker
}

func authorsFor(cfg model.ReactionConfig) []string {
	if cfg.Filter == nil {
		return nil
	}
	return cfg.Filter.Authors
}

// labelsFor returns the issue-commented reaction's label gate (§4.9: "gated
// by a labels filter"), if configured.
func labelsFor(cfg model.ReactionConfig) []string {
	if cfg.Filter == nil {
		return nil
	}
	return cfg.Filter.Labels
}

// hasAnyLabel reports whether issueLabels contains at least one of wanted.
func hasAnyLabel(issueLabels, wanted []string) bool {
	have := make(map[string]bool, len(issueLabels))
	for _, l := range issueLabels {
		have[l] = true
	}
	for _, w := range wanted {
		if have[w] {
			return true
		}
	}
	return false
}

func stuckRecoveryConfig(proj config.Project) classifier.StuckRecoveryConfig {
	sr := proj.Automation.StuckRecovery
	return classifier.StuckRecoveryConfig{
		Enabled:      sr.Enabled,
		Pattern:      sr.Pattern,
		ThresholdSec: sr.ThresholdSec,
		CooldownSec:  sr.CooldownSec,
		Message:      sr.Message,
	}
}

func (e *Engine) terminalOutputFor(ctx context.Context, s *model.Session, proj config.Project, keys []model.ReactionKey) string {
	if s.RuntimeHandle == nil {
		return ""
	}
	needsOutput := false
	for _, k := range keys {
		if k == model.ReactionIssueProgressPROpened || k == model.ReactionIssueProgressReviewUpdate {
			needsOutput = true
			break
		}
	}
	if !needsOutput {
		return ""
	}
	rt := e.runtimeFor(proj)
	if rt == nil {
		return ""
	}
	out, err := rt.GetOutput(ctx, s.RuntimeHandle, 200)
	if err != nil {
		return ""
	}
	return out
}

func (e *Engine) issueTitleFor(ctx context.Context, proj config.Project, s *model.Session) string {
	if s.IssueID == "" {
		return ""
	}
	tracker, ok := e.trackerFor(proj)
	if !ok {
		return ""
	}
	issue, err := tracker.GetIssue(ctx, s.IssueID, proj.ID)
	if err != nil || issue == nil {
		return ""
	}
	return issue.Title
}

func (e *Engine) trackerBookkeeping(tk trackerKey) model.ReactionTracker {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.reactionTrackers[tk]
}

func (e *Engine) mergeCooldownLookup() func(model.SessionID) (int64, bool) {
	return func(id model.SessionID) (int64, bool) {
		e.stateMu.Lock()
		defer e.stateMu.Unlock()
		v, ok := e.mergeRetryCooldownUntil[id]
		return v, ok
	}
}

// applySessionResult folds one session's fanned-out result into the
// engine's owned state maps (§5: mutated only from the engine's task).
func (e *Engine) applySessionResult(ctx context.Context, r sessionResult) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.states[r.sessionID] = r.newStatus

	for tk, tracker := range r.trackerUpdates {
		e.reactionTrackers[tk] = tracker
	}
	for _, tk := range r.trackerDeletes {
		delete(e.reactionTrackers, tk)
	}
	if r.clearAllComplete {
		e.allCompleteEmitted = false
	}
	if r.mergeCooldownSet {
		if r.mergeCooldownUntil == 0 {
			delete(e.mergeRetryCooldownUntil, r.sessionID)
		} else {
			e.mergeRetryCooldownUntil[r.sessionID] = r.mergeCooldownUntil
		}
	}
	if r.commentTimestampSet {
		e.lastCommentTimestamps[r.sessionID] = r.commentTimestamp
	}
}
