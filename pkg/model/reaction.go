package model

import "time"

// ReactionAction is the closed tagged variant of reaction action kinds.
// Modeling it as a string enum keeps the executor's dispatch a single
// switch in one place (see pkg/reaction), rather than an interface
// hierarchy per action.
type ReactionAction string

// The closed set of reaction actions.
const (
	ActionNotify                ReactionAction = "notify"
	ActionSendToAgent           ReactionAction = "send-to-agent"
	ActionAutoMerge             ReactionAction = "auto-merge"
	ActionSpawnReviewer         ReactionAction = "spawn-reviewer"
	ActionSpawnAgent            ReactionAction = "spawn-agent"
	ActionCompleteTrackerIssue  ReactionAction = "complete-tracker-issue"
	ActionUpdateTrackerProgress ReactionAction = "update-tracker-progress"
)

// ReactionKey stably identifies a reaction slot. Keys are referenced both by
// the transition table (pkg/router) and by project/global ReactionConfig
// maps in configuration.
type ReactionKey string

// Reaction keys named by the transition table (§4.2).
const (
	ReactionIssueProgressPROpened     ReactionKey = "issue-progress-pr-opened"
	ReactionCIFailed                  ReactionKey = "ci-failed"
	ReactionAutoReview                ReactionKey = "auto-review"
	ReactionIssueProgressReviewUpdate ReactionKey = "issue-progress-review-updated"
	ReactionChangesRequested          ReactionKey = "changes-requested"
	ReactionApprovedAndGreen          ReactionKey = "approved-and-green"
	ReactionIssueCompleted            ReactionKey = "issue-completed"
	ReactionAgentNeedsInput           ReactionKey = "agent-needs-input"
	ReactionAgentStuck                ReactionKey = "agent-stuck"
	ReactionAgentExited               ReactionKey = "agent-exited"
	ReactionIssueCommented            ReactionKey = "issue-commented"
	ReactionBugbotComments            ReactionKey = "bugbot-comments"
)

// ReviewFilter restricts a reaction (or a review-decision fold) to comments
// or reviews from specific labels/authors.
type ReviewFilter struct {
	Labels  []string `yaml:"labels,omitempty"`
	Authors []string `yaml:"authors,omitempty"`
}

// EscalateAfter represents the `escalateAfter` field, which may be either an
// integer attempt count or a duration string in configuration. Exactly one
// of IsSet()'s backing fields is meaningful at a time.
type EscalateAfter struct {
	set      bool
	isCount  bool
	count    int
	duration time.Duration
}

// NewEscalateAfterCount builds an attempt-count EscalateAfter.
func NewEscalateAfterCount(n int) EscalateAfter {
	return EscalateAfter{set: true, isCount: true, count: n}
}

// NewEscalateAfterDuration builds a duration-based EscalateAfter.
func NewEscalateAfterDuration(d time.Duration) EscalateAfter {
	return EscalateAfter{set: true, duration: d}
}

// IsSet reports whether escalateAfter was configured at all.
func (e EscalateAfter) IsSet() bool { return e.set }

// IsDuration reports whether the configured value is a duration (as opposed
// to an attempt count).
func (e EscalateAfter) IsDuration() bool { return e.set && !e.isCount }

// Count returns the configured attempt count (only meaningful if !IsDuration()).
func (e EscalateAfter) Count() int { return e.count }

// Duration returns the configured duration (only meaningful if IsDuration()).
func (e EscalateAfter) Duration() time.Duration { return e.duration }

// ReactionConfig configures one reaction slot, optionally overlaid per
// project on top of the global definition (project wins per-field via
// pkg/config's mergo overlay).
type ReactionConfig struct {
	// Auto, when non-nil and false, disables the reaction entirely unless
	// Action is "notify" (notify reactions always run; see §4.2 step 5).
	Auto     *bool
	Action   ReactionAction
	Message  string
	Script   string
	Retries  int // used only when HasRetries; unset means infinite retries before escalation
	HasRetries bool

	EscalateAfter EscalateAfter

	Cooldown    time.Duration
	HasCooldown bool

	Priority EventPriority // zero value means "use the action's default"

	Filter *ReviewFilter
}

// IsAuto reports whether this reaction should run automatically: Auto is
// unset or true, or the action is "notify" (notify always runs per §4.2).
func (c ReactionConfig) IsAuto() bool {
	if c.Action == ActionNotify {
		return true
	}
	return c.Auto == nil || *c.Auto
}

// EffectiveRetries returns the configured retry count, or infinite=true
// (with retries 0) if unset, per §4.3 step 2's default of retries=+∞.
func (c ReactionConfig) EffectiveRetries() (retries int, infinite bool) {
	if !c.HasRetries {
		return 0, true
	}
	return c.Retries, false
}

// ReactionTracker is the per-(session, reactionKey) attempt/escalation
// bookkeeping described in §3. It exists only while the session's current
// status maps to the associated reaction key; the engine deletes it (from the
// router's OldReactionKeys) the moment the session transitions away from
// that status.
type ReactionTracker struct {
	Attempts       int
	FirstTriggered time.Time
}
