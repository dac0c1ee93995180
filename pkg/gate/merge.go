package gate

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// MergeStrictConfig toggles the independently-switchable merge sub-gates
// (§4.4 step 4).
type MergeStrictConfig struct {
	RequireVerifyMarker               bool
	RequireBrowserMarker              bool
	RequireApprovedReviewOrNoRequests bool
	RequireNoUnresolvedThreads        bool
	RequirePassingChecks              bool
	RequireCompletionDryRun           bool
}

// MergeConfig configures the auto-merge action (§6 automation.mergeGate).
type MergeConfig struct {
	Enabled          bool
	Method           plugin.MergeMethod
	RetryCooldownSec int
	Strict           MergeStrictConfig
}

// MergeCheckResult reports whether a session is clear to merge, and why not
// if it isn't.
type MergeCheckResult struct {
	Clear    bool
	Blockers []string
}

// FilteredReviewDecision is satisfied by the review-decision folding logic
// in pkg/review, injected here so the merge gate's
// requireApprovedReviewOrNoRequests sub-gate can reuse the allowedUsers
// folding instead of scm.GetReviewDecision's raw (possibly unfiltered)
// answer.
type FilteredReviewDecision func(ctx context.Context, scm plugin.SCM, pr *model.PRInfo) (plugin.ReviewDecision, error)

// CheckMergeGate evaluates §4.4 steps 1-4 (not the merge call itself),
// returning the list of blockers (empty when clear). session.PR must be
// non-nil; callers are expected to have already verified that.
func CheckMergeGate(
	ctx context.Context,
	scm plugin.SCM,
	session *model.Session,
	cfg MergeConfig,
	mergeRetryCooldownUntil func(model.SessionID) (int64, bool),
	nowUnix int64,
	reviewDecision FilteredReviewDecision,
	completionDryRun func(ctx context.Context) (CompletionResult, error),
) MergeCheckResult {
	if !cfg.Enabled {
		return MergeCheckResult{Clear: false, Blockers: []string{"merge gate disabled"}}
	}
	if session.PR == nil {
		return MergeCheckResult{Clear: false, Blockers: []string{"no PR associated with session"}}
	}
	if scm == nil {
		return MergeCheckResult{Clear: false, Blockers: []string{"no SCM plugin configured"}}
	}
	if until, ok := mergeRetryCooldownUntil(session.ID); ok && until > nowUnix {
		return MergeCheckResult{Clear: false, Blockers: []string{"merge retry cooldown active"}}
	}

	var blockers []string

	if cfg.Strict.RequireVerifyMarker && session.MetaGet("verify_status") != "work_verify_pass_full" {
		blockers = append(blockers, "verify marker missing")
	}
	if cfg.Strict.RequireBrowserMarker && session.MetaGet("verify_browser_status") != "work_verify_browser_pass" {
		blockers = append(blockers, "browser verify marker missing")
	}

	if cfg.Strict.RequireApprovedReviewOrNoRequests {
		decision, err := reviewDecision(ctx, scm, session.PR)
		if err != nil {
			blockers = append(blockers, fmt.Sprintf("review decision unavailable: %v", err))
		} else if decision != plugin.ReviewApproved {
			if decision == plugin.ReviewNone {
				count, err := scm.GetReviewRequestsCount(ctx, session.PR)
				if err != nil || count > 0 {
					blockers = append(blockers, fmt.Sprintf("review requests pending (%d)", count))
				}
			} else {
				blockers = append(blockers, fmt.Sprintf("review not approved (%s)", decision))
			}
		}
	}

	if cfg.Strict.RequireNoUnresolvedThreads {
		pending, err := scm.GetPendingComments(ctx, session.PR)
		if err != nil {
			blockers = append(blockers, fmt.Sprintf("pending comments unavailable: %v", err))
		} else if len(pending) > 0 {
			blockers = append(blockers, fmt.Sprintf("unresolved review threads (%d)", len(pending)))
		}
	}

	if cfg.Strict.RequirePassingChecks {
		checks, err := scm.GetCIChecks(ctx, session.PR)
		if err != nil {
			blockers = append(blockers, fmt.Sprintf("CI checks unavailable: %v", err))
		} else if !checksPassing(checks) {
			blockers = append(blockers, "CI checks not all passing")
		}
	}

	if cfg.Strict.RequireCompletionDryRun && completionDryRun != nil {
		result, err := completionDryRun(ctx)
		if err != nil {
			blockers = append(blockers, fmt.Sprintf("completion dry-run failed: %v", err))
		} else if !result.Pass {
			blockers = append(blockers, fmt.Sprintf("completion gate would fail: %s", result.FailReason))
		}
	}

	if len(blockers) > 0 {
		return MergeCheckResult{Clear: false, Blockers: blockers}
	}
	return MergeCheckResult{Clear: true}
}

func checksPassing(checks []plugin.Check) bool {
	if len(checks) == 0 {
		return false
	}
	sawPassed := false
	for _, c := range checks {
		switch c.Status {
		case plugin.CheckFailed, plugin.CheckPending, plugin.CheckRunning:
			return false
		case plugin.CheckPassed:
			sawPassed = true
		}
	}
	return sawPassed
}
