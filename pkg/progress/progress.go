// Package progress implements update-tracker-progress (§4.6): deriving the
// stage/target-state from the triggering transition, cooldown-with-target-
// change-bypass, and the multi-line progress comment.
package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

const maxLineLen = 240

// Input bundles what Compute needs to derive a progress comment for one
// update-tracker-progress invocation.
type Input struct {
	Session             *model.Session
	ReactionKey         model.ReactionKey
	TransitionEventType eventbus.EventType
	TerminalOutput      string
	IssueTitle          string
	Now                 time.Time
	Cooldown            time.Duration
}

// Result is the outcome of Compute: either suppressed by cooldown, or an
// IssueUpdate to send plus the sidecar metadata to stamp on success.
type Result struct {
	Suppressed    bool
	Update        plugin.IssueUpdate
	MetadataStamp map[string]string
}

// StageFor derives the progress stage from the reaction key that triggered
// this invocation (§4.6).
func StageFor(key model.ReactionKey) string {
	if key == model.ReactionIssueProgressPROpened {
		return "pr_opened"
	}
	return "review_updated"
}

// Compute implements §4.6: cooldown check (bypassed when the target
// workflow state would change) and comment construction.
func Compute(in Input) Result {
	stage := StageFor(in.ReactionKey)
	target := ""
	if stage == "review_updated" {
		target = targetStateFor(in.TransitionEventType, in.Session)
	}

	if in.Session.MetaGet("progress_stage") == stage && in.Session.MetaGet("progress_target_state") == target {
		if updatedAt, ok := clock.ParseUnix(in.Session.MetaGet("progress_updated_at")); ok && in.Now.Sub(updatedAt) < in.Cooldown {
			return Result{Suppressed: true}
		}
	}

	update := plugin.IssueUpdate{
		State:   "in_progress",
		Comment: buildComment(stage, in),
	}
	if target != "" {
		update.WorkflowStateName = target
	}

	return Result{
		Update: update,
		MetadataStamp: map[string]string{
			"progress_stage":        stage,
			"progress_updated_at":   clock.FormatUnix(in.Now),
			"progress_target_state": target,
		},
	}
}

// targetStateFor derives the target tracker workflow state for the
// review_updated stage (§4.6).
func targetStateFor(evType eventbus.EventType, s *model.Session) string {
	switch evType {
	case eventbus.EventReviewChangesReq:
		return "In Progress"
	case eventbus.EventReviewPending, eventbus.EventReviewApproved, eventbus.EventMergeReady:
		if s.MetaGet("verify_status") == "work_verify_pass_full" {
			return "In Review"
		}
	}
	return ""
}

func buildComment(stage string, in Input) string {
	var lines []string
	if stage == "pr_opened" {
		lines = append(lines, fmt.Sprintf("Progress update (%s): PR is now open.", in.Now.Format(time.RFC3339)))
	} else {
		lines = append(lines, fmt.Sprintf("Progress update (%s): Review stage updated (%s).", in.Now.Format(time.RFC3339), summaryFor(in.TransitionEventType)))
	}

	if in.Session.PR != nil && in.Session.PR.URL != "" {
		lines = append(lines, "- PR: "+in.Session.PR.URL)
	}
	lines = append(lines, "- Summary: "+truncate(devSummary(in)))
	lines = append(lines, "- Implementation: "+truncate(implSummary(in)))
	if v := in.Session.MetaGet("verify_status"); v != "" {
		lines = append(lines, "- Verify: "+v)
	}
	if v := in.Session.MetaGet("verify_browser_status"); v != "" {
		lines = append(lines, "- Browser verify: "+v)
	}
	if in.Session.Branch != "" {
		lines = append(lines, "- Branch: "+in.Session.Branch)
	}
	return strings.Join(lines, "\n")
}

func summaryFor(evType eventbus.EventType) string {
	switch evType {
	case eventbus.EventPRCreated:
		return "PR created"
	case eventbus.EventReviewPending:
		return "review pending"
	case eventbus.EventReviewChangesReq:
		return "changes requested"
	case eventbus.EventReviewApproved:
		return "review approved"
	case eventbus.EventMergeReady:
		return "ready to merge"
	default:
		return string(evType)
	}
}

var devSummaryMarkers = []string{"개발 요약:", "development summary:"}
var implSummaryMarkers = []string{"개발 구현:", "implementation details:"}

// devSummary implements the fallback chain: session metadata summary, then
// an extracted terminal-output section, then PR title, then issue title.
func devSummary(in Input) string {
	if v := in.Session.MetaGet("summary"); v != "" {
		return v
	}
	if v := extractSection(in.TerminalOutput, devSummaryMarkers); v != "" {
		return v
	}
	if in.Session.PR != nil && in.Session.PR.Title != "" {
		return in.Session.PR.Title
	}
	return in.IssueTitle
}

// implSummary implements the fallback chain: extracted terminal-output
// section, then a branch-name fallback.
func implSummary(in Input) string {
	if v := extractSection(in.TerminalOutput, implSummaryMarkers); v != "" {
		return v
	}
	if in.Session.Branch != "" {
		return "implementation on branch " + in.Session.Branch
	}
	return ""
}

// extractSection returns the text following the first matching marker up to
// the next blank line, or "" if no marker is found.
func extractSection(output string, markers []string) string {
	lower := strings.ToLower(output)
	for _, m := range markers {
		idx := strings.Index(lower, strings.ToLower(m))
		if idx == -1 {
			continue
		}
		rest := output[idx+len(m):]
		end := strings.Index(rest, "\n\n")
		if end == -1 {
			end = len(rest)
		}
		if section := strings.TrimSpace(rest[:end]); section != "" {
			return section
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= maxLineLen {
		return s
	}
	return s[:maxLineLen] + "..."
}
