package gate

import (
	"context"
	"fmt"
	"regexp"

	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// CompletionFailReason is the closed set of reasons a completion gate check
// fails, consumed by the complete-tracker-issue reaction to write acceptance
// metadata (§4.5).
type CompletionFailReason string

// The closed set of completion-gate failure reasons.
const (
	FailNone                   CompletionFailReason = ""
	FailNoChecklist            CompletionFailReason = "no_checklist"
	FailInvalidEvidencePattern CompletionFailReason = "invalid_evidence_pattern"
	FailMissingEvidence        CompletionFailReason = "missing_evidence"
	FailChecklistIncomplete    CompletionFailReason = "checklist_incomplete"
)

// CompletionConfig configures the completion gate (§6 automation.completionGate).
type CompletionConfig struct {
	Enabled                   bool
	EvidencePattern           string
	SyncChecklistFromEvidence bool
}

// CompletionResult is the outcome of evaluating the completion gate for one
// issue.
type CompletionResult struct {
	Pass                 bool
	FailReason           CompletionFailReason
	Checklist            ChecklistSummary
	CanAutoSyncChecklist bool
}

// EvaluateCompletion implements §4.5 steps 1-6: checklist scan, evidence
// pattern match across description + comments, and the
// complete/incomplete/auto-sync decision.
func EvaluateCompletion(ctx context.Context, tracker plugin.Tracker, issueID, projectID string, cfg CompletionConfig) (CompletionResult, error) {
	issue, err := tracker.GetIssue(ctx, issueID, projectID)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("gate: get issue %s: %w", issueID, err)
	}

	checklist := SummarizeChecklist(issue.Description)
	if checklist.Total == 0 {
		return CompletionResult{Pass: false, FailReason: FailNoChecklist, Checklist: checklist}, nil
	}

	pattern, err := regexp.Compile("(?i)" + cfg.EvidencePattern)
	if err != nil {
		return CompletionResult{Pass: false, FailReason: FailInvalidEvidencePattern, Checklist: checklist}, nil
	}

	texts := []string{issue.Description}
	if comments, err := tracker.ListComments(ctx, issueID, projectID); err == nil {
		for _, c := range comments {
			texts = append(texts, c.Body)
		}
	}

	hasEvidence := false
	for _, t := range texts {
		if pattern.MatchString(t) {
			hasEvidence = true
			break
		}
	}
	if !hasEvidence {
		return CompletionResult{Pass: false, FailReason: FailMissingEvidence, Checklist: checklist}, nil
	}

	if checklist.Unchecked > 0 {
		if cfg.SyncChecklistFromEvidence {
			return CompletionResult{Pass: true, Checklist: checklist, CanAutoSyncChecklist: true}, nil
		}
		return CompletionResult{Pass: false, FailReason: FailChecklistIncomplete, Checklist: checklist}, nil
	}

	return CompletionResult{Pass: true, Checklist: checklist, CanAutoSyncChecklist: false}, nil
}

// AcceptanceMetadata builds the acceptance_* sidecar metadata fields
// written by complete-tracker-issue after evaluating the gate.
func AcceptanceMetadata(checklist ChecklistSummary, status string) map[string]string {
	return map[string]string{
		"acceptance_total":     itoa(checklist.Total),
		"acceptance_checked":   itoa(checklist.Checked),
		"acceptance_unchecked": itoa(checklist.Unchecked),
		"acceptance_status":    status,
	}
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

// StatusReasonFor maps a CompletionFailReason to the acceptance_status value
// the complete-tracker-issue action stamps on gate failure.
func StatusReasonFor(reason CompletionFailReason) string {
	switch reason {
	case FailNoChecklist:
		return "blocked_no_checkboxes"
	case FailMissingEvidence:
		return "blocked_missing_evidence"
	case FailChecklistIncomplete:
		return "blocked_checklist_incomplete"
	case FailInvalidEvidencePattern:
		return "blocked_gate_error"
	default:
		return "blocked_gate_error"
	}
}
