// Package eventbus assembles typed lifecycle events with inferred priority
// (the Event Factory component, §2/§4.2) and optionally fans them out to a
// live dashboard feed over WebSocket.
package eventbus

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/agentctl/pkg/model"
)

// EventType names a lifecycle occurrence. These are plain strings (not a
// closed Go enum) because the set grows with reaction keys and plugin
// vocabulary; priority inference below matches on substrings deliberately,
// mirroring the source's "infer from type" rule.
type EventType string

// Event types named directly by the transition table (§4.2) and the
// reaction/gate subsystems.
const (
	EventSessionWorking        EventType = "session.working"
	EventPRCreated             EventType = "pr.created"
	EventCIFailing             EventType = "ci.failing"
	EventReviewPending         EventType = "review.pending"
	EventReviewChangesReq      EventType = "review.changes_requested"
	EventReviewApproved        EventType = "review.approved"
	EventMergeReady            EventType = "merge.ready"
	EventMergeCompleted        EventType = "merge.completed"
	EventSessionNeedsInput     EventType = "session.needs_input"
	EventSessionStuck          EventType = "session.stuck"
	EventSessionKilled         EventType = "session.killed"
	EventSessionErrored        EventType = "session.errored"
	EventReactionTriggered     EventType = "reaction.triggered"
	EventReactionEscalated     EventType = "reaction.escalated"
	EventIssueCommentAdded     EventType = "issue.comment_added"
)

// OrchestratorEvent is the typed event assembled by the Event Factory and
// carried through the reaction executor to notifiers.
type OrchestratorEvent struct {
	ID        string
	Type      EventType
	Priority  model.EventPriority
	SessionID model.SessionID
	ProjectID string
	Timestamp time.Time
	Message   string
	Data      map[string]any
}

// New assembles an event, inferring priority from Type when priority is the
// zero value. now is injected so callers stay deterministic under a fake
// clock.
func New(now time.Time, evType EventType, sessionID model.SessionID, projectID, message string, data map[string]any, priority model.EventPriority) OrchestratorEvent {
	if priority == "" {
		priority = InferPriority(evType)
	}
	return OrchestratorEvent{
		ID:        uuid.NewString(),
		Type:      evType,
		Priority:  priority,
		SessionID: sessionID,
		ProjectID: projectID,
		Timestamp: now,
		Message:   message,
		Data:      data,
	}
}

// InferPriority implements §4.2's priority inference table:
// urgent for stuck|needs_input|errored; action for
// approved|ready|merged|completed; warning for fail|changes_requested|
// conflicts; info for summary.* and everything else.
func InferPriority(evType EventType) model.EventPriority {
	s := string(evType)
	switch {
	case containsAny(s, "stuck", "needs_input", "errored"):
		return model.PriorityUrgent
	case containsAny(s, "approved", "ready", "merged", "completed"):
		return model.PriorityAction
	case containsAny(s, "fail", "changes_requested", "conflicts"):
		return model.PriorityWarning
	case strings.HasPrefix(s, "summary."):
		return model.PriorityInfo
	default:
		return model.PriorityInfo
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
