// Package router implements the Transition Router (§4.2): given a status
// change, it persists the new status, decides which reaction keys fire, and
// reports which reaction trackers the engine should clear.
package router

import (
	"context"

	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// transitionRow is one entry of the fixed status -> (event, reaction keys)
// table (§4.2 step 4).
type transitionRow struct {
	event     eventbus.EventType
	reactions []model.ReactionKey
}

var transitionTable = map[model.SessionStatus]transitionRow{
	model.StatusWorking: {
		event: eventbus.EventSessionWorking,
	},
	model.StatusPROpen: {
		event:     eventbus.EventPRCreated,
		reactions: []model.ReactionKey{model.ReactionIssueProgressPROpened},
	},
	model.StatusCIFailed: {
		event:     eventbus.EventCIFailing,
		reactions: []model.ReactionKey{model.ReactionCIFailed},
	},
	model.StatusReviewPending: {
		event:     eventbus.EventReviewPending,
		reactions: []model.ReactionKey{model.ReactionAutoReview, model.ReactionIssueProgressReviewUpdate},
	},
	model.StatusChangesRequested: {
		event:     eventbus.EventReviewChangesReq,
		reactions: []model.ReactionKey{model.ReactionChangesRequested, model.ReactionIssueProgressReviewUpdate},
	},
	model.StatusApproved: {
		event:     eventbus.EventReviewApproved,
		reactions: []model.ReactionKey{model.ReactionIssueProgressReviewUpdate},
	},
	model.StatusMergeable: {
		event:     eventbus.EventMergeReady,
		reactions: []model.ReactionKey{model.ReactionApprovedAndGreen, model.ReactionIssueProgressReviewUpdate},
	},
	model.StatusMerged: {
		event:     eventbus.EventMergeCompleted,
		reactions: []model.ReactionKey{model.ReactionIssueCompleted},
	},
	model.StatusNeedsInput: {
		event:     eventbus.EventSessionNeedsInput,
		reactions: []model.ReactionKey{model.ReactionAgentNeedsInput},
	},
	model.StatusStuck: {
		event:     eventbus.EventSessionStuck,
		reactions: []model.ReactionKey{model.ReactionAgentStuck},
	},
	model.StatusKilled: {
		event:     eventbus.EventSessionKilled,
		reactions: []model.ReactionKey{model.ReactionAgentExited},
	},
	model.StatusErrored: {
		event: eventbus.EventSessionErrored,
	},
}

// TransitionFor returns the event type and reaction keys the fixed table
// (§4.2 step 4) assigns to status. Statuses absent from the table (spawning)
// yield no event and no reactions.
func TransitionFor(status model.SessionStatus) (eventbus.EventType, []model.ReactionKey) {
	row, ok := transitionTable[status]
	if !ok {
		return "", nil
	}
	return row.event, row.reactions
}

// Result is what OnTransition reports back to the engine, which owns the
// reactionTrackers/allCompleteEmitted state and performs the corresponding
// mutations.
type Result struct {
	EventType               eventbus.EventType
	ReactionKeys            []model.ReactionKey
	OldReactionKeys         []model.ReactionKey
	ClearAllCompleteEmitted bool
}

// Router persists transitions and computes routing decisions. It holds no
// per-session state of its own — reactionTrackers and allCompleteEmitted
// live on the engine, mutated only from the engine's single cycle task.
type Router struct {
	metadata plugin.MetadataPort
}

// New builds a Router.
func New(metadata plugin.MetadataPort) *Router {
	return &Router{metadata: metadata}
}

// OnTransition implements §4.2 steps 1-4 for one session whose status just
// changed from oldStatus to session.Status.
func (r *Router) OnTransition(ctx context.Context, sessionsDir string, session *model.Session, oldStatus model.SessionStatus) (Result, error) {
	newStatus := session.Status

	if err := r.metadata.UpdateMetadata(ctx, sessionsDir, session.ID, map[string]string{"status": string(newStatus)}); err != nil {
		return Result{}, err
	}

	_, oldReactions := TransitionFor(oldStatus)
	newEvent, newReactions := TransitionFor(newStatus)

	return Result{
		EventType:               newEvent,
		ReactionKeys:            newReactions,
		OldReactionKeys:         oldReactions,
		ClearAllCompleteEmitted: !newStatus.IsTerminal(),
	}, nil
}
