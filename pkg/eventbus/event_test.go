package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/agentctl/pkg/model"
)

func TestInferPriorityMatchesSubstringTable(t *testing.T) {
	cases := map[EventType]model.EventPriority{
		EventSessionStuck:      model.PriorityUrgent,
		EventSessionNeedsInput: model.PriorityUrgent,
		EventSessionErrored:    model.PriorityUrgent,
		EventReviewApproved:    model.PriorityAction,
		EventMergeReady:        model.PriorityAction,
		EventMergeCompleted:    model.PriorityAction,
		EventCIFailing:         model.PriorityWarning,
		EventReviewChangesReq:  model.PriorityWarning,
		EventSessionWorking:    model.PriorityInfo,
		"summary.daily":        model.PriorityInfo,
	}
	for evType, want := range cases {
		assert.Equal(t, want, InferPriority(evType), "event type %s", evType)
	}
}

func TestNewAssignsIDAndInfersPriorityWhenUnset(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := New(now, EventSessionStuck, "sess-1", "proj-1", "stuck", nil, "")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, model.PriorityUrgent, ev.Priority)
	assert.Equal(t, now, ev.Timestamp)
}

func TestNewRespectsExplicitPriority(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := New(now, EventSessionWorking, "sess-1", "proj-1", "working", nil, model.PriorityUrgent)

	assert.Equal(t, model.PriorityUrgent, ev.Priority)
}
