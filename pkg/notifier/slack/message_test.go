package slack

import (
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/model"
)

func testEvent() eventbus.OrchestratorEvent {
	return eventbus.OrchestratorEvent{
		SessionID: "app-1",
		ProjectID: "proj1",
		Type:      eventbus.EventCIFailing,
		Priority:  model.PriorityWarning,
		Message:   "CI is failing on your pull request",
	}
}

func TestTruncateForSlackLeavesShortTextUnchanged(t *testing.T) {
	text := "CI is failing on your pull request"
	assert.Equal(t, text, truncateForSlack(text))
}

func TestTruncateForSlackTruncatesAtRuneBoundary(t *testing.T) {
	// 🔥 is 4 bytes but one rune; a naive byte-slice at maxBlockTextLength
	// can split it even when maxBlockTextLength is itself divisible by 4,
	// once the surrounding text shifts the split point off the rune
	// boundary. Building the string out of single-byte 'a' runes plus a
	// handful of 🔥 guarantees byte length and rune length disagree.
	text := strings.Repeat("a", maxBlockTextLength-1) + strings.Repeat("🔥", 10)
	got := truncateForSlack(text)

	require.True(t, utf8.ValidString(got), "truncated text must remain valid UTF-8")
	runes := []rune(got)
	assert.Equal(t, maxBlockTextLength+len([]rune("\n\n_... (truncated — see session detail)_")), len(runes))
}

func TestBuildEventMessageOmitsActionBlockWithoutDashboard(t *testing.T) {
	blocks := buildEventMessage(testEvent(), "", "fp-1")
	assert.Len(t, blocks, 2)
}

func TestBuildEventMessageUnknownPriorityFallsBackToQuestionEmoji(t *testing.T) {
	ev := testEvent()
	ev.Priority = "made-up-priority"
	blocks := buildEventMessage(ev, "", "fp-1")
	require.NotEmpty(t, blocks)
	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, ":question:")
}
