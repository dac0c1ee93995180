package slack

import (
	"fmt"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/model"
)

// maxBlockTextLength bounds a single Block Kit section's text. Event
// messages can carry pasted CI output or a stuck-recovery diagnostic, which
// may run long; this keeps the post under Slack's block size limit.
const maxBlockTextLength = 2900

var priorityEmoji = map[model.EventPriority]string{
	model.PriorityUrgent:  ":rotating_light:",
	model.PriorityAction:  ":white_check_mark:",
	model.PriorityWarning: ":warning:",
	model.PriorityInfo:    ":information_source:",
}

func sessionURL(sessionID model.SessionID, dashboardURL string) string {
	return fmt.Sprintf("%s/sessions/%s", dashboardURL, sessionID)
}

// buildEventMessage renders one OrchestratorEvent as Block Kit blocks: an
// emoji+type+message section, a project-id context block carrying
// fingerprint as its BlockID (unused by Slack's UI, but round-trips through
// conversations.history so findMessageByFingerprint can match on it even
// when the section text itself gets truncated), and — when a dashboard is
// configured — a "View Session" button.
func buildEventMessage(ev eventbus.OrchestratorEvent, dashboardURL, fingerprint string) []goslack.Block {
	emoji := priorityEmoji[ev.Priority]
	if emoji == "" {
		emoji = ":question:"
	}

	headerText := fmt.Sprintf("%s *%s*\n%s", emoji, ev.Type, truncateForSlack(ev.Message))

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
		nil, nil,
	))
	blocks = append(blocks, goslack.NewContextBlock(fingerprint,
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("project `%s`", ev.ProjectID), false, false),
	))

	if dashboardURL != "" && ev.SessionID != "" {
		url := sessionURL(ev.SessionID, dashboardURL)
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Session", false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

// truncateForSlack trims text to maxBlockTextLength runes, never splitting
// a multi-byte rune in half.
func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated — see session detail)_"
}
