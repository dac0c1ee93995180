package slack

import (
	"regexp"
	"strings"

	goslack "github.com/slack-go/slack"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeText collapses whitespace and case so a fingerprint search isn't
// defeated by Slack's own markdown reformatting of a previously-posted
// message.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// collectMessageText gathers the searchable text of a history message: its
// body, any attachment text/fallback, and the BlockID of each context block,
// since buildEventMessage carries the fingerprint as a context block's
// BlockID rather than in the top-level message text.
func collectMessageText(msg goslack.Message) string {
	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, b := range msg.Blocks.BlockSet {
		if cb, ok := b.(*goslack.ContextBlock); ok && cb.BlockID != "" {
			parts = append(parts, cb.BlockID)
		}
	}
	for _, att := range msg.Attachments {
		if att.Text != "" {
			parts = append(parts, att.Text)
		}
		if att.Fallback != "" {
			parts = append(parts, att.Fallback)
		}
	}
	return strings.Join(parts, " ")
}
