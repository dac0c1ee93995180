package slack

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase",
			input:    "Session CI Failing for project",
			expected: "session ci failing for project",
		},
		{
			name:     "collapse whitespace",
			input:    "session   ci\t\tfailing\n\nfor project",
			expected: "session ci failing for project",
		},
		{
			name:     "trim",
			input:    "  hello  ",
			expected: "hello",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "mixed case and whitespace",
			input:    "  agentctl:   app-1:   ci.failing  ",
			expected: "agentctl: app-1: ci.failing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeText(tt.input))
		})
	}
}

func TestCollectMessageText(t *testing.T) {
	tests := []struct {
		name     string
		msg      goslack.Message
		expected string
	}{
		{
			name:     "text only",
			msg:      goslack.Message{Msg: goslack.Msg{Text: "hello world"}},
			expected: "hello world",
		},
		{
			name: "text with attachment text",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Text:        "alert",
					Attachments: []goslack.Attachment{{Text: "ci failing"}},
				},
			},
			expected: "alert ci failing",
		},
		{
			name: "text with attachment fallback",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Text:        "alert",
					Attachments: []goslack.Attachment{{Fallback: "ci failing fallback"}},
				},
			},
			expected: "alert ci failing fallback",
		},
		{
			name: "attachment with both text and fallback",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Attachments: []goslack.Attachment{{Text: "att text", Fallback: "att fallback"}},
				},
			},
			expected: "att text att fallback",
		},
		{
			name:     "empty message",
			msg:      goslack.Message{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, collectMessageText(tt.msg))
		})
	}
}
