package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

// apiClient is a thin wrapper around the slack-go SDK, scoped to the two
// operations the reaction notifier needs: posting a (possibly threaded)
// Block Kit message, and finding the thread for a prior event with the
// same fingerprint.
type apiClient struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// newAPIClient creates a client posting to channelID as token's bot user.
func newAPIClient(token, channelID string) *apiClient {
	return &apiClient{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "notifier.slack.client"),
	}
}

// newAPIClientWithAPIURL creates a client pointed at a custom API URL, for
// tests.
func newAPIClientWithAPIURL(token, channelID, apiURL string) *apiClient {
	return &apiClient{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "notifier.slack.client"),
	}
}

// postMessage sends a message to the configured channel. If threadTS is
// non-empty, the message is posted as a threaded reply — how repeated
// reaction escalations for the same session/event collapse into one thread
// instead of spamming the channel.
func (c *apiClient) postMessage(ctx context.Context, blocks []goslack.Block, threadTS string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

// findMessageByFingerprint searches recent channel history for a message
// carrying the given event fingerprint (see threadFingerprint) in its
// context block. Pages through up to 1000 messages from the last 24 hours.
// Returns the message timestamp (ts) for threading, or empty string if no
// prior message for this session/event exists yet.
func (c *apiClient) findMessageByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	oldest := fmt.Sprintf("%d", time.Now().Add(-24*time.Hour).Unix())
	normalizedFingerprint := normalizeText(fingerprint)

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Oldest:    oldest,
		Limit:     200,
	}

	const maxPages = 5
	for page := 0; page < maxPages; page++ {
		history, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return "", fmt.Errorf("conversations.history failed: %w", err)
		}

		for _, msg := range history.Messages {
			text := collectMessageText(msg)
			if strings.Contains(normalizeText(text), normalizedFingerprint) {
				return msg.Timestamp, nil
			}
		}

		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}

	return "", nil
}
