// Package slack implements a plugin.Notifier backed by Slack Block Kit
// messages: one post per OrchestratorEvent, threaded by (sessionID, event
// type) so repeated escalations of the same reaction collapse into one
// Slack thread instead of spamming the channel. The API wrapper and
// fingerprint-search machinery are grounded on the teacher's pkg/slack, but
// rebuilt around agentctl's own event/session vocabulary rather than
// imported as-is: there is no "session started" / "session terminal" phase
// split here (orchestrator events aren't two-phase), so the teacher's two
// message builders collapse into the single buildEventMessage in
// message.go, keyed on event priority instead of an analysis-status enum.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
)

// Config holds the parameters needed to construct a Notifier.
type Config struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Notifier delivers OrchestratorEvents to a Slack channel.
type Notifier struct {
	client       *apiClient
	dashboardURL string
	logger       *slog.Logger
}

// New builds a Notifier backed by a real Slack API client.
func New(cfg Config) *Notifier {
	return &Notifier{
		client:       newAPIClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notifier.slack"),
	}
}

// newWithAPIURL builds a Notifier pointed at a custom Slack API URL, for
// tests.
func newWithAPIURL(token, channel, dashboardURL, apiURL string) *Notifier {
	return &Notifier{
		client:       newAPIClientWithAPIURL(token, channel, apiURL),
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notifier.slack"),
	}
}

// Notify implements plugin.Notifier. ev must be an eventbus.OrchestratorEvent;
// anything else is rejected rather than silently dropped, since a Notifier
// registered under the wrong slot is a wiring mistake worth surfacing.
func (n *Notifier) Notify(ctx context.Context, ev any) error {
	event, ok := ev.(eventbus.OrchestratorEvent)
	if !ok {
		return fmt.Errorf("notifier/slack: unexpected event type %T", ev)
	}

	fingerprint := threadFingerprint(event)
	threadTS, err := n.client.findMessageByFingerprint(ctx, fingerprint)
	if err != nil {
		n.logger.Warn("failed to find Slack thread for event", "session_id", event.SessionID, "error", err)
	}

	blocks := buildEventMessage(event, n.dashboardURL, fingerprint)
	if err := n.client.postMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		return fmt.Errorf("notifier/slack: post message: %w", err)
	}
	return nil
}

// threadFingerprint identifies the Slack thread a given session's reaction
// escalations for eventType should collapse into.
func threadFingerprint(ev eventbus.OrchestratorEvent) string {
	return fmt.Sprintf("agentctl:%s:%s", ev.SessionID, ev.Type)
}
