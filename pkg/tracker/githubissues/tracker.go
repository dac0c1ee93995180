// Package githubissues implements plugin.Tracker against GitHub Issues,
// using the same bare net/http + bearer-token shape as pkg/scm/github
// (itself grounded on the teacher's pkg/runbook.GitHubClient).
package githubissues

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

const defaultBaseURL = "https://api.github.com"

// Client is one project's GitHub-Issues tracker plugin instance.
type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
	owner      string
	repo       string
	logger     *slog.Logger
}

// New creates a Client for owner/repo.
func New(token, owner, repo string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		baseURL:    defaultBaseURL,
		owner:      owner,
		repo:       repo,
		logger:     slog.Default().With("component", "tracker.githubissues"),
	}
}

// NewWithBaseURL builds a Client pointed at an alternate API base, for tests.
func NewWithBaseURL(token, owner, repo, baseURL string) *Client {
	c := New(token, owner, repo)
	c.baseURL = baseURL
	return c
}

var _ plugin.Tracker = (*Client)(nil)

func (c *Client) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tracker/githubissues: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("tracker/githubissues: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracker/githubissues: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tracker/githubissues: %s %s returned HTTP %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tracker/githubissues: decode response for %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", c.owner, c.repo, suffix)
}
