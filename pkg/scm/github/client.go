// Package github implements plugin.SCM against the GitHub REST API, plain
// net/http plus a bearer token, grounded on the teacher's
// pkg/runbook.GitHubClient (same auth-header helper, same bare-JSON-decode
// shape, no generated SDK).
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

const defaultBaseURL = "https://api.github.com"

// Client is a single project's GitHub SCM plugin instance: one owner/repo
// pair, one token. Projects with different repos register separate named
// Client instances in the plugin registry.
type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
	owner      string
	repo       string
	logger     *slog.Logger
}

// New creates a Client for owner/repo using the real GitHub API. token may
// be empty for public repos (subject to GitHub's lower unauthenticated rate
// limit).
func New(token, owner, repo string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		baseURL:    defaultBaseURL,
		owner:      owner,
		repo:       repo,
		logger:     slog.Default().With("component", "scm.github"),
	}
}

// NewWithBaseURL builds a Client pointed at an alternate API base, for tests
// against an httptest.Server.
func NewWithBaseURL(token, owner, repo, baseURL string) *Client {
	c := New(token, owner, repo)
	c.baseURL = baseURL
	return c
}

var _ plugin.SCM = (*Client)(nil)

func (c *Client) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}

// doJSON issues method to path (relative to baseURL), optionally encoding
// body as the request JSON payload, and decodes a JSON response into out
// (nil skips decoding, e.g. for 204 responses).
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("scm/github: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("scm/github: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scm/github: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("scm/github: %s %s returned HTTP %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("scm/github: decode response for %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", c.owner, c.repo, suffix)
}
