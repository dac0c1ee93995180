package githubissues

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithBaseURL("test-token", "acme", "widgets", server.URL)
}

func TestGetIssueMapsFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/issues/42")
		_ = json.NewEncoder(w).Encode(ghIssue{Number: 42, Title: "fix the thing", Body: "details"})
	})

	issue, err := c.GetIssue(context.Background(), "42", "proj1")
	require.NoError(t, err)
	assert.Equal(t, "42", issue.ID)
	assert.Equal(t, "fix the thing", issue.Title)
}

func TestListIssuesAppendsWorkflowStateLabel(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]ghIssue{{Number: 1}})
	})

	issues, err := c.ListIssues(context.Background(), plugin.IssueFilter{WorkflowStateName: "ready"}, "proj1")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, gotQuery, "labels=state%3Aready")
}

func TestGetIssueCommentsFiltersBySinceBoundary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ghComment{
			{Body: "old", User: ghAssignee{Login: "alice"}, CreatedAt: "2026-01-01T00:00:00Z"},
			{Body: "new", User: ghAssignee{Login: "bob"}, CreatedAt: "2026-01-03T00:00:00Z"},
		})
	})

	since, _ := parseGitHubTime("2026-01-02T00:00:00Z")
	comments, err := c.GetIssueComments(context.Background(), "1", "proj1", since)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "new", comments[0].Body)
}

func TestUpdateIssuePreservesOtherLabelsWhileReplacingState(t *testing.T) {
	var patchBody ghIssueUpdateRequest
	requests := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(ghIssue{Number: 1, Labels: []ghLabel{{Name: "bug"}, {Name: "state:todo"}}})
		case http.MethodPatch:
			_ = json.NewDecoder(r.Body).Decode(&patchBody)
			w.WriteHeader(http.StatusOK)
		}
	})

	err := c.UpdateIssue(context.Background(), "1", plugin.IssueUpdate{WorkflowStateName: "in-progress"}, "proj1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bug", "state:in-progress"}, patchBody.Labels)
}
