package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithBaseURL("test-token", "acme", "widgets", server.URL)
}

func TestGetPRStateMapsMergedAndClosed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(ghPull{Merged: true})
	})

	state, err := c.GetPRState(context.Background(), &model.PRInfo{Number: 1})
	require.NoError(t, err)
	assert.Equal(t, plugin.PRStateMerged, state)
}

func TestGetCISummaryMapsFailureState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/commits/main/status")
		_ = json.NewEncoder(w).Encode(ghCombinedStatus{State: "failure"})
	})

	summary, err := c.GetCISummary(context.Background(), &model.PRInfo{Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, plugin.CISummaryFailing, summary)
}

func TestGetReviewDecisionChangesRequestedWins(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ghReview{
			{User: ghUser{Login: "alice"}, State: "APPROVED", SubmittedAt: "2026-01-01T00:00:00Z"},
			{User: ghUser{Login: "bob"}, State: "CHANGES_REQUESTED", SubmittedAt: "2026-01-02T00:00:00Z"},
		})
	})

	decision, err := c.GetReviewDecision(context.Background(), &model.PRInfo{Number: 1})
	require.NoError(t, err)
	assert.Equal(t, plugin.ReviewChangesRequested, decision)
}

func TestGetReviewDecisionLatestPerAuthorWins(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ghReview{
			{User: ghUser{Login: "alice"}, State: "CHANGES_REQUESTED", SubmittedAt: "2026-01-01T00:00:00Z"},
			{User: ghUser{Login: "alice"}, State: "APPROVED", SubmittedAt: "2026-01-02T00:00:00Z"},
		})
	})

	decision, err := c.GetReviewDecision(context.Background(), &model.PRInfo{Number: 1})
	require.NoError(t, err)
	assert.Equal(t, plugin.ReviewApproved, decision)
}

func TestGetMergeabilityReportsBlockerOnBlockedState(t *testing.T) {
	mergeable := true
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ghPull{Mergeable: &mergeable, MergeableState: "blocked"})
	})

	m, err := c.GetMergeability(context.Background(), &model.PRInfo{Number: 1})
	require.NoError(t, err)
	assert.False(t, m.Mergeable)
	require.Len(t, m.Blockers, 1)
	assert.Contains(t, m.Blockers[0], "blocked")
}

func TestMergePRSendsConfiguredMethod(t *testing.T) {
	var gotBody ghMergeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	err := c.MergePR(context.Background(), &model.PRInfo{Number: 1}, plugin.MergeRebase)
	require.NoError(t, err)
	assert.Equal(t, "rebase", gotBody.MergeMethod)
}

func TestListOpenPRsMapsAuthor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ghPull{
			{Number: 7, HTMLURL: "https://github.com/acme/widgets/pull/7", User: ghUser{Login: "alice"}, Head: ghRef{Ref: "feature-7"}},
		})
	})

	prs, err := c.ListOpenPRs(context.Background(), "proj1")
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, "alice", prs[0].Author)
	assert.Equal(t, "feature-7", prs[0].Branch)
}

func TestErrorResponseIncludesStatusCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetPRState(context.Background(), &model.PRInfo{Number: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
