// Package review implements review-decision filtering (§4.8) and, together
// with pkg/engine, External PR Adoption.
package review

import (
	"context"

	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// FilteredDecisionFunc resolves a PR's review decision, optionally folded
// over an allowed-authors list. Classifier and the merge gate both take one
// of these as a dependency rather than calling scm.GetReviewDecision
// directly, so allowedUsers filtering applies consistently everywhere a
// review decision is consulted.
type FilteredDecisionFunc func(ctx context.Context, scm plugin.SCM, pr *model.PRInfo) (plugin.ReviewDecision, error)

// Filter builds a FilteredDecisionFunc bound to allowedUsers. When
// allowedUsers is empty, it degrades to scm.GetReviewDecision unfiltered
// (§8 boundary: "allowedUsers=[] (unset) -> unfiltered behavior preserved").
func Filter(allowedUsers []string) FilteredDecisionFunc {
	if len(allowedUsers) == 0 {
		return func(ctx context.Context, scm plugin.SCM, pr *model.PRInfo) (plugin.ReviewDecision, error) {
			return scm.GetReviewDecision(ctx, pr)
		}
	}
	allowed := make(map[string]bool, len(allowedUsers))
	for _, u := range allowedUsers {
		allowed[u] = true
	}
	return func(ctx context.Context, scm plugin.SCM, pr *model.PRInfo) (plugin.ReviewDecision, error) {
		reviews, err := scm.GetReviews(ctx, pr)
		if err != nil {
			return "", err
		}
		return FoldReviews(reviews, allowed), nil
	}
}

// FoldReviews implements getFilteredReviewDecision (§4.8): collapse reviews
// by author keeping the latest, restrict to allowed authors, then fold:
// any changes_requested wins outright; else all approved -> approved; else
// any pending/commented -> pending; else none.
func FoldReviews(reviews []plugin.Review, allowed map[string]bool) plugin.ReviewDecision {
	latest := make(map[string]plugin.Review, len(reviews))
	for _, r := range reviews {
		if allowed != nil && !allowed[r.Author] {
			continue
		}
		if cur, ok := latest[r.Author]; !ok || r.CreatedAt >= cur.CreatedAt {
			latest[r.Author] = r
		}
	}

	if len(latest) == 0 {
		return plugin.ReviewNone
	}

	sawPending := false
	allApproved := true
	for _, r := range latest {
		switch r.Decision {
		case plugin.ReviewChangesRequested:
			return plugin.ReviewChangesRequested
		case plugin.ReviewApproved:
			// stays eligible for allApproved
		default:
			allApproved = false
			sawPending = true
		}
	}

	if allApproved {
		return plugin.ReviewApproved
	}
	if sawPending {
		return plugin.ReviewPending
	}
	return plugin.ReviewNone
}

// ShouldScanForAdoption reports whether this poll cycle is one of the every-
// Nth cycles on which External PR Adoption runs (§4.8). everyN <= 0 disables
// scanning.
func ShouldScanForAdoption(counter, everyN int) bool {
	if everyN <= 0 {
		return false
	}
	return counter%everyN == 0
}

// FilterAllowedAuthors restricts prs to those authored by an allowed user.
// An empty allowed set matches no PR — callers only invoke External PR
// Adoption when allowedUsers is configured, so an empty result here means
// no PRs matched, not "unfiltered".
func FilterAllowedAuthors(prs []model.PRInfo, allowed []string) []model.PRInfo {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	var out []model.PRInfo
	for _, pr := range prs {
		if allowedSet[pr.Author] {
			out = append(out, pr)
		}
	}
	return out
}

// AdoptedMetadata builds the sidecar metadata an adopted session is
// synthesized with (§4.8): no runtime exists, so send-to-agent reactions on
// it downgrade to notify.
func AdoptedMetadata(pr model.PRInfo) map[string]string {
	return map[string]string{
		"branch":  pr.Branch,
		"status":  "pr_open",
		"pr":      pr.URL,
		"adopted": "true",
	}
}
