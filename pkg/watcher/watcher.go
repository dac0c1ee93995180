// Package watcher implements the Comment Watcher (§4.9): first-observation
// stamping, delta detection against lastCommentTimestamps, author filtering,
// and concatenated-comment-block reaction triggering.
package watcher

import (
	"context"
	"strings"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// Config configures the comment watcher for one session (derived from the
// project's "issue-commented" reaction, §6).
type Config struct {
	Enabled bool
	Authors []string // empty means unfiltered
}

// Input bundles one session's comment-watch cycle.
type Input struct {
	IssueID     string
	ProjectID   string
	Tracker     plugin.Tracker
	Config      Config
	Now         time.Time
	LastSeenAt  time.Time
	HasLastSeen bool
}

// Result reports what to do this cycle.
type Result struct {
	// FirstObservation is true when this session had no prior
	// lastCommentTimestamps entry — the caller should stamp Now and return
	// without reacting (§4.9 skips initial comments).
	FirstObservation bool
	NewLastSeenAt    time.Time
	// CommentBlock is the concatenated "**@author** commented:\n<body>"
	// text (separated by "---") for any comments surviving the author
	// filter; empty when there's nothing to react to.
	CommentBlock string
	HasComments  bool
}

// Run implements §4.9.
func Run(ctx context.Context, in Input) (Result, error) {
	if !in.HasLastSeen {
		return Result{FirstObservation: true, NewLastSeenAt: in.Now}, nil
	}

	comments, err := in.Tracker.GetIssueComments(ctx, in.IssueID, in.ProjectID, in.LastSeenAt.Unix())
	if err != nil {
		return Result{}, err
	}
	if len(comments) == 0 {
		return Result{NewLastSeenAt: in.LastSeenAt}, nil
	}

	newest := in.LastSeenAt
	for _, c := range comments {
		t := time.Unix(c.CreatedAt, 0)
		if t.After(newest) {
			newest = t
		}
	}

	filtered := filterAuthors(comments, in.Config.Authors)
	if len(filtered) == 0 {
		return Result{NewLastSeenAt: newest}, nil
	}

	return Result{
		NewLastSeenAt: newest,
		CommentBlock:  buildCommentBlock(filtered),
		HasComments:   true,
	}, nil
}

func filterAuthors(comments []plugin.Comment, authors []string) []plugin.Comment {
	if len(authors) == 0 {
		return comments
	}
	allowed := make(map[string]bool, len(authors))
	for _, a := range authors {
		allowed[a] = true
	}
	var out []plugin.Comment
	for _, c := range comments {
		if allowed[c.Author] {
			out = append(out, c)
		}
	}
	return out
}

func buildCommentBlock(comments []plugin.Comment) string {
	var b strings.Builder
	for i, c := range comments {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString("**@")
		b.WriteString(c.Author)
		b.WriteString("** commented:\n")
		b.WriteString(c.Body)
	}
	return b.String()
}
