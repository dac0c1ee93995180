package github

import "time"

// parseGitHubTime parses a GitHub API RFC3339 timestamp into unix seconds.
// ok is false for an empty or malformed value; callers treat that as "no
// timestamp" rather than failing the whole request.
func parseGitHubTime(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}
