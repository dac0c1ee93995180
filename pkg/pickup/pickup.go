// Package pickup implements Queue Pickup (§4.7): per-project interval
// gating, issue listing/filtering, spawn-count/active-session limits, and
// the worktree-conflict retry-once path.
package pickup

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// Config configures queue pickup for one project (§6 project.queuePickup).
type Config struct {
	Enabled             bool
	IntervalSec         int
	PickupStateName     string
	TransitionStateName string
	RequireAoMetaQueued bool
	MaxSpawnPerCycle    int
	MaxActiveSessions   int
}

// WorktreeConflictFunc extracts the conflicting worktree path from a spawn
// error, or reports ok=false if the error names none.
type WorktreeConflictFunc func(err error) (path string, ok bool)

// ResolveWorktreeFunc reports whether the session (if any) owning path is
// terminal or untracked, i.e. safe to destroy and retry.
type ResolveWorktreeFunc func(path string) (sessionID model.SessionID, destroyable bool)

// Input bundles one project's pickup cycle inputs.
type Input struct {
	ProjectID      string
	Tracker        plugin.Tracker
	SessionManager plugin.SessionManager
	// ActiveSessions are the project's currently non-terminal sessions.
	ActiveSessions  []*model.Session
	Config          Config
	Now             time.Time
	LastRunAt       time.Time
	HasLastRun      bool
	WorktreeConflict WorktreeConflictFunc
	ResolveWorktree  ResolveWorktreeFunc
	DestroyWorktree  func(ctx context.Context, path string) error
}

// Result reports what one pickup cycle did.
type Result struct {
	Ran         bool
	SpawnedIssueIDs []string
	NewLastRunAt    time.Time
}

var aoMetaQueuedPattern = regexp.MustCompile(`(?s)AO_META.{0,2048}?pipeline=queued`)

var worktreePathPattern = regexp.MustCompile(`([^\s'"]*\.worktrees/[^\s'"]+)`)

// DefaultWorktreeConflictPath extracts a conflicting "~/.worktrees/..." path
// from a spawn error's message, if present.
func DefaultWorktreeConflictPath(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	m := worktreePathPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return "", false
	}
	return m[1], true
}

// WorktreeRoot is the engine-managed worktree root for a project
// ("~/.worktrees/{projectId}").
func WorktreeRoot(projectID string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".worktrees", projectID)
}

// Run implements §4.7. Ran is false when IntervalSec hasn't elapsed since
// LastRunAt, in which case the caller should not advance its bookkeeping.
func Run(ctx context.Context, in Input) Result {
	if in.HasLastRun && in.Now.Sub(in.LastRunAt) < time.Duration(in.Config.IntervalSec)*time.Second {
		return Result{Ran: false}
	}

	conflictFn := in.WorktreeConflict
	if conflictFn == nil {
		conflictFn = DefaultWorktreeConflictPath
	}

	issues, err := in.Tracker.ListIssues(ctx, plugin.IssueFilter{
		State:             "open",
		WorkflowStateName: in.Config.PickupStateName,
		Limit:             100,
	}, in.ProjectID)
	if err != nil {
		return Result{Ran: true, NewLastRunAt: in.Now}
	}

	activeIssueIDs := make(map[string]bool, len(in.ActiveSessions))
	for _, s := range in.ActiveSessions {
		if s.IssueID != "" {
			activeIssueIDs[s.IssueID] = true
		}
	}

	var spawned []string
	spawnedThisCycle := 0
	activeCount := len(in.ActiveSessions)
	root := WorktreeRoot(in.ProjectID)

	for _, issue := range issues {
		if activeIssueIDs[issue.ID] {
			continue
		}
		if in.Config.RequireAoMetaQueued && !aoMetaQueuedPattern.MatchString(issue.Description) {
			continue
		}
		if spawnedThisCycle == in.Config.MaxSpawnPerCycle || activeCount == in.Config.MaxActiveSessions {
			break
		}

		_, spawnErr := in.SessionManager.Spawn(ctx, in.ProjectID, issue.ID)
		if spawnErr != nil {
			spawnErr = retryAfterWorktreeConflict(ctx, in, root, spawnErr, issue.ID, conflictFn)
		}
		if spawnErr != nil {
			continue
		}

		spawnedThisCycle++
		activeCount++
		activeIssueIDs[issue.ID] = true
		spawned = append(spawned, issue.ID)

		if in.Config.TransitionStateName != "" {
			_ = in.Tracker.UpdateIssue(ctx, issue.ID, plugin.IssueUpdate{WorkflowStateName: in.Config.TransitionStateName}, in.ProjectID)
		}
	}

	return Result{Ran: true, SpawnedIssueIDs: spawned, NewLastRunAt: in.Now}
}

// retryAfterWorktreeConflict implements the retry-exactly-once path: if
// spawnErr names a conflicting worktree under this project's worktree root,
// and that worktree belongs to a terminal or untracked session, destroy it
// and retry the spawn once.
func retryAfterWorktreeConflict(ctx context.Context, in Input, root string, spawnErr error, issueID string, conflictFn WorktreeConflictFunc) error {
	path, ok := conflictFn(spawnErr)
	if !ok || in.ResolveWorktree == nil || !withinRoot(root, path) {
		return spawnErr
	}
	if _, destroyable := in.ResolveWorktree(path); !destroyable {
		return spawnErr
	}
	if in.DestroyWorktree != nil {
		if err := in.DestroyWorktree(ctx, path); err != nil {
			return spawnErr
		}
	}
	_, retryErr := in.SessionManager.Spawn(ctx, in.ProjectID, issueID)
	return retryErr
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}
