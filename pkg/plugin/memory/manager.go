// Package memory provides an in-memory SessionManager, used by tests and by
// the daemon's dry-run mode where no real runtime is attached. Grounded on
// the teacher's pkg/session.Manager: a mutex-protected map, no persistence.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// SpawnFunc lets a test or dry-run caller control what a Spawn call produces
// (e.g. a fake runtime handle) without SessionManager depending on workspace
// cloning or process-launch mechanics, both explicitly out of scope.
type SpawnFunc func(projectID, issueID string, seq int) *model.Session

// Manager is a bare in-memory SessionManager: Spawn synthesizes a Session,
// Send/Kill just mutate state, nothing touches disk or a real process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*model.Session
	seq      int
	prefix   string
	now      func() time.Time
	spawn    SpawnFunc
	sent     []SentMessage
}

// SentMessage records one Send call, for test assertions.
type SentMessage struct {
	SessionID model.SessionID
	Message   string
}

// NewManager builds a Manager whose synthesized session ids are
// "<prefix>-<n>". now defaults to time.Now; spawn defaults to a plain
// session with StatusSpawning.
func NewManager(prefix string, now func() time.Time, spawn SpawnFunc) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions: make(map[model.SessionID]*model.Session),
		prefix:   prefix,
		now:      now,
		spawn:    spawn,
	}
}

// Seed installs a session directly, bypassing Spawn — used by tests that
// want to start from a specific session snapshot.
func (m *Manager) Seed(s *model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Spawn creates a new session under m.prefix.
func (m *Manager) Spawn(ctx context.Context, projectID, issueID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := model.SessionID(fmt.Sprintf("%s-%d", m.prefix, m.seq))
	now := m.now()

	var s *model.Session
	if m.spawn != nil {
		s = m.spawn(projectID, issueID, m.seq)
		s.ID = id
	} else {
		s = &model.Session{
			ID:             id,
			ProjectID:      projectID,
			IssueID:        issueID,
			CreatedAt:      now,
			LastActivityAt: now,
			Status:         model.StatusSpawning,
			Metadata:       make(map[string]string),
		}
	}
	m.sessions[id] = s
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("memory: %w: %s", plugin.ErrNotSupported, id)
	}
	return s, nil
}

// List returns every session, optionally filtered by projectID.
func (m *Manager) List(ctx context.Context, projectID string) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if projectID != "" && s.ProjectID != projectID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Send records a message sent to a session. It never fails in this
// implementation; tests that need a Send failure should wrap Manager.
func (m *Manager) Send(ctx context.Context, id model.SessionID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{SessionID: id, Message: message})
	return nil
}

// Sent returns every message recorded by Send so far.
func (m *Manager) Sent() []SentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// AdoptSession reserves a new id under m.prefix for a PR discovered by
// External PR Adoption (§4.8): no runtime, status pr_open, Adopted=true.
func (m *Manager) AdoptSession(ctx context.Context, projectID string, pr *model.PRInfo, metadata map[string]string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := model.SessionID(fmt.Sprintf("%s-%d", m.prefix, m.seq))
	now := m.now()

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	s := &model.Session{
		ID:             id,
		ProjectID:      projectID,
		Branch:         pr.Branch,
		PR:             pr,
		CreatedAt:      now,
		LastActivityAt: now,
		Status:         model.StatusPROpen,
		Metadata:       meta,
		Adopted:        true,
	}
	m.sessions[id] = s
	return s, nil
}

// Kill marks a session as killed and removes its runtime handle.
func (m *Manager) Kill(ctx context.Context, id model.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	s.Status = model.StatusKilled
	s.RuntimeHandle = nil
	return nil
}
