// Package metadata provides the reference MetadataPort implementation: a
// per-session JSON sidecar file (<sessionsDir>/<sessionId>/metadata.json), written
// through a single-writer-per-sessionId guarantee (§5, §9).
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/codeready-toolchain/agentctl/pkg/model"
)

const fileName = "metadata.json"

// FileStore writes session metadata as a JSON object at
// <sessionsDir>/<sessionId>/metadata.json, read-modify-write under a mutex
// keyed by sessionId so concurrent reactions touching the same session never
// interleave writes (the single-writer rule the core's design notes call for).
type FileStore struct {
	mu    sync.Mutex
	locks map[model.SessionID]*sync.Mutex
}

// NewFileStore builds an empty FileStore.
func NewFileStore() *FileStore {
	return &FileStore{locks: make(map[model.SessionID]*sync.Mutex)}
}

func (s *FileStore) lockFor(id model.SessionID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// UpdateMetadata merges partial into the session's existing metadata file,
// creating the file (and its directory) if absent.
func (s *FileStore) UpdateMetadata(ctx context.Context, sessionsDir string, id model.SessionID, partial map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Join(sessionsDir, string(id))
	path := filepath.Join(dir, fileName)

	existing, err := readFile(path)
	if err != nil {
		return fmt.Errorf("metadata: read %s: %w", path, err)
	}

	for k, v := range partial {
		existing[k] = v
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("metadata: mkdir %s: %w", dir, err)
	}

	encoded, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshal: %w", err)
	}

	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("metadata: write %s: %w", path, err)
	}

	return nil
}

// Read returns a session's current sidecar metadata, or an empty map if the
// file does not yet exist.
func (s *FileStore) Read(sessionsDir string, id model.SessionID) (map[string]string, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	path := filepath.Join(sessionsDir, string(id), fileName)
	return readFile(path)
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]string)
	}
	return m, nil
}
