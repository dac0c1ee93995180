package memory

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/agentctl/pkg/model"
)

// MetadataStore is an in-memory plugin.MetadataPort, used by unit tests that
// want to assert on written metadata without touching disk.
type MetadataStore struct {
	mu   sync.Mutex
	data map[model.SessionID]map[string]string
}

// NewMetadataStore builds an empty MetadataStore.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{data: make(map[model.SessionID]map[string]string)}
}

// UpdateMetadata merges partial into the session's in-memory metadata map.
func (s *MetadataStore) UpdateMetadata(ctx context.Context, sessionsDir string, id model.SessionID, partial map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[id]
	if !ok {
		m = make(map[string]string)
		s.data[id] = m
	}
	for k, v := range partial {
		m[k] = v
	}
	return nil
}

// Get returns a copy of a session's current metadata.
func (s *MetadataStore) Get(id model.SessionID) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data[id]))
	for k, v := range s.data[id] {
		out[k] = v
	}
	return out
}
