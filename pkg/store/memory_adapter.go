package store

import (
	"context"
	"encoding/json"
	"sync"

	"reelsync/pkg/domain"
)

// MemoryAdapter keeps encoded documents in-process. It is synchronous and
// returns defaults for unknown identities.
type MemoryAdapter struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryAdapter initializes an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{docs: make(map[string][]byte)}
}

func (m *MemoryAdapter) Name() string  { return "memory" }
func (m *MemoryAdapter) IsAsync() bool { return false }

// Load returns the stored document or an empty state.
func (m *MemoryAdapter) Load(_ context.Context, id string) (domain.UserState, error) {
	id, err := normalizeID(id)
	if err != nil {
		return domain.UserState{}, err
	}
	m.mu.RLock()
	raw, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return emptyState(id), nil
	}
	var state domain.UserState
	if err := json.Unmarshal(raw, &state); err != nil {
		return emptyState(id), nil
	}
	return prepareLoaded(state, id), nil
}

// Save replaces the document for id.
func (m *MemoryAdapter) Save(_ context.Context, id string, state domain.UserState) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	state.ID = id
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[id] = raw
	m.mu.Unlock()
	return nil
}

// Clear removes the document for id.
func (m *MemoryAdapter) Clear(_ context.Context, id string) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

// Len reports how many documents are stored.
func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
