package tokenstore

import (
	"context"
	"sync"

	"infractl/client/internal/tokenset/domain"
)

// MemoryStore is an in-process Store. Sessions that share one MemoryStore coordinate refreshes through it.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]*domain.TokenSet
}

// NewMemoryStore returns an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]*domain.TokenSet)}
}

// Get returns a copy of the set stored for sessionKey.
func (s *MemoryStore) Get(ctx context.Context, sessionKey string) (*domain.TokenSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[sessionKey].Clone(), nil
}

// Set stores a copy of ts for sessionKey, or deletes the key when ts is nil.
func (s *MemoryStore) Set(ctx context.Context, sessionKey string, ts *domain.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts == nil {
		delete(s.m, sessionKey)
		return nil
	}
	s.m[sessionKey] = ts.Clone()
	return nil
}
