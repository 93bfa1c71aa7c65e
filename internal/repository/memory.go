package repository

import (
	"context"
	"sort"
	"sync"

	"dmagent/internal/core"
)

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.SessionState
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*core.SessionState)}
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (*core.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return state.Clone(), nil
}

func (s *MemorySessionStore) Save(_ context.Context, state *core.SessionState) error {
	stored, err := prepare(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[stored.ID] = stored
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) List(_ context.Context) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionInfo, 0, len(s.sessions))
	for _, state := range s.sessions {
		out = append(out, infoOf(state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
