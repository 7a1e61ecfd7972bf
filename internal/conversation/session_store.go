package conversation

import (
	"context"
	"errors"
	"sync"
)

var errSessionIDRequired = errors.New("conversation: session id required")

// MemorySessionStore keeps sessions in process memory without expiry.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errSessionIDRequired
	}
	s.mu.RLock()
	existing, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return existing.Clone(), nil
	}
	return NewSession(id), nil
}

func (s *MemorySessionStore) Save(_ context.Context, session *Session) error {
	if session == nil || session.SessionID == "" {
		return errSessionIDRequired
	}
	s.mu.Lock()
	s.sessions[session.SessionID] = session.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Reset(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
