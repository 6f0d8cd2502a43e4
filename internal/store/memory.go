package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/groupdec/mediator/internal/domain"
)

// MemoryStore is the in-memory Store implementation. The maps are guarded by
// the mutex; the sessions themselves are mutated by the service under its
// per-session locks, not here.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session // session_id -> session
	codes    map[string]string          // invite code -> session_id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		codes:    make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// Put registers a session under its id and invite code.
func (s *MemoryStore) Put(session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.codes[session.InviteCode]; ok && other != session.ID {
		return fmt.Errorf("invite code %s already in use", session.InviteCode)
	}
	s.sessions[session.ID] = session
	s.codes[session.InviteCode] = session.ID
	return nil
}

// Get returns the session with the given id.
func (s *MemoryStore) Get(sessionID string) (*domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// FindByCode returns the session with the given invite code.
func (s *MemoryStore) FindByCode(inviteCode string) (*domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[strings.ToUpper(strings.TrimSpace(inviteCode))]
	if !ok {
		return nil, false
	}
	session, ok := s.sessions[id]
	return session, ok
}

// Delete removes a session and its invite-code index entry.
func (s *MemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		delete(s.codes, session.InviteCode)
		delete(s.sessions, sessionID)
	}
}

// List returns all registered sessions.
func (s *MemoryStore) List() []*domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}
