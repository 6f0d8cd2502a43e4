// Package store defines the session registry interface and implementations.
package store

import (
	"crypto/rand"
	"fmt"

	"github.com/groupdec/mediator/internal/domain"
)

// Store is the narrow registry interface the service depends on. Keeping it
// this small lets an external registry replace the in-memory one without
// touching orchestration logic.
type Store interface {
	// Put registers a session under its id and invite code.
	Put(session *domain.Session) error
	// Get returns the session with the given id.
	Get(sessionID string) (*domain.Session, bool)
	// FindByCode returns the session with the given invite code.
	// Lookup is case-insensitive.
	FindByCode(inviteCode string) (*domain.Session, bool)
	// Delete removes a session and its invite-code index entry.
	Delete(sessionID string)
	// List returns all registered sessions.
	List() []*domain.Session
}

// inviteAlphabet avoids characters that read ambiguously (O/0, I/1).
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewInviteCode generates a short human-friendly invite code. Uniqueness is
// the caller's concern; retry against FindByCode on collision.
func NewInviteCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}
	for i, b := range buf {
		buf[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(buf), nil
}
