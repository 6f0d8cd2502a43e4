// Package service implements the round orchestration and consensus engine:
// session lifecycle, round collection with timeout and grace-period handling,
// synthesis of voting options from an unreliable generation call, and vote
// tallying with tie-break resolution.
package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/groupdec/mediator/internal/adapter/llm"
	"github.com/groupdec/mediator/internal/audit"
	"github.com/groupdec/mediator/internal/config"
	"github.com/groupdec/mediator/internal/domain"
	"github.com/groupdec/mediator/internal/store"
	"github.com/groupdec/mediator/policy"
)

// Validation errors returned synchronously to callers. None of these affect
// session state.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrSessionClosed     = errors.New("session already completed or cancelled")
	ErrSessionFull       = errors.New("session has reached the maximum number of participants")
	ErrWrongState        = errors.New("session is not in the required state")
	ErrNotMember         = errors.New("not a member of this session")
	ErrNotAllowed        = errors.New("action not allowed for this member")
	ErrTooFewMembers     = errors.New("need at least 2 members to start")
	ErrNoActiveRound     = errors.New("no active round")
	ErrAlreadyResponded  = errors.New("response already submitted for this round")
	ErrScopingAdminOnly  = errors.New("waiting for the admin to set session constraints")
	ErrNoDecision        = errors.New("no voting options available")
	ErrInvalidOption     = errors.New("invalid option")
)

// Notifier delivers a private message to one member of a session.
// Best-effort: a failure for one recipient must not abort a broadcast.
type Notifier interface {
	Deliver(ctx context.Context, sessionID, memberID, text string) error
}

// Service is the orchestration engine. All state mutation for a session
// happens under that session's lock; unrelated sessions proceed in parallel.
type Service struct {
	store    store.Store
	llm      llm.Client
	notifier Notifier
	trail    audit.Trail
	policy   *policy.Engine
	cfg      *config.Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // session_id -> lock

	timersMu sync.Mutex
	timers   map[string]*roundTimer // session_id -> active round timer

	// retryDelay is the fixed pause before the single generation retry.
	// Shortened in tests.
	retryDelay time.Duration
}

// New creates the engine with its collaborators.
func New(st store.Store, llmClient llm.Client, notifier Notifier, trail audit.Trail, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:      st,
		llm:        llmClient,
		notifier:   notifier,
		trail:      trail,
		policy:     policyEngine,
		cfg:        cfg,
		locks:      make(map[string]*sync.Mutex),
		timers:     make(map[string]*roundTimer),
		retryDelay: 2 * time.Second,
	}
}

// sessionLock returns the mutex serializing mutations for one session.
func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// authorize checks membership and evaluates the session policy for action.
func (s *Service) authorize(ctx context.Context, session *domain.Session, memberID, action string) error {
	m, ok := session.Members[memberID]
	if !ok || !m.Active {
		return ErrNotMember
	}
	allowed, err := s.policy.Allow(ctx, action, string(m.Role))
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return ErrNotAllowed
	}
	if !allowed {
		return ErrNotAllowed
	}
	return nil
}

// deliver sends one private message; failures are logged and swallowed.
func (s *Service) deliver(ctx context.Context, sessionID, memberID, text string) {
	if err := s.notifier.Deliver(ctx, sessionID, memberID, text); err != nil {
		log.Printf("WARN: failed to deliver message to member %s: %v", memberID, err)
	}
}

// broadcast sends a message to every active member of the session.
func (s *Service) broadcast(ctx context.Context, session *domain.Session, text string) {
	for _, m := range session.ActiveMembers() {
		s.deliver(ctx, session.ID, m.ID, text)
	}
}

// record writes an audit event; the trail is write-only and best-effort.
func (s *Service) record(ctx context.Context, sessionID, eventType string, payload interface{}) {
	if err := s.trail.Record(ctx, sessionID, eventType, payload); err != nil {
		log.Printf("WARN: failed to record audit event %s: %v", eventType, err)
	}
}

// completeSession marks a session COMPLETED and stamps the time.
func (s *Service) completeSession(ctx context.Context, session *domain.Session, reason string) {
	now := time.Now()
	session.Status = domain.StatusCompleted
	session.CompletedAt = &now
	s.record(ctx, session.ID, audit.EventSessionCompleted, map[string]string{"reason": reason})
}
