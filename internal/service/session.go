package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/groupdec/mediator/internal/audit"
	"github.com/groupdec/mediator/internal/domain"
	"github.com/groupdec/mediator/internal/prompt"
	"github.com/groupdec/mediator/internal/store"
)

const inviteCodeLength = 8

// Options are per-session overrides for the configured defaults. Zero values
// fall back to the service configuration.
type Options struct {
	MaxRounds      int
	TimeoutSeconds int
	MinResponsePct int
}

// CreateSession creates a session with the caller as admin and first member.
func (s *Service) CreateSession(ctx context.Context, topic, adminName, identity string, opts Options) (*domain.Session, error) {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = s.cfg.MaxRounds
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = int(s.cfg.RoundTimeout.Seconds())
	}
	if opts.MinResponsePct <= 0 {
		opts.MinResponsePct = s.cfg.MinResponsePct
	}

	code, err := s.newUniqueInviteCode()
	if err != nil {
		return nil, err
	}

	admin := &domain.Member{
		ID:       uuid.New().String(),
		Name:     adminName,
		Role:     domain.RoleAdmin,
		Identity: identity,
		JoinedAt: time.Now(),
		Active:   true,
	}

	session := &domain.Session{
		ID:             uuid.New().String(),
		InviteCode:     code,
		Topic:          topic,
		AdminID:        admin.ID,
		MaxRounds:      opts.MaxRounds,
		TimeoutSeconds: opts.TimeoutSeconds,
		MinResponsePct: opts.MinResponsePct,
		Members:        make(map[string]*domain.Member),
		Status:         domain.StatusCreated,
		Rounds:         make(map[int]*domain.RoundData),
		CreatedAt:      time.Now(),
	}
	session.AddMember(admin)

	if err := s.store.Put(session); err != nil {
		return nil, err
	}

	s.record(ctx, session.ID, audit.EventSessionCreated, map[string]interface{}{
		"topic":            topic,
		"admin":            adminName,
		"invite_code":      code,
		"max_rounds":       session.MaxRounds,
		"timeout_seconds":  session.TimeoutSeconds,
		"min_response_pct": session.MinResponsePct,
	})
	return session, nil
}

// newUniqueInviteCode generates a code not already registered.
func (s *Service) newUniqueInviteCode() (string, error) {
	for {
		code, err := store.NewInviteCode(inviteCodeLength)
		if err != nil {
			return "", err
		}
		if _, taken := s.store.FindByCode(code); !taken {
			return code, nil
		}
	}
}

// JoinSession adds a member to a session by invite code. Joining with an
// identity that is already a member returns the existing member rather than
// an error, so reconnecting clients are idempotent.
func (s *Service) JoinSession(ctx context.Context, inviteCode, name, identity string) (*domain.Session, *domain.Member, error) {
	session, ok := s.store.FindByCode(inviteCode)
	if !ok {
		return nil, nil, ErrInvalidInviteCode
	}

	lock := s.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	if session.Status.Terminal() {
		return nil, nil, ErrSessionClosed
	}
	if existing := session.MemberByIdentity(identity); existing != nil {
		return session, existing, nil
	}
	if len(session.Members) >= s.cfg.MaxParticipants {
		return nil, nil, ErrSessionFull
	}

	member := &domain.Member{
		ID:       uuid.New().String(),
		Name:     name,
		Role:     domain.RoleParticipant,
		Identity: identity,
		JoinedAt: time.Now(),
		Active:   true,
	}
	session.AddMember(member)

	s.record(ctx, session.ID, audit.EventMemberJoined, map[string]string{
		"member_id": member.ID,
		"name":      name,
	})
	return session, member, nil
}

// StartSession begins the decision process. With the scoping round enabled
// the admin is first asked for constraints (round 0); otherwise round 1
// opens immediately.
func (s *Service) StartSession(ctx context.Context, sessionID, memberID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := s.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.authorize(ctx, session, memberID, "start"); err != nil {
		return err
	}
	if session.Status != domain.StatusCreated {
		return ErrWrongState
	}
	if len(session.Members) < 2 {
		return ErrTooFewMembers
	}

	now := time.Now()
	session.StartedAt = &now
	s.record(ctx, sessionID, audit.EventSessionStarted, map[string]int{"members": len(session.Members)})

	if s.cfg.ScopingRound {
		s.startScoping(ctx, session)
		return nil
	}

	s.startRound(ctx, session, nil)
	return nil
}

// startScoping opens the round-0 admin scoping phase. Only the admin answers;
// their reply augments the topic before round 1 opens.
func (s *Service) startScoping(ctx context.Context, session *domain.Session) {
	session.Status = domain.StatusCollecting
	session.CurrentRound = 0

	scopeMsg, err := s.llm.Generate(ctx,
		prompt.Render(prompt.AdminElaboration, map[string]string{"topic": session.Topic}),
		prompt.System)
	if err != nil {
		log.Printf("WARN: scoping prompt generation failed, using fallback: %v", err)
		scopeMsg = fmt.Sprintf("Before we begin: what are the 2-3 most important constraints for deciding on '%s'?", session.Topic)
	}

	s.deliver(ctx, session.ID, session.AdminID, scopeMsg)
	for _, m := range session.ActiveMembers() {
		if m.ID != session.AdminID {
			s.deliver(ctx, session.ID, m.ID, "The admin is currently setting the session constraints. Please wait...")
		}
	}
}

// CancelSession cancels a session from any non-terminal state. The pending
// timer is stopped before the status change so a stale fire cannot re-enter
// the session.
func (s *Service) CancelSession(ctx context.Context, sessionID, memberID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := s.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.authorize(ctx, session, memberID, "cancel"); err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrWrongState
	}

	s.cancelTimer(sessionID)
	session.Status = domain.StatusCancelled

	s.broadcast(ctx, session, "This decision session has been cancelled.")
	s.record(ctx, sessionID, audit.EventSessionCancelled, map[string]string{"by": memberID})
	return nil
}

// GetSession returns a snapshot of the session for front ends. The copy is
// taken under the session lock; callers can marshal it without racing the
// orchestrator.
func (s *Service) GetSession(sessionID string) (*domain.Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := s.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// ListSessions returns snapshots of all sessions.
func (s *Service) ListSessions() []*domain.Session {
	sessions := s.store.List()
	out := make([]*domain.Session, 0, len(sessions))
	for _, session := range sessions {
		lock := s.sessionLock(session.ID)
		lock.Lock()
		out = append(out, session.Clone())
		lock.Unlock()
	}
	return out
}
