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
)

// startRound opens the next round, seeds its questions, sends them out and
// arms the round timer. Round 1 sends the same initial question to everyone;
// later rounds use the prepared per-member questions, falling back to a
// generic question for anyone left unmapped. Caller holds the session lock.
func (s *Service) startRound(ctx context.Context, session *domain.Session, prepared map[string]string) {
	rd := session.StartNewRound()
	session.Status = domain.StatusCollecting

	if session.CurrentRound == 1 {
		initial := prompt.Render(prompt.InitialQuestion, map[string]string{"topic": session.Topic})
		for _, m := range session.ActiveMembers() {
			rd.Questions[m.ID] = initial
			s.deliver(ctx, session.ID, m.ID, initial)
		}
	} else {
		for id, q := range prepared {
			rd.Questions[id] = q
		}
		fallback := prompt.Render(prompt.FallbackQuestion, map[string]string{"topic": session.Topic})
		for _, m := range session.ActiveMembers() {
			q, ok := rd.Questions[m.ID]
			if !ok {
				q = fallback
				rd.Questions[m.ID] = q
			}
			s.deliver(ctx, session.ID, m.ID, fmt.Sprintf("Round %d question:\n\n%s", session.CurrentRound, q))
		}
	}

	log.Printf("Session %s: started round %d with %d questions", session.ID, session.CurrentRound, len(rd.Questions))
	s.record(ctx, session.ID, audit.EventRoundStarted, map[string]interface{}{
		"round":     session.CurrentRound,
		"questions": len(rd.Questions),
	})

	s.armTimer(session.ID, session.CurrentRound, time.Duration(session.TimeoutSeconds)*time.Second)
}

// SubmitResponse records a member's answer for the current round. When
// coverage reaches 100% of the active members the round completes
// immediately, without waiting for the timer.
func (s *Service) SubmitResponse(ctx context.Context, sessionID, memberID, answer string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := s.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	m, ok := session.Members[memberID]
	if !ok || !m.Active {
		return ErrNotMember
	}
	if session.Status != domain.StatusCollecting {
		return ErrWrongState
	}

	// Round 0 is the admin scoping phase: the only accepted answer is the
	// admin's constraints, which augment the topic before round 1 opens.
	if session.CurrentRound == 0 {
		if memberID != session.AdminID {
			return ErrScopingAdminOnly
		}
		s.finishScoping(ctx, session, answer)
		return nil
	}

	rd := session.CurrentRoundData()
	if rd == nil {
		return ErrNoActiveRound
	}
	if _, answered := rd.Responses[memberID]; answered {
		return ErrAlreadyResponded
	}

	rd.Responses[memberID] = &domain.Response{
		ID:          uuid.New().String(),
		MemberID:    memberID,
		RoundNumber: session.CurrentRound,
		Question:    rd.Questions[memberID],
		Answer:      answer,
		CreatedAt:   time.Now(),
	}

	if session.AllResponsesReceived() {
		s.cancelTimer(sessionID)
		s.processRound(ctx, session)
	}
	return nil
}

// finishScoping folds the admin's constraints into the topic and opens
// round 1. Caller holds the session lock.
func (s *Service) finishScoping(ctx context.Context, session *domain.Session, constraints string) {
	session.Topic = fmt.Sprintf("%s (Constraints: %s)", session.Topic, constraints)
	for n := range session.Rounds {
		delete(session.Rounds, n)
	}
	session.CurrentRound = 0

	s.broadcast(ctx, session, fmt.Sprintf("Topic finalized: %s", session.Topic))
	s.startRound(ctx, session, nil)
}

// ForceProceed completes the current round regardless of coverage (admin
// action). Identical effect to a timeout that exhausted its grace period.
func (s *Service) ForceProceed(ctx context.Context, sessionID, memberID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := s.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.authorize(ctx, session, memberID, "force_proceed"); err != nil {
		return err
	}
	if session.Status != domain.StatusCollecting {
		return ErrWrongState
	}

	// During scoping there is no round to close; proceeding skips the
	// constraints and opens round 1 with the topic as-is.
	if session.CurrentRound == 0 {
		s.broadcast(ctx, session, "Skipping the constraints phase.")
		s.startRound(ctx, session, nil)
		return nil
	}

	s.cancelTimer(sessionID)
	s.processRound(ctx, session)
	return nil
}

// processRound closes the current round and either generates the next
// round's questions or runs the final synthesis. Caller holds the session
// lock; the status flip to PROCESSING is what makes a racing timeout a
// no-op.
func (s *Service) processRound(ctx context.Context, session *domain.Session) {
	session.Status = domain.StatusProcessing

	responses := 0
	if rd := session.CurrentRoundData(); rd != nil {
		now := time.Now()
		rd.CompletedAt = &now
		responses = len(rd.Responses)
	}
	s.record(ctx, session.ID, audit.EventRoundCompleted, map[string]interface{}{
		"round":     session.CurrentRound,
		"responses": responses,
	})

	s.broadcast(ctx, session, fmt.Sprintf("Round %d complete. Processing responses...", session.CurrentRound))

	if session.CurrentRound >= session.MaxRounds {
		s.synthesizeDecision(ctx, session)
		return
	}
	s.generateNextQuestions(ctx, session)
}
