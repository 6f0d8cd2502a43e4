package service

import (
	"context"
	"sync"
	"time"

	"github.com/groupdec/mediator/internal/domain"
)

// roundTimer is the one outstanding timeout task a session may own. Stopping
// it closes the cancel channel, which aborts both the initial wait and the
// grace-period wait.
type roundTimer struct {
	cancel chan struct{}
	once   sync.Once
}

func (t *roundTimer) stop() {
	t.once.Do(func() { close(t.cancel) })
}

// armTimer starts the round timeout for a session, cancelling any previous
// timer first. Cancel-then-replace, never replace-then-cancel: the old timer
// is stopped while the registry lock is held, so it can never fire against
// the new round. The timer remembers which round it guards; a fire against
// any other round is a no-op.
func (s *Service) armTimer(sessionID string, round int, d time.Duration) {
	s.timersMu.Lock()
	if old := s.timers[sessionID]; old != nil {
		old.stop()
	}
	t := &roundTimer{cancel: make(chan struct{})}
	s.timers[sessionID] = t
	s.timersMu.Unlock()

	go s.runTimer(sessionID, t, round, d)
}

// cancelTimer synchronously stops the session's pending timer, if any.
func (s *Service) cancelTimer(sessionID string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if t := s.timers[sessionID]; t != nil {
		t.stop()
		delete(s.timers, sessionID)
	}
}

func (s *Service) runTimer(sessionID string, t *roundTimer, round int, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.cancel:
		return
	case <-timer.C:
	}

	s.handleTimeout(context.Background(), sessionID, t, round)
}

// handleTimeout fires when a round's timer expires. If quorum is met the
// round completes; otherwise non-responders are reminded and the round is
// forced after the grace period. Session status, round number and the
// round's completion stamp are re-checked after every wait so a timeout
// racing a regular completion is a no-op. The stamp check matters when a
// completed round reverted to COLLECTING after question generation failed:
// status and round look untouched, but the round must not process twice.
func (s *Service) handleTimeout(ctx context.Context, sessionID string, t *roundTimer, round int) {
	lock := s.sessionLock(sessionID)
	lock.Lock()

	session, ok := s.store.Get(sessionID)
	if !ok || roundProcessed(session, round) {
		lock.Unlock()
		return
	}

	if session.MinResponsesReceived() {
		s.processRound(ctx, session)
		lock.Unlock()
		return
	}

	if rd := session.CurrentRoundData(); rd != nil {
		for _, m := range session.ActiveMembers() {
			if _, answered := rd.Responses[m.ID]; !answered {
				s.deliver(ctx, sessionID, m.ID, "Reminder: the round is ending soon. Please submit your response.")
			}
		}
	}
	lock.Unlock()

	// Grace period. The lock is released so late responses can still land
	// and complete the round; a cancelled timer aborts the wait.
	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-t.cancel:
		return
	case <-grace.C:
	}

	lock.Lock()
	defer lock.Unlock()

	session, ok = s.store.Get(sessionID)
	if !ok || roundProcessed(session, round) {
		return
	}
	s.processRound(ctx, session)
}

// roundProcessed reports whether the given round already left COLLECTING or
// carries a completion stamp, meaning a timeout for it must do nothing.
func roundProcessed(session *domain.Session, round int) bool {
	if session.Status != domain.StatusCollecting || session.CurrentRound != round {
		return true
	}
	rd := session.Rounds[round]
	return rd == nil || rd.CompletedAt != nil
}
