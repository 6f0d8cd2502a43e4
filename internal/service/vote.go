package service

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/groupdec/mediator/internal/audit"
	"github.com/groupdec/mediator/internal/domain"
	"github.com/groupdec/mediator/internal/prompt"
)

// tieBreakMarkerRe matches the structured marker the tie-breaker prompt asks
// for; tieBreakLooseRe is the permissive fallback over the whole reply.
var (
	tieBreakMarkerRe = regexp.MustCompile(`(?i)Decision:\*\*\s*Option\s*([0-9]+)`)
	tieBreakLooseRe  = regexp.MustCompile(`(?i)Option\s*([0-9]+)`)
)

// SubmitVote records a member's vote for one option (1-based). Re-voting
// moves the member's vote; each member holds at most one vote across all
// options. When every active member has voted the decision finalizes.
func (s *Service) SubmitVote(ctx context.Context, sessionID, memberID string, option int) error {
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
	if session.Status != domain.StatusVoting {
		return ErrWrongState
	}
	decision := session.Decision
	if decision == nil {
		return ErrNoDecision
	}
	if option < 1 || option > len(decision.ProposedSolutions) {
		return ErrInvalidOption
	}

	for _, sol := range decision.ProposedSolutions {
		for i, voter := range sol.Votes {
			if voter == memberID {
				sol.Votes = append(sol.Votes[:i], sol.Votes[i+1:]...)
				break
			}
		}
	}
	chosen := decision.ProposedSolutions[option-1]
	chosen.Votes = append(chosen.Votes, memberID)

	s.record(ctx, sessionID, audit.EventVoteCast, map[string]interface{}{
		"member_id": memberID,
		"option":    option,
	})
	s.deliver(ctx, sessionID, memberID, fmt.Sprintf("Your vote for Option %d (%s) has been recorded.", option, chosen.Title))

	voted := 0
	for _, sol := range decision.ProposedSolutions {
		voted += len(sol.Votes)
	}
	if voted >= len(session.ActiveMembers()) {
		s.finalizeDecision(ctx, session)
	}
	return nil
}

// finalizeDecision tallies the votes, resolves ties and completes the
// session. A unique maximum wins outright. Ties go to the model with the
// transcript and the tied options; if its reply carries no parseable marker
// the first tied option (in presentation order) wins and the decision is
// flagged as a fallback. Caller holds the session lock.
func (s *Service) finalizeDecision(ctx context.Context, session *domain.Session) {
	decision := session.Decision
	solutions := decision.ProposedSolutions

	max := 0
	for _, sol := range solutions {
		if len(sol.Votes) > max {
			max = len(sol.Votes)
		}
	}
	var tied []int // 1-based option numbers at the max, in presentation order
	for i, sol := range solutions {
		if len(sol.Votes) == max {
			tied = append(tied, i+1)
		}
	}

	if len(tied) == 1 {
		decision.WinningSolution = solutions[tied[0]-1]
	} else {
		s.resolveTie(ctx, session, tied)
	}

	winner := decision.WinningSolution
	tally := make([]string, 0, len(solutions))
	for i, sol := range solutions {
		tally = append(tally, fmt.Sprintf("Option %d (%s): %d vote(s)", i+1, sol.Title, len(sol.Votes)))
	}
	msg := fmt.Sprintf("Voting complete.\n%s\n\nWinning option: %s\n%s",
		strings.Join(tally, "\n"), winner.Title, winner.Description)
	if decision.TieBreakRationale != "" {
		msg += "\n\nTie-break rationale:\n" + decision.TieBreakRationale
	}
	s.broadcast(ctx, session, msg)

	s.completeSession(ctx, session, "decision_reached")
}

// resolveTie asks the model to pick among the tied options and records the
// outcome on the decision. Caller holds the session lock.
func (s *Service) resolveTie(ctx context.Context, session *domain.Session, tied []int) {
	decision := session.Decision
	solutions := decision.ProposedSolutions

	var lines []string
	for _, n := range tied {
		sol := solutions[n-1]
		lines = append(lines, fmt.Sprintf("- Option %d: %s: %s", n, sol.Title, sol.Description))
	}

	tiePrompt := prompt.Render(prompt.TieBreaker, map[string]string{
		"topic":        session.Topic,
		"transcript":   s.buildTranscript(session),
		"tied_options": strings.Join(lines, "\n"),
	})

	reply, err := s.llm.Generate(ctx, tiePrompt, prompt.System)
	if err != nil {
		log.Printf("WARN: tie-break generation failed for session %s: %v", session.ID, err)
		reply = ""
	}

	choice, ok := parseTieBreakChoice(reply, len(solutions))
	if !ok {
		choice = tied[0]
		decision.TieBreakFallback = true
		log.Printf("WARN: tie-break reply carried no option marker for session %s, falling back to Option %d", session.ID, choice)
	}
	decision.WinningSolution = solutions[choice-1]
	decision.TieBreakRationale = strings.TrimSpace(reply)

	s.record(ctx, session.ID, audit.EventTieBreak, map[string]interface{}{
		"tied_options": tied,
		"chosen":       choice,
		"fallback":     decision.TieBreakFallback,
	})
}

// parseTieBreakChoice pulls the chosen option number out of the model's
// reply. The structured marker is preferred; any "Option N" mention is
// accepted as a fallback. Out-of-range numbers are clamped into range.
func parseTieBreakChoice(reply string, optionCount int) (int, bool) {
	m := tieBreakMarkerRe.FindStringSubmatch(reply)
	if m == nil {
		m = tieBreakLooseRe.FindStringSubmatch(reply)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if n < 1 {
		n = 1
	}
	if n > optionCount {
		n = optionCount
	}
	return n, true
}
