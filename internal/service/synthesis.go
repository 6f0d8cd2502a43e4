package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groupdec/mediator/internal/audit"
	"github.com/groupdec/mediator/internal/domain"
	"github.com/groupdec/mediator/internal/extract"
	"github.com/groupdec/mediator/internal/prompt"
)

// decisionPayload is the JSON shape the synthesis prompt asks for.
type decisionPayload struct {
	Summary           string            `json:"summary"`
	KeyAgreements     []string          `json:"key_agreements"`
	RemainingTensions []string          `json:"remaining_tensions"`
	ProposedSolutions []solutionPayload `json:"proposed_solutions"`
}

type solutionPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Pros        []string `json:"pros"`
	Cons        []string `json:"cons"`
}

// synthesisAttempt is one rung of the repair ladder. applies decides whether
// the rung fires given the previous raw output; buildPrompt shapes the next
// request from it.
type synthesisAttempt struct {
	name        string
	applies     func(prevRaw string) bool
	buildPrompt func(base, prevRaw string) string
}

// synthesisLadder orders the recovery strategies: a fresh generation, then a
// shorter regeneration when the output looks truncated, then a strict
// reformat-only repair of whatever came back. Each rung runs at most once.
var synthesisLadder = []synthesisAttempt{
	{
		name:        "initial",
		applies:     func(prevRaw string) bool { return prevRaw == "" },
		buildPrompt: func(base, _ string) string { return base },
	},
	{
		name: "short_regeneration",
		applies: func(prevRaw string) bool {
			return prevRaw != "" && !strings.HasSuffix(strings.TrimSpace(prevRaw), "}")
		},
		buildPrompt: func(base, _ string) string { return base + prompt.SynthesisRetrySuffix },
	},
	{
		name:    "strict_repair",
		applies: func(prevRaw string) bool { return prevRaw != "" },
		buildPrompt: func(_, prevRaw string) string {
			return prompt.Render(prompt.Repair, map[string]string{"raw": prevRaw})
		},
	},
}

// synthesizeDecision turns the transcript into exactly three votable options
// and moves the session to VOTING. Invalid model output climbs the repair
// ladder; options are never fabricated locally. If every rung fails the raw
// output is shared with the group and the session completes without a vote.
// Caller holds the session lock.
func (s *Service) synthesizeDecision(ctx context.Context, session *domain.Session) {
	s.broadcast(ctx, session, "All rounds complete. Synthesizing the final options...")

	base := prompt.Render(prompt.Synthesis, map[string]string{
		"topic":      session.Topic,
		"transcript": s.buildTranscript(session),
	})

	var payload *decisionPayload
	var raw string
	for _, rung := range synthesisLadder {
		if !rung.applies(raw) {
			continue
		}
		out, err := s.llm.Generate(ctx, rung.buildPrompt(base, raw), prompt.System)
		if err != nil {
			log.Printf("WARN: synthesis %s attempt failed for session %s: %v", rung.name, session.ID, err)
			continue
		}
		raw = out

		parsed, perr := parseDecision(out)
		s.record(ctx, session.ID, audit.EventLLMInteraction, map[string]interface{}{
			"purpose":  "synthesis",
			"attempt":  rung.name,
			"response": clip(out, 1000),
			"valid":    perr == nil,
		})
		if perr != nil {
			log.Printf("WARN: synthesis %s output invalid for session %s: %v", rung.name, session.ID, perr)
			continue
		}
		payload = parsed
		break
	}

	if payload == nil {
		log.Printf("ERROR: synthesis failed after all attempts for session %s", session.ID)
		msg := "The final synthesis could not be structured into voting options."
		if raw != "" {
			msg += "\n\nThe mediator's unstructured summary:\n\n" + raw
		}
		s.broadcast(ctx, session, msg)
		s.completeSession(ctx, session, "synthesis_failed")
		return
	}

	decision := &domain.Decision{
		Summary:           payload.Summary,
		KeyAgreements:     payload.KeyAgreements,
		RemainingTensions: payload.RemainingTensions,
		CreatedAt:         time.Now(),
	}
	for _, sol := range payload.ProposedSolutions {
		pros, cons := sol.Pros, sol.Cons
		if pros == nil {
			pros = []string{}
		}
		if cons == nil {
			cons = []string{}
		}
		decision.ProposedSolutions = append(decision.ProposedSolutions, &domain.ProposedSolution{
			ID:          uuid.New().String(),
			Title:       sol.Title,
			Description: sol.Description,
			Pros:        pros,
			Cons:        cons,
			Votes:       []string{},
		})
	}
	session.Decision = decision
	session.Status = domain.StatusVoting

	s.broadcast(ctx, session, s.formatVotingAnnouncement(decision))
	s.record(ctx, session.ID, audit.EventVotingStarted, map[string]interface{}{
		"options": len(decision.ProposedSolutions),
	})
}

// parseDecision extracts and validates the synthesis JSON. Validation is
// strict: exactly 3 solutions, each with a non-empty title and description.
func parseDecision(raw string) (*decisionPayload, error) {
	obj, ok := extract.First(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in output")
	}
	var payload decisionPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(payload.ProposedSolutions) != 3 {
		return nil, fmt.Errorf("proposed_solutions must be a list of exactly 3 items, got %d", len(payload.ProposedSolutions))
	}
	for i, sol := range payload.ProposedSolutions {
		if strings.TrimSpace(sol.Title) == "" {
			return nil, fmt.Errorf("solution %d has an empty title", i+1)
		}
		if strings.TrimSpace(sol.Description) == "" {
			return nil, fmt.Errorf("solution %d has an empty description", i+1)
		}
	}
	return &payload, nil
}

// buildTranscript renders every completed round as question/answer blocks in
// round order.
func (s *Service) buildTranscript(session *domain.Session) string {
	names := session.MemberNames()

	rounds := make([]int, 0, len(session.Rounds))
	for n := range session.Rounds {
		rounds = append(rounds, n)
	}
	sort.Ints(rounds)

	var b strings.Builder
	for _, n := range rounds {
		rd := session.Rounds[n]
		fmt.Fprintf(&b, "=== Round %d ===\n", n)

		memberIDs := make([]string, 0, len(rd.Responses))
		for mid := range rd.Responses {
			memberIDs = append(memberIDs, mid)
		}
		sort.Slice(memberIDs, func(i, j int) bool { return names[memberIDs[i]] < names[memberIDs[j]] })

		for _, mid := range memberIDs {
			r := rd.Responses[mid]
			name := names[mid]
			if name == "" {
				name = mid
			}
			fmt.Fprintf(&b, "[to %s] %s\n[%s] %s\n", name, r.Question, name, r.Answer)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// formatVotingAnnouncement renders the decision summary and the numbered
// ballot sent to every member.
func (s *Service) formatVotingAnnouncement(d *domain.Decision) string {
	var b strings.Builder
	b.WriteString("The synthesis is ready. Summary:\n\n")
	b.WriteString(d.Summary)
	if len(d.KeyAgreements) > 0 {
		b.WriteString("\n\nKey agreements:\n")
		for _, a := range d.KeyAgreements {
			b.WriteString("- " + a + "\n")
		}
	}
	if len(d.RemainingTensions) > 0 {
		b.WriteString("\nRemaining tensions:\n")
		for _, t := range d.RemainingTensions {
			b.WriteString("- " + t + "\n")
		}
	}
	b.WriteString("\nPlease vote for ONE of the following options:\n")
	for i, sol := range d.ProposedSolutions {
		fmt.Fprintf(&b, "\nOption %d: %s\n%s\n", i+1, sol.Title, sol.Description)
		for _, p := range sol.Pros {
			b.WriteString("  + " + p + "\n")
		}
		for _, c := range sol.Cons {
			b.WriteString("  - " + c + "\n")
		}
	}
	return b.String()
}
