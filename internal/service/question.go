package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/groupdec/mediator/internal/audit"
	"github.com/groupdec/mediator/internal/domain"
	"github.com/groupdec/mediator/internal/extract"
	"github.com/groupdec/mediator/internal/prompt"
)

// generateNextQuestions asks the model for personalized next-round questions
// and opens the next round with them. The generation is retried once after a
// short fixed delay; a second failure never advances the round silently:
// synthesis runs if this was the last chance to synthesize, otherwise the
// session stays COLLECTING and the admin is told force-proceed is available.
// Caller holds the session lock.
func (s *Service) generateNextQuestions(ctx context.Context, session *domain.Session) {
	iterationPrompt := s.buildIterationPrompt(session)

	questions, raw, err := s.generateQuestions(ctx, session, iterationPrompt)
	if err != nil {
		log.Printf("WARN: question generation failed for session %s: %v", session.ID, err)
		s.broadcast(ctx, session, "An error occurred while processing. Retrying...")
		time.Sleep(s.retryDelay)
		questions, raw, err = s.generateQuestions(ctx, session, iterationPrompt)
	}
	if err != nil {
		log.Printf("ERROR: question generation failed twice for session %s: %v", session.ID, err)
		s.broadcast(ctx, session, "Unable to process responses.")
		if session.CurrentRound >= session.MaxRounds-1 {
			s.broadcast(ctx, session, "Continuing to the final synthesis.")
			s.synthesizeDecision(ctx, session)
			return
		}
		session.Status = domain.StatusCollecting
		s.deliver(ctx, session.ID, session.AdminID,
			"Question generation failed twice. You can force-proceed to continue with the available responses.")
		return
	}

	s.record(ctx, session.ID, audit.EventLLMInteraction, map[string]interface{}{
		"round":     session.CurrentRound,
		"purpose":   "next_questions",
		"response":  clip(raw, 1000),
		"questions": len(questions),
	})

	// Terminal rounds never reach this point; processRound routes them to
	// synthesis before question generation runs.
	s.startRound(ctx, session, mapQuestionsToMembers(session, questions))
}

// generateQuestions performs one generation attempt and parses the result.
func (s *Service) generateQuestions(ctx context.Context, session *domain.Session, iterationPrompt string) (map[string]string, string, error) {
	raw, err := s.llm.Generate(ctx, iterationPrompt, prompt.System)
	if err != nil {
		return nil, "", err
	}
	return parseQuestions(raw), raw, nil
}

// buildIterationPrompt fills the round template with the transcript slices
// it names. Templates only consume the placeholders they declare; extra vars
// are harmless.
func (s *Service) buildIterationPrompt(session *domain.Session) string {
	byRound := session.ResponsesByRound()
	names := session.MemberNames()

	vars := map[string]string{
		"topic":        session.Topic,
		"participants": prompt.FormatParticipants(names),
		"responses":    prompt.FormatResponses(byRound[session.CurrentRound], names),
		"round_number": fmt.Sprintf("%d", session.CurrentRound),
	}
	for i := 1; i < session.CurrentRound; i++ {
		if answers, ok := byRound[i]; ok {
			vars[fmt.Sprintf("round_%d_responses", i)] = prompt.FormatResponses(answers, names)
		}
	}

	var previous []string
	rounds := make([]int, 0, len(byRound))
	for n := range byRound {
		if n < session.CurrentRound {
			rounds = append(rounds, n)
		}
	}
	sort.Ints(rounds)
	for _, n := range rounds {
		previous = append(previous, fmt.Sprintf("Round %d:\n%s", n, prompt.FormatResponses(byRound[n], names)))
	}
	vars["all_previous_responses"] = strings.Join(previous, "\n\n")

	return prompt.Render(prompt.ForRound(session.CurrentRound), vars)
}

// parseQuestions extracts the questions object from model output. The JSON
// shape is tried first; non-JSON output falls back to "Name: question" line
// parsing.
func parseQuestions(raw string) map[string]string {
	if obj, ok := extract.First(raw); ok {
		var parsed struct {
			Analysis  string            `json:"analysis"`
			Questions map[string]string `json:"questions"`
		}
		if err := json.Unmarshal([]byte(obj), &parsed); err == nil && len(parsed.Questions) > 0 {
			return parsed.Questions
		}
	}
	return parseNameLines(raw)
}

var (
	bulletRe    = regexp.MustCompile(`^[-*]\s+`)
	numberingRe = regexp.MustCompile(`^\d+[\).\s]+`)
	boldNameRe  = regexp.MustCompile(`^\*\*(.+?)\*\*\s*:`)
	nameLineRe  = regexp.MustCompile(`^([^:]+?)\s*:\s*(.+)$`)
)

// parseNameLines tolerates model output of the form "Name: question", one
// line per participant, with optional leading bullets, numbering or
// markdown-bold names.
func parseNameLines(text string) map[string]string {
	out := make(map[string]string)
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		line = bulletRe.ReplaceAllString(line, "")
		line = numberingRe.ReplaceAllString(line, "")
		line = boldNameRe.ReplaceAllString(line, "$1:")

		m := nameLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		question := strings.TrimSpace(m[2])
		if name != "" && question != "" {
			out[name] = question
		}
	}
	return out
}

// mapQuestionsToMembers resolves model-generated keys to member ids with a
// two-pass lookup: exact id match first, then case-insensitive display name.
// Duplicate display names are an unresolved collision; the first name match
// wins. An empty result maps nothing; startRound's fallback question covers
// the gap.
func mapQuestionsToMembers(session *domain.Session, questions map[string]string) map[string]string {
	mapped := make(map[string]string, len(questions))
	for key, question := range questions {
		if _, ok := session.Members[key]; ok {
			mapped[key] = question
			continue
		}
		for _, m := range session.Members {
			if strings.EqualFold(m.Name, key) {
				mapped[m.ID] = question
				break
			}
		}
	}
	return mapped
}

// clip truncates s for audit payloads.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
