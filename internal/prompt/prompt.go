// Package prompt holds the templates sent to the language model. Templates
// are opaque text with named {placeholder} slots; nothing in here is parsed
// beyond placeholder substitution.
package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// System frames the model as a neutral mediator for every call.
const System = `You are a neutral, expert mediator facilitating a group decision.
You interact with participants PRIVATELY: never reveal one participant's specific
answers, values or numbers to another before the final synthesis. Acknowledge each
participant's stated goals before proposing any compromise, and keep the group's
attention on the two or three conflict points that actually prevent agreement.`

// AdminElaboration asks the session admin for missing constraints before
// round 1 (scoping phase).
const AdminElaboration = `You are helping an admin set the stage for a group decision on: '{topic}'.

If the topic is already specific enough to decide on, reply only: 'The topic is clear. We are ready to begin.'
If the topic is vague, ask the admin for the 2-3 most important constraints needed to make a decision.

Be brief and professional. Adapt to the topic as given; assume nothing about it.`

// InitialQuestion is the round-1 question sent to every member.
const InitialQuestion = `Welcome to this group decision session!

Topic: {topic}

To help the mediation, please share:
1. Your must-haves and deal-breakers.
2. Your initial ideas for an ideal outcome.
3. Your single most important priority.`

// FallbackQuestion covers members the model left without a question.
const FallbackQuestion = `Based on the discussion so far, could you elaborate on your position regarding {topic}? What aspects are most important to you?`

// questionsOutputFormat is shared by all iteration prompts.
const questionsOutputFormat = `Return ONLY a JSON object of this shape (no markdown, no extra text):
{"analysis": "one short paragraph", "questions": {"<participant name>": "<their question>"}}
Every participant listed above must appear exactly once in "questions".`

// iterationInterests digs for the interest behind each stated position
// (used after round 1).
const iterationInterests = `You are an expert mediator. Topic: {topic}

Participants (use these names EXACTLY):
{participants}

Latest responses (round {round_number}):
{responses}

TASK: for EACH participant, identify the interest behind their position and ask
one clarifying question that prepares them for a future trade-off.

` + questionsOutputFormat

// iterationTradeoffs proposes a concrete trade-off per participant, framed to
// align with their earlier commitments (used after round 2).
const iterationTradeoffs = `You are a neutral negotiator. Topic: {topic}

Participants (use these names EXACTLY):
{participants}

Round 1 baseline preferences:
{round_1_responses}

Latest responses (round {round_number}):
{responses}

TASK: for EACH participant, propose one trade-off framed to be consistent with
what they already committed to, naming the concession and what it buys them.

` + questionsOutputFormat

// iterationGeneric continues the mediation for rounds past the scripted ones.
const iterationGeneric = `You are a neutral mediator. Topic: {topic}

Participants (use these names EXACTLY):
{participants}

All previous responses:
{all_previous_responses}

Latest responses (round {round_number}):
{responses}

TASK: for EACH participant, ask one question that moves the group toward a
workable compromise.

` + questionsOutputFormat

// Synthesis turns the full transcript into exactly three votable options.
const Synthesis = `The negotiation is complete.

Topic: {topic}

Conversation transcript:
{transcript}

Synthesize the key agreements and remaining tensions, then propose 3 concrete
options. Keep each description to 1-2 sentences, pros/cons to at most 2 bullets
each, and the summary under 70 words. For each option the pros/cons must link
back to specific participant trade-offs.

Return ONLY valid JSON (no markdown, no extra text). Rules:
- double quotes only, escape quotes inside strings, no trailing commas
- proposed_solutions MUST contain EXACTLY 3 items

{"summary": "...", "key_agreements": ["..."], "remaining_tensions": ["..."], "proposed_solutions": [{"title": "...", "description": "...", "pros": ["..."], "cons": ["..."]}, {"title": "...", "description": "...", "pros": ["..."], "cons": ["..."]}, {"title": "...", "description": "...", "pros": ["..."], "cons": ["..."]}]}`

// SynthesisRetrySuffix is appended when the previous output looked truncated.
const SynthesisRetrySuffix = `

IMPORTANT: your previous output was cut off. Regenerate the SAME JSON but much shorter, following all brevity rules.`

// Repair converts arbitrary model text into schema-conforming JSON with no
// other changes. Used as the last rung of the repair ladder.
const Repair = `You are a strict JSON formatter.
Convert the text below into VALID JSON matching EXACTLY this schema. Output
ONLY JSON (no markdown, no commentary). Change nothing but the formatting.

Schema:
{"summary": string, "key_agreements": [string], "remaining_tensions": [string], "proposed_solutions": [{"title": string, "description": string, "pros": [string], "cons": [string]} x3]}

Rules:
- proposed_solutions MUST contain EXACTLY 3 items
- double quotes only, no trailing commas

TEXT TO CONVERT:
{raw}`

// TieBreaker resolves a voting tie with an auditable rationale.
const TieBreaker = `The group vote resulted in a tie.

Topic: {topic}

Conversation transcript:
{transcript}

Tied options:
{tied_options}

You are the neutral mediator. Select the ONE option that best satisfies the
collective: respect stated deal-breakers first, then minimize the worst
violation, then balance the remaining trade-offs.

Output EXACTLY this format (no extra text):
**The Tie-Breaker Decision:** Option <1|2|3>
**Rationale:** <3-6 sentences grounded in specific trade-offs from the transcript>`

// ForRound returns the iteration template used to generate questions for the
// round after roundNumber.
func ForRound(roundNumber int) string {
	switch roundNumber {
	case 1:
		return iterationInterests
	case 2:
		return iterationTradeoffs
	default:
		return iterationGeneric
	}
}

// Render substitutes {name} placeholders from vars. Unknown placeholders are
// left in place, which keeps template content opaque to the engine.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// FormatResponses renders member answers as "Name: answer" lines, one per
// member, in stable name order.
func FormatResponses(answers map[string]string, names map[string]string) string {
	lines := make([]string, 0, len(answers))
	for memberID, answer := range answers {
		name := names[memberID]
		if name == "" {
			name = memberID
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, answer))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// FormatParticipants renders the participant roster as a bullet list in
// stable order.
func FormatParticipants(names map[string]string) string {
	list := make([]string, 0, len(names))
	for _, name := range names {
		list = append(list, "- "+name)
	}
	sort.Strings(list)
	return strings.Join(list, "\n")
}
