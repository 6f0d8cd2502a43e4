package domain

import (
	"time"
)

// Member represents a participant in a decision session.
// Members are never deleted; Active=false is the only removal mechanism so
// historical responses and votes stay valid.
type Member struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Role     MemberRole `json:"role"`
	Identity string     `json:"identity,omitempty"` // opaque channel-specific identifier
	JoinedAt time.Time  `json:"joined_at"`
	Active   bool       `json:"active"`
}

// Response is a single answer from a member for a specific round.
// Immutable once created.
type Response struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id"`
	RoundNumber int       `json:"round_number"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoundData holds questions and responses for one round.
type RoundData struct {
	RoundNumber int                  `json:"round_number"`
	Questions   map[string]string    `json:"questions"` // member_id -> question
	Responses   map[string]*Response `json:"responses"` // member_id -> response
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// ProposedSolution is one decision option produced by synthesis.
type ProposedSolution struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Pros        []string `json:"pros"`
	Cons        []string `json:"cons"`
	Votes       []string `json:"votes"` // member ids, at most one vote per member across all solutions
}

// Decision is the final synthesis result put up for voting.
type Decision struct {
	Summary           string              `json:"summary"`
	KeyAgreements     []string            `json:"key_agreements"`
	RemainingTensions []string            `json:"remaining_tensions"`
	ProposedSolutions []*ProposedSolution `json:"proposed_solutions"`
	WinningSolution   *ProposedSolution   `json:"winning_solution,omitempty"`
	TieBreakRationale string              `json:"tie_break_rationale,omitempty"`
	TieBreakFallback  bool                `json:"tie_break_fallback,omitempty"` // marker parse failed, first tied option chosen
	CreatedAt         time.Time           `json:"created_at"`
}

// Session represents a complete decision-making session. The session owns all
// nested round/response/decision data; mutation goes through the service.
type Session struct {
	ID         string `json:"id"`
	InviteCode string `json:"invite_code"`
	Topic      string `json:"topic"` // may be augmented with admin constraints during scoping
	AdminID    string `json:"admin_id"`

	MaxRounds      int `json:"max_rounds"`
	TimeoutSeconds int `json:"timeout_seconds"`
	MinResponsePct int `json:"min_response_pct"`

	Members map[string]*Member `json:"members"` // member_id -> member

	Status       SessionStatus      `json:"status"`
	CurrentRound int                `json:"current_round"`
	Rounds       map[int]*RoundData `json:"rounds"` // round_number -> data

	Decision *Decision `json:"decision,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AddMember adds a member to the session.
func (s *Session) AddMember(m *Member) {
	s.Members[m.ID] = m
}

// MemberByIdentity finds a member by their opaque platform identity.
func (s *Session) MemberByIdentity(identity string) *Member {
	if identity == "" {
		return nil
	}
	for _, m := range s.Members {
		if m.Identity == identity {
			return m
		}
	}
	return nil
}

// ActiveMembers returns all members with Active=true.
func (s *Session) ActiveMembers() []*Member {
	var out []*Member
	for _, m := range s.Members {
		if m.Active {
			out = append(out, m)
		}
	}
	return out
}

// CurrentRoundData returns the data for the current round, or nil.
func (s *Session) CurrentRoundData() *RoundData {
	return s.Rounds[s.CurrentRound]
}

// StartNewRound advances the round counter by exactly one and opens its data.
func (s *Session) StartNewRound() *RoundData {
	s.CurrentRound++
	rd := &RoundData{
		RoundNumber: s.CurrentRound,
		Questions:   make(map[string]string),
		Responses:   make(map[string]*Response),
		StartedAt:   time.Now(),
	}
	s.Rounds[s.CurrentRound] = rd
	return rd
}

// ResponsePercentage returns the coverage of the current round, computed
// against the current active-member set rather than a round-start snapshot.
func (s *Session) ResponsePercentage() float64 {
	rd := s.CurrentRoundData()
	if rd == nil {
		return 0
	}
	active := s.ActiveMembers()
	if len(active) == 0 {
		return 0
	}
	return float64(len(rd.Responses)) / float64(len(active)) * 100
}

// AllResponsesReceived reports whether every active member has responded.
func (s *Session) AllResponsesReceived() bool {
	return s.ResponsePercentage() >= 100
}

// MinResponsesReceived reports whether the configured quorum has been met.
func (s *Session) MinResponsesReceived() bool {
	return s.ResponsePercentage() >= float64(s.MinResponsePct)
}

// ResponsesByRound returns round -> member_id -> answer for all rounds.
func (s *Session) ResponsesByRound() map[int]map[string]string {
	out := make(map[int]map[string]string, len(s.Rounds))
	for n, rd := range s.Rounds {
		answers := make(map[string]string, len(rd.Responses))
		for mid, r := range rd.Responses {
			answers[mid] = r.Answer
		}
		out[n] = answers
	}
	return out
}

// MemberNames returns a member_id -> display name map.
func (s *Session) MemberNames() map[string]string {
	out := make(map[string]string, len(s.Members))
	for _, m := range s.Members {
		out[m.ID] = m.Name
	}
	return out
}

// Clone returns a deep copy of the session. Read paths hand clones to
// callers so marshaling never touches maps the orchestrator is mutating.
func (s *Session) Clone() *Session {
	out := *s
	out.Members = make(map[string]*Member, len(s.Members))
	for id, m := range s.Members {
		cm := *m
		out.Members[id] = &cm
	}
	out.Rounds = make(map[int]*RoundData, len(s.Rounds))
	for n, rd := range s.Rounds {
		out.Rounds[n] = rd.clone()
	}
	if s.Decision != nil {
		out.Decision = s.Decision.clone()
	}
	out.StartedAt = copyTime(s.StartedAt)
	out.CompletedAt = copyTime(s.CompletedAt)
	return &out
}

func (rd *RoundData) clone() *RoundData {
	out := *rd
	out.Questions = make(map[string]string, len(rd.Questions))
	for id, q := range rd.Questions {
		out.Questions[id] = q
	}
	out.Responses = make(map[string]*Response, len(rd.Responses))
	for id, r := range rd.Responses {
		cr := *r
		out.Responses[id] = &cr
	}
	out.CompletedAt = copyTime(rd.CompletedAt)
	return &out
}

func (d *Decision) clone() *Decision {
	out := *d
	out.KeyAgreements = append([]string(nil), d.KeyAgreements...)
	out.RemainingTensions = append([]string(nil), d.RemainingTensions...)
	out.ProposedSolutions = make([]*ProposedSolution, len(d.ProposedSolutions))
	for i, sol := range d.ProposedSolutions {
		cs := *sol
		cs.Pros = append([]string(nil), sol.Pros...)
		cs.Cons = append([]string(nil), sol.Cons...)
		cs.Votes = append([]string(nil), sol.Votes...)
		out.ProposedSolutions[i] = &cs
		if d.WinningSolution == sol {
			out.WinningSolution = &cs
		}
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
