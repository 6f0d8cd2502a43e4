package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groupdec/mediator/internal/audit"
	"github.com/groupdec/mediator/internal/config"
	"github.com/groupdec/mediator/internal/domain"
	"github.com/groupdec/mediator/internal/store"
	"github.com/groupdec/mediator/policy"
)

// scriptedLLM replays a fixed sequence of replies and records every prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []scriptedReply
	prompts []string
}

type scriptedReply struct {
	text string
	err  error
}

func (l *scriptedLLM) push(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replies = append(l.replies, scriptedReply{text: text})
}

func (l *scriptedLLM) pushErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replies = append(l.replies, scriptedReply{err: err})
}

func (l *scriptedLLM) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, prompt)
	if len(l.replies) == 0 {
		return "", fmt.Errorf("unscripted llm call")
	}
	r := l.replies[0]
	l.replies = l.replies[1:]
	return r.text, r.err
}

func (l *scriptedLLM) promptCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prompts)
}

func (l *scriptedLLM) lastPrompt() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.prompts) == 0 {
		return ""
	}
	return l.prompts[len(l.prompts)-1]
}

// recorder captures delivered messages per member.
type recorder struct {
	mu   sync.Mutex
	msgs map[string][]string // member_id -> messages
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[string][]string)}
}

func (r *recorder) Deliver(ctx context.Context, sessionID, memberID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[memberID] = append(r.msgs[memberID], text)
	return nil
}

func (r *recorder) received(memberID, substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs[memberID] {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) count(memberID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs[memberID])
}

func testConfig() *config.Config {
	return &config.Config{
		MaxRounds:       3,
		RoundTimeout:    time.Hour,
		MinResponsePct:  60,
		GracePeriod:     50 * time.Millisecond,
		MaxParticipants: 20,
	}
}

func newTestService(t *testing.T, llmClient *scriptedLLM, cfg *config.Config) (*Service, *recorder) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rec := newRecorder()
	svc := New(store.NewMemoryStore(), llmClient, rec, audit.NopTrail{}, engine, cfg)
	svc.retryDelay = 10 * time.Millisecond
	return svc, rec
}

// startedSession creates a session with the given member names (first is the
// admin) and starts it.
func startedSession(t *testing.T, svc *Service, opts Options, names ...string) (sessionID string, memberIDs []string) {
	t.Helper()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "Where to hold the offsite", names[0], "identity-0", opts)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	memberIDs = append(memberIDs, session.AdminID)
	for i, name := range names[1:] {
		_, m, err := svc.JoinSession(ctx, session.InviteCode, name, fmt.Sprintf("identity-%d", i+1))
		if err != nil {
			t.Fatalf("JoinSession(%s): %v", name, err)
		}
		memberIDs = append(memberIDs, m.ID)
	}
	if err := svc.StartSession(ctx, session.ID, session.AdminID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return session.ID, memberIDs
}

func snapshot(svc *Service, sessionID string) *domain.Session {
	lock := svc.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	session, _ := svc.store.Get(sessionID)
	return session
}

func waitForStatus(t *testing.T, svc *Service, sessionID string, want domain.SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snapshot(svc, sessionID).Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session never reached %s, stuck at %s", want, snapshot(svc, sessionID).Status)
}

const validSynthesisJSON = `{"summary":"A balanced plan emerged.","key_agreements":["budget under 2k"],"remaining_tensions":["exact dates"],"proposed_solutions":[{"title":"Mountain cabin","description":"Rent the cabin for 3 days.","pros":["cheap"],"cons":["remote"]},{"title":"City hotel","description":"Book the downtown hotel.","pros":["central"],"cons":["pricey"]},{"title":"Split weekend","description":"One day city, one day hiking.","pros":["variety"],"cons":["logistics"]}]}`

func questionsJSON(pairs map[string]string) string {
	var parts []string
	for name, q := range pairs {
		parts = append(parts, fmt.Sprintf("%q: %q", name, q))
	}
	return fmt.Sprintf(`{"analysis": "making progress", "questions": {%s}}`, strings.Join(parts, ", "))
}

func TestSessionLifecycleHappyPath(t *testing.T) {
	llm := &scriptedLLM{}
	svc, rec := newTestService(t, llm, nil)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{MaxRounds: 2}, "Alice", "Bob", "Carol")

	session := snapshot(svc, sessionID)
	if session.Status != domain.StatusCollecting {
		t.Fatalf("status = %s, want COLLECTING", session.Status)
	}
	if session.CurrentRound != 1 {
		t.Fatalf("round = %d, want 1", session.CurrentRound)
	}
	for _, id := range members {
		if !rec.received(id, "Topic: Where to hold the offsite") {
			t.Fatalf("member %s did not receive the round-1 question", id)
		}
	}

	llm.push(questionsJSON(map[string]string{
		"Alice": "What would you trade for the cheaper option?",
		"Bob":   "Is remoteness a deal-breaker?",
		"Carol": "Which date conflict is hardest?",
	}))
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "my answer"); err != nil {
			t.Fatalf("SubmitResponse(%s): %v", id, err)
		}
	}

	session = snapshot(svc, sessionID)
	if session.CurrentRound != 2 {
		t.Fatalf("round = %d, want 2", session.CurrentRound)
	}
	if session.Status != domain.StatusCollecting {
		t.Fatalf("status = %s, want COLLECTING", session.Status)
	}
	if !rec.received(members[1], "Is remoteness a deal-breaker?") {
		t.Fatal("Bob did not receive his personalized round-2 question")
	}

	llm.push(validSynthesisJSON)
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "round 2 answer"); err != nil {
			t.Fatalf("SubmitResponse round 2 (%s): %v", id, err)
		}
	}

	session = snapshot(svc, sessionID)
	if session.Status != domain.StatusVoting {
		t.Fatalf("status = %s, want VOTING", session.Status)
	}
	if got := len(session.Decision.ProposedSolutions); got != 3 {
		t.Fatalf("solutions = %d, want 3", got)
	}

	// 2-1-0 split, unique winner, no tie-break call.
	if err := svc.SubmitVote(ctx, sessionID, members[0], 1); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if err := svc.SubmitVote(ctx, sessionID, members[1], 1); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if err := svc.SubmitVote(ctx, sessionID, members[2], 2); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}

	session = snapshot(svc, sessionID)
	if session.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", session.Status)
	}
	if session.Decision.WinningSolution.Title != "Mountain cabin" {
		t.Fatalf("winner = %q, want Mountain cabin", session.Decision.WinningSolution.Title)
	}
	if session.Decision.TieBreakRationale != "" {
		t.Fatal("unique winner must not carry a tie-break rationale")
	}
}

func TestGetSessionSnapshotIsIsolated(t *testing.T) {
	llm := &scriptedLLM{}
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "topic", "Alice", "alice", Options{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	before, err := svc.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if _, _, err := svc.JoinSession(ctx, session.InviteCode, "Bob", "bob"); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}

	if len(before.Members) != 1 {
		t.Fatalf("snapshot members = %d, a later join must not appear in an earlier snapshot", len(before.Members))
	}

	// Mutating the snapshot must not leak into the live session.
	before.Members["intruder"] = &domain.Member{ID: "intruder", Active: true}
	after, err := svc.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if _, ok := after.Members["intruder"]; ok {
		t.Fatal("snapshot mutation leaked into the stored session")
	}
}

func TestGetSessionConcurrentWithJoins(t *testing.T) {
	llm := &scriptedLLM{}
	cfg := testConfig()
	cfg.MaxParticipants = 100
	svc, _ := newTestService(t, llm, cfg)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "topic", "Alice", "alice", Options{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Marshal snapshots while members join. The race detector flags this if
	// the read path ever hands out live state again.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if _, _, err := svc.JoinSession(ctx, session.InviteCode, fmt.Sprintf("Member %d", i), fmt.Sprintf("id-%d", i)); err != nil {
				t.Errorf("JoinSession: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		snap, err := svc.GetSession(session.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if _, err := json.Marshal(snap); err != nil {
			t.Fatalf("marshal snapshot: %v", err)
		}
		if _, err := json.Marshal(svc.ListSessions()); err != nil {
			t.Fatalf("marshal session list: %v", err)
		}
	}
	<-done
}

func TestTimeoutIsNoOpAfterGenerationRevert(t *testing.T) {
	llm := &scriptedLLM{}
	llm.pushErr(fmt.Errorf("model unavailable"))
	llm.pushErr(fmt.Errorf("model unavailable"))
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	// Round 1 completes at 100% coverage, question generation fails twice and
	// the session reverts to COLLECTING with the round already stamped. A
	// timer for that round popping now must not process it a second time.
	sessionID, members := startedSession(t, svc, Options{MaxRounds: 3}, "Alice", "Bob")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}
	session := snapshot(svc, sessionID)
	if session.Status != domain.StatusCollecting || session.Rounds[1].CompletedAt == nil {
		t.Fatalf("precondition: want stamped round 1 back in COLLECTING, got %s", session.Status)
	}
	calls := llm.promptCount()

	stale := &roundTimer{cancel: make(chan struct{})}
	svc.handleTimeout(ctx, sessionID, stale, 1)

	session = snapshot(svc, sessionID)
	if session.Status != domain.StatusCollecting {
		t.Fatalf("status = %s, the stale timeout must not touch the reverted round", session.Status)
	}
	if got := llm.promptCount(); got != calls {
		t.Fatalf("stale timeout triggered %d extra llm calls", got-calls)
	}
}

func TestSubmitResponseValidation(t *testing.T) {
	llm := &scriptedLLM{}
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{}, "Alice", "Bob")

	if err := svc.SubmitResponse(ctx, sessionID, "nobody", "hi"); err != ErrNotMember {
		t.Fatalf("unknown member: got %v, want ErrNotMember", err)
	}
	if err := svc.SubmitResponse(ctx, sessionID, members[0], "first"); err != nil {
		t.Fatalf("first response: %v", err)
	}
	if err := svc.SubmitResponse(ctx, sessionID, members[0], "second"); err != ErrAlreadyResponded {
		t.Fatalf("duplicate response: got %v, want ErrAlreadyResponded", err)
	}

	rd := snapshot(svc, sessionID).CurrentRoundData()
	if got := rd.Responses[members[0]].Answer; got != "first" {
		t.Fatalf("stored answer = %q, the duplicate must not overwrite it", got)
	}
}

func TestJoinSessionIdempotentAndBounded(t *testing.T) {
	llm := &scriptedLLM{}
	cfg := testConfig()
	cfg.MaxParticipants = 2
	svc, _ := newTestService(t, llm, cfg)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "topic", "Alice", "alice-identity", Options{})
	require.NoError(t, err)

	_, bob, err := svc.JoinSession(ctx, session.InviteCode, "Bob", "bob-identity")
	require.NoError(t, err)

	// Same identity joins again: same member back, no duplicate.
	_, again, err := svc.JoinSession(ctx, session.InviteCode, "Bobby", "bob-identity")
	require.NoError(t, err)
	require.Equal(t, bob.ID, again.ID)

	_, _, err = svc.JoinSession(ctx, session.InviteCode, "Carol", "carol-identity")
	require.ErrorIs(t, err, ErrSessionFull)

	_, _, err = svc.JoinSession(ctx, "WRONGCODE", "Dave", "dave-identity")
	require.ErrorIs(t, err, ErrInvalidInviteCode)
}

func TestStartRequiresAdminAndTwoMembers(t *testing.T) {
	llm := &scriptedLLM{}
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "topic", "Alice", "alice", Options{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.StartSession(ctx, session.ID, session.AdminID); err != ErrTooFewMembers {
		t.Fatalf("start with 1 member: got %v, want ErrTooFewMembers", err)
	}

	_, bob, err := svc.JoinSession(ctx, session.InviteCode, "Bob", "bob")
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if err := svc.StartSession(ctx, session.ID, bob.ID); err != ErrNotAllowed {
		t.Fatalf("participant start: got %v, want ErrNotAllowed", err)
	}
	if err := svc.StartSession(ctx, session.ID, session.AdminID); err != nil {
		t.Fatalf("admin start: %v", err)
	}
	if err := svc.StartSession(ctx, session.ID, session.AdminID); err != ErrWrongState {
		t.Fatalf("double start: got %v, want ErrWrongState", err)
	}
}

func TestTimeoutForcesRoundAfterGrace(t *testing.T) {
	llm := &scriptedLLM{}
	llm.push(validSynthesisJSON)
	cfg := testConfig()
	cfg.GracePeriod = 50 * time.Millisecond
	svc, rec := newTestService(t, llm, cfg)
	ctx := context.Background()

	// MaxRounds 1: the forced round goes straight to synthesis. Timeout of 1s
	// expires with only 1 of 3 responses, below the 60% quorum.
	sessionID, members := startedSession(t, svc,
		Options{MaxRounds: 1, TimeoutSeconds: 1}, "Alice", "Bob", "Carol")

	if err := svc.SubmitResponse(ctx, sessionID, members[0], "only one answer"); err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}

	waitForStatus(t, svc, sessionID, domain.StatusVoting)

	if !rec.received(members[1], "Reminder") {
		t.Fatal("non-responder was not reminded during the grace period")
	}
	session := snapshot(svc, sessionID)
	if len(session.Rounds[1].Responses) != 1 {
		t.Fatalf("responses = %d, want the 1 that arrived", len(session.Rounds[1].Responses))
	}
}

func TestFullCoverageCompletesWithoutTimer(t *testing.T) {
	llm := &scriptedLLM{}
	llm.push(validSynthesisJSON)
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	// Timer far in the future; 100% coverage must complete the round on its own.
	sessionID, members := startedSession(t, svc, Options{MaxRounds: 1}, "Alice", "Bob")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}
	if got := snapshot(svc, sessionID).Status; got != domain.StatusVoting {
		t.Fatalf("status = %s, want VOTING without waiting for the timer", got)
	}
}

func TestTimeoutIsNoOpAfterRoundCompleted(t *testing.T) {
	llm := &scriptedLLM{}
	llm.push(validSynthesisJSON)
	cfg := testConfig()
	cfg.GracePeriod = 30 * time.Millisecond
	svc, _ := newTestService(t, llm, cfg)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc,
		Options{MaxRounds: 1, TimeoutSeconds: 1}, "Alice", "Bob")

	// Complete the round before the timer fires, then wait past the timer and
	// grace window. The stale timer must not process anything twice.
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}
	waitForStatus(t, svc, sessionID, domain.StatusVoting)
	calls := llm.promptCount()

	time.Sleep(1200 * time.Millisecond)

	if got := llm.promptCount(); got != calls {
		t.Fatalf("stale timer triggered %d extra llm calls", got-calls)
	}
	if got := snapshot(svc, sessionID).Status; got != domain.StatusVoting {
		t.Fatalf("status = %s, want VOTING untouched by the stale timer", got)
	}
}

func TestGenerationFailureKeepsCollecting(t *testing.T) {
	llm := &scriptedLLM{}
	llm.pushErr(fmt.Errorf("model unavailable"))
	llm.pushErr(fmt.Errorf("model unavailable"))
	svc, rec := newTestService(t, llm, nil)
	ctx := context.Background()

	// MaxRounds 3: a double failure after round 1 is not the last chance, so
	// the session stays COLLECTING and the admin gets the force-proceed hint.
	sessionID, members := startedSession(t, svc, Options{MaxRounds: 3}, "Alice", "Bob")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}

	session := snapshot(svc, sessionID)
	if session.Status != domain.StatusCollecting {
		t.Fatalf("status = %s, want COLLECTING after double failure", session.Status)
	}
	if session.CurrentRound != 1 {
		t.Fatalf("round = %d, the failed generation must not advance the round", session.CurrentRound)
	}
	if !rec.received(members[0], "force-proceed") {
		t.Fatal("admin was not told force-proceed is available")
	}
}

func TestGenerationFailureFallsThroughToSynthesis(t *testing.T) {
	llm := &scriptedLLM{}
	llm.pushErr(fmt.Errorf("model unavailable"))
	llm.pushErr(fmt.Errorf("model unavailable"))
	llm.push(validSynthesisJSON)
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	// MaxRounds 2, round 1 complete: generation for round 2 fails twice, and
	// since round 1 was the last chance before the cap, synthesis runs.
	sessionID, members := startedSession(t, svc, Options{MaxRounds: 2}, "Alice", "Bob", "Carol")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}

	session := snapshot(svc, sessionID)
	if session.Status != domain.StatusVoting {
		t.Fatalf("status = %s, want VOTING via the synthesis fallback", session.Status)
	}
}

func TestForceProceedAdminOnly(t *testing.T) {
	llm := &scriptedLLM{}
	llm.push(validSynthesisJSON)
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{MaxRounds: 1}, "Alice", "Bob")

	if err := svc.ForceProceed(ctx, sessionID, members[1]); err != ErrNotAllowed {
		t.Fatalf("participant force-proceed: got %v, want ErrNotAllowed", err)
	}
	if err := svc.ForceProceed(ctx, sessionID, members[0]); err != nil {
		t.Fatalf("admin force-proceed: %v", err)
	}
	if got := snapshot(svc, sessionID).Status; got != domain.StatusVoting {
		t.Fatalf("status = %s, want VOTING", got)
	}
	if err := svc.ForceProceed(ctx, sessionID, members[0]); err != ErrWrongState {
		t.Fatalf("force-proceed outside COLLECTING: got %v, want ErrWrongState", err)
	}
}

func TestCancelStopsSession(t *testing.T) {
	llm := &scriptedLLM{}
	svc, rec := newTestService(t, llm, nil)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{}, "Alice", "Bob")

	if err := svc.CancelSession(ctx, sessionID, members[1]); err != ErrNotAllowed {
		t.Fatalf("participant cancel: got %v, want ErrNotAllowed", err)
	}
	if err := svc.CancelSession(ctx, sessionID, members[0]); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if got := snapshot(svc, sessionID).Status; got != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	if !rec.received(members[1], "cancelled") {
		t.Fatal("members were not told about the cancellation")
	}
	if err := svc.SubmitResponse(ctx, sessionID, members[1], "late"); err != ErrWrongState {
		t.Fatalf("response after cancel: got %v, want ErrWrongState", err)
	}
	if err := svc.CancelSession(ctx, sessionID, members[0]); err != ErrWrongState {
		t.Fatalf("double cancel: got %v, want ErrWrongState", err)
	}
}

func TestScopingRound(t *testing.T) {
	llm := &scriptedLLM{}
	llm.push("What are your top constraints for this decision?")
	cfg := testConfig()
	cfg.ScopingRound = true
	svc, rec := newTestService(t, llm, cfg)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{}, "Alice", "Bob")

	session := snapshot(svc, sessionID)
	if session.CurrentRound != 0 {
		t.Fatalf("round = %d, want scoping round 0", session.CurrentRound)
	}
	if !rec.received(members[1], "Please wait") {
		t.Fatal("participant was not told to wait for the admin")
	}

	if err := svc.SubmitResponse(ctx, sessionID, members[1], "budget"); err != ErrScopingAdminOnly {
		t.Fatalf("participant scoping response: got %v, want ErrScopingAdminOnly", err)
	}
	if err := svc.SubmitResponse(ctx, sessionID, members[0], "max 2000 EUR, must be in March"); err != nil {
		t.Fatalf("admin scoping response: %v", err)
	}

	session = snapshot(svc, sessionID)
	if session.CurrentRound != 1 {
		t.Fatalf("round = %d, want 1 after scoping", session.CurrentRound)
	}
	if !strings.Contains(session.Topic, "max 2000 EUR") {
		t.Fatalf("topic = %q, constraints were not folded in", session.Topic)
	}
}

func TestSynthesisRepairLadder(t *testing.T) {
	llm := &scriptedLLM{}
	// Attempt 1: truncated output (no closing brace) -> short regeneration.
	llm.push(`{"summary": "cut off mid`)
	// Attempt 2: well-formed JSON with only 2 solutions -> strict repair.
	llm.push(`{"summary":"s","key_agreements":[],"remaining_tensions":[],"proposed_solutions":[{"title":"A","description":"a"},{"title":"B","description":"b"}]}`)
	// Attempt 3: the repair returns a valid document.
	llm.push(validSynthesisJSON)
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{MaxRounds: 1}, "Alice", "Bob")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}

	session := snapshot(svc, sessionID)
	require.Equal(t, domain.StatusVoting, session.Status)
	require.Len(t, session.Decision.ProposedSolutions, 3)
	require.Equal(t, 3, llm.promptCount())
	require.Contains(t, llm.lastPrompt(), "strict JSON formatter")
}

func TestSynthesisFailureSharesRawOutput(t *testing.T) {
	llm := &scriptedLLM{}
	// No attempt ever yields valid JSON. 3 ladder rungs, then give up.
	llm.push("The group broadly agrees on the cabin but")
	llm.push("Still not JSON {oops")
	llm.push("Sorry, I cannot format that.")
	svc, rec := newTestService(t, llm, nil)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{MaxRounds: 1}, "Alice", "Bob")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}

	session := snapshot(svc, sessionID)
	if session.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED after synthesis failure", session.Status)
	}
	if session.Decision != nil {
		t.Fatal("no decision must be fabricated from invalid output")
	}
	if !rec.received(members[0], "Sorry, I cannot format that.") {
		t.Fatal("raw model output was not shared with the group")
	}
}

func TestVoteValidationAndRevote(t *testing.T) {
	llm := &scriptedLLM{}
	llm.push(validSynthesisJSON)
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{MaxRounds: 1}, "Alice", "Bob", "Carol")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}

	if err := svc.SubmitVote(ctx, sessionID, members[0], 0); err != ErrInvalidOption {
		t.Fatalf("option 0: got %v, want ErrInvalidOption", err)
	}
	if err := svc.SubmitVote(ctx, sessionID, members[0], 4); err != ErrInvalidOption {
		t.Fatalf("option 4: got %v, want ErrInvalidOption", err)
	}
	if err := svc.SubmitVote(ctx, sessionID, "nobody", 1); err != ErrNotMember {
		t.Fatalf("unknown voter: got %v, want ErrNotMember", err)
	}

	// Alice votes 1, then changes to 2. The vote moves; it is not duplicated.
	if err := svc.SubmitVote(ctx, sessionID, members[0], 1); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := svc.SubmitVote(ctx, sessionID, members[0], 2); err != nil {
		t.Fatalf("revote: %v", err)
	}
	session := snapshot(svc, sessionID)
	sols := session.Decision.ProposedSolutions
	if len(sols[0].Votes) != 0 || len(sols[1].Votes) != 1 {
		t.Fatalf("votes = %d/%d, the revote must move the vote", len(sols[0].Votes), len(sols[1].Votes))
	}
	if session.Status != domain.StatusVoting {
		t.Fatal("session finalized before every member voted")
	}
}

func TestVotingTieBreak(t *testing.T) {
	llm := &scriptedLLM{}
	llm.push(validSynthesisJSON)
	llm.push("**The Tie-Breaker Decision:** Option 2\n**Rationale:** The hotel respects the stated budget deal-breaker while keeping everyone close to the venue.")
	svc, rec := newTestService(t, llm, nil)
	ctx := context.Background()

	// 5 members, votes 2-2-1: options 1 and 2 tie, the model picks 2.
	sessionID, members := startedSession(t, svc, Options{MaxRounds: 1},
		"Alice", "Bob", "Carol", "Dave", "Eve")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}
	votes := []int{1, 1, 2, 2, 3}
	for i, id := range members {
		if err := svc.SubmitVote(ctx, sessionID, id, votes[i]); err != nil {
			t.Fatalf("SubmitVote(%d): %v", votes[i], err)
		}
	}

	session := snapshot(svc, sessionID)
	if session.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", session.Status)
	}
	d := session.Decision
	if d.WinningSolution.Title != "City hotel" {
		t.Fatalf("winner = %q, want the model's pick City hotel", d.WinningSolution.Title)
	}
	if d.TieBreakFallback {
		t.Fatal("a parsed marker must not set the fallback flag")
	}
	if !strings.Contains(d.TieBreakRationale, "budget deal-breaker") {
		t.Fatalf("rationale = %q, want the model's rationale recorded", d.TieBreakRationale)
	}
	// Only the tied options go to the tie-breaker, not the trailing loser.
	if strings.Contains(llm.lastPrompt(), "Option 3: Split weekend") {
		t.Fatal("non-tied option leaked into the tie-break prompt")
	}
	if !rec.received(members[0], "Tie-break rationale") {
		t.Fatal("tie-break rationale was not announced")
	}
}

func TestVotingTieBreakFallback(t *testing.T) {
	llm := &scriptedLLM{}
	llm.push(validSynthesisJSON)
	llm.push("I find both remaining choices equally compelling and cannot decide.")
	svc, _ := newTestService(t, llm, nil)
	ctx := context.Background()

	sessionID, members := startedSession(t, svc, Options{MaxRounds: 1}, "Alice", "Bob")
	for _, id := range members {
		if err := svc.SubmitResponse(ctx, sessionID, id, "answer"); err != nil {
			t.Fatalf("SubmitResponse: %v", err)
		}
	}
	// Two members split across options 2 and 3: a 1-1 tie.
	if err := svc.SubmitVote(ctx, sessionID, members[0], 2); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if err := svc.SubmitVote(ctx, sessionID, members[1], 3); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}

	d := snapshot(svc, sessionID).Decision
	if !d.TieBreakFallback {
		t.Fatal("unparseable reply must set the fallback flag")
	}
	// First tied option in presentation order is Option 2.
	if d.WinningSolution.Title != "City hotel" {
		t.Fatalf("winner = %q, want the first tied option City hotel", d.WinningSolution.Title)
	}
}
