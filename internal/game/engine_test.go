package game

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/spothuman/spothuman/internal/event"
)

func newTestEngine() *Engine {
	return NewEngine(NewMemoryRepository(), DefaultTemplate, zerolog.Nop())
}

func startedMatch(t *testing.T, e *Engine) *Match {
	t.Helper()
	m, err := e.CreateMatch("")
	if err != nil {
		t.Fatalf("should be able to create match: %v", err)
	}
	if _, err := e.AddParticipant(m.ID, "conn-1", "Alice"); err != nil {
		t.Fatalf("first human should join: %v", err)
	}
	if _, err := e.AddParticipant(m.ID, "conn-2", "Bob"); err != nil {
		t.Fatalf("second human should join: %v", err)
	}
	if _, err := e.StartMatch(m.ID); err != nil {
		t.Fatalf("should be able to start match: %v", err)
	}
	m, err = e.Match(m.ID)
	if err != nil {
		t.Fatalf("should be able to reload match: %v", err)
	}
	return m
}

func TestCreateMatch(t *testing.T) {
	e := newTestEngine()
	m, err := e.CreateMatch("m-1")
	if err != nil {
		t.Fatalf("should be able to create match: %v", err)
	}
	if m.Status != StatusWaiting {
		t.Fatalf("expected status %s, got %s", StatusWaiting, m.Status)
	}
	if len(m.Participants) != 0 || len(m.Rounds) != 0 {
		t.Fatal("new match should have empty roster and rounds")
	}
	if m.TotalRounds != 5 {
		t.Fatalf("default template should play 5 rounds, got %d", m.TotalRounds)
	}
}

func TestRosterAutoFill(t *testing.T) {
	e := newTestEngine()
	m, _ := e.CreateMatch("")

	p1, err := e.AddParticipant(m.ID, "conn-1", "Alice")
	if err != nil {
		t.Fatalf("first human should join: %v", err)
	}
	m, _ = e.Match(m.ID)
	if len(m.Participants) != 1 {
		t.Fatalf("no auto-fill before human quota, got %d participants", len(m.Participants))
	}

	p2, err := e.AddParticipant(m.ID, "conn-2", "Bob")
	if err != nil {
		t.Fatalf("second human should join: %v", err)
	}
	m, _ = e.Match(m.ID)
	if len(m.Participants) != 4 {
		t.Fatalf("quota reached should auto-fill to 4, got %d", len(m.Participants))
	}
	if len(m.Automated()) != 2 {
		t.Fatalf("expected 2 automated participants, got %d", len(m.Automated()))
	}
	for _, b := range m.Automated() {
		if b.Personality == "" {
			t.Fatal("automated participant should carry a personality")
		}
	}
	if p1.Identity == p2.Identity {
		t.Fatal("humans should hold distinct identities")
	}

	// Identity set has no gaps and no duplicates.
	seen := map[Identity]bool{}
	for _, p := range m.Participants {
		if seen[p.Identity] {
			t.Fatalf("identity %s assigned twice", p.Identity)
		}
		seen[p.Identity] = true
	}
	for _, id := range Alphabet(4) {
		if !seen[id] {
			t.Fatalf("identity %s unassigned", id)
		}
	}

	_, err = e.AddParticipant(m.ID, "conn-3", "Carol")
	if err != ErrMatchFull {
		t.Fatalf("expected ErrMatchFull, got %v", err)
	}
}

func TestStartMatchGuards(t *testing.T) {
	e := newTestEngine()
	m, _ := e.CreateMatch("")
	if _, err := e.StartMatch(m.ID); err != ErrRosterIncomplete {
		t.Fatalf("expected ErrRosterIncomplete, got %v", err)
	}

	e.AddParticipant(m.ID, "conn-1", "Alice")
	e.AddParticipant(m.ID, "conn-2", "Bob")
	r, err := e.StartMatch(m.ID)
	if err != nil {
		t.Fatalf("should be able to start full match: %v", err)
	}
	if r.Number != 1 || r.Prompt == "" {
		t.Fatalf("round 1 should be active with a prompt, got %+v", r)
	}
	if _, err := e.StartMatch(m.ID); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if _, err := e.AddParticipant(m.ID, "conn-9", "Late"); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted after start, got %v", err)
	}
}

func TestResponseCollectionBoundary(t *testing.T) {
	e := newTestEngine()
	m := startedMatch(t, e)

	ids := Alphabet(4)
	for i, id := range ids[:3] {
		all, err := e.SubmitResponse(m.ID, id, "answer", false)
		if err != nil {
			t.Fatalf("response %d should be accepted: %v", i+1, err)
		}
		if all {
			t.Fatalf("response %d of 4 must not trigger voting", i+1)
		}
	}
	m, _ = e.Match(m.ID)
	if m.Current().Phase != PhaseResponding {
		t.Fatalf("phase should still be responding, got %s", m.Current().Phase)
	}

	all, err := e.SubmitResponse(m.ID, ids[3], "answer", true)
	if err != nil {
		t.Fatalf("final response should be accepted: %v", err)
	}
	if !all {
		t.Fatal("final response must trigger voting")
	}
	m, _ = e.Match(m.ID)
	if m.Current().Phase != PhaseVoting {
		t.Fatalf("expected voting phase, got %s", m.Current().Phase)
	}
	if m.Status != StatusRoundVoting {
		t.Fatalf("expected match status %s, got %s", StatusRoundVoting, m.Status)
	}

	// Writes after the flip are rejected.
	if _, err := e.SubmitResponse(m.ID, ids[0], "too late", false); err != ErrRoundNotResponding {
		t.Fatalf("expected ErrRoundNotResponding after flip, got %v", err)
	}
}

func TestResponseResubmitIsIdempotent(t *testing.T) {
	e := newTestEngine()
	m := startedMatch(t, e)
	id := Alphabet(4)[0]

	e.SubmitResponse(m.ID, id, "first", false)
	all, err := e.SubmitResponse(m.ID, id, "second", false)
	if err != nil {
		t.Fatalf("resubmission should overwrite: %v", err)
	}
	if all {
		t.Fatal("resubmission must not advance the count")
	}
	m, _ = e.Match(m.ID)
	if len(m.Current().Responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(m.Current().Responses))
	}
	if m.Current().Responses[id] != "second" {
		t.Fatalf("last write should win, got %q", m.Current().Responses[id])
	}
}

func TestVotingAndScoring(t *testing.T) {
	e := newTestEngine()
	m := startedMatch(t, e)

	ids := Alphabet(4)
	human := m.Participants[0].Identity // Alice is human

	if _, err := e.SubmitVote(m.ID, ids[0], ids[1]); err != ErrRoundNotVoting {
		t.Fatalf("expected ErrRoundNotVoting before responses done, got %v", err)
	}
	for _, id := range ids {
		e.SubmitResponse(m.ID, id, "answer from "+string(id), false)
	}

	// Everyone votes for a human identity.
	for i, id := range ids {
		all, err := e.SubmitVote(m.ID, id, human)
		if err != nil {
			t.Fatalf("vote should be accepted: %v", err)
		}
		if (i == len(ids)-1) != all {
			t.Fatalf("only the final vote should report all collected (vote %d: %v)", i+1, all)
		}
	}

	m, _ = e.Match(m.ID)
	r1 := m.Rounds[0]
	if r1.Phase != PhaseComplete {
		t.Fatalf("round 1 should be complete, got %s", r1.Phase)
	}
	for _, id := range ids {
		if r1.Scores[id] != 1 {
			t.Fatalf("voter %s named a human and should score 1, got %d", id, r1.Scores[id])
		}
	}
	if m.CurrentRound != 2 || m.Status != StatusRoundActive {
		t.Fatalf("round 2 should be active, got round %d status %s", m.CurrentRound, m.Status)
	}
}

func TestMatchCompletionAndFinalScores(t *testing.T) {
	e := newTestEngine()
	m := startedMatch(t, e)
	ids := Alphabet(4)
	human := m.Participants[0].Identity
	bot := m.Automated()[0].Identity

	for round := 1; round <= m.TotalRounds; round++ {
		for _, id := range ids {
			if _, err := e.SubmitResponse(m.ID, id, "r", false); err != nil {
				t.Fatalf("round %d response: %v", round, err)
			}
		}
		for _, id := range ids {
			guess := human
			if id == ids[0] {
				guess = bot // one wrong guess per round
			}
			if _, err := e.SubmitVote(m.ID, id, guess); err != nil {
				t.Fatalf("round %d vote: %v", round, err)
			}
		}
	}

	m, _ = e.Match(m.ID)
	if m.Status != StatusCompleted {
		t.Fatalf("expected completed match, got %s", m.Status)
	}
	if len(m.Rounds) != m.TotalRounds {
		t.Fatalf("expected %d rounds, got %d", m.TotalRounds, len(m.Rounds))
	}
	// Final scores are the per-round sums.
	for _, id := range ids {
		want := 0
		for _, r := range m.Rounds {
			want += r.Scores[id]
		}
		if m.FinalScores[id] != want {
			t.Fatalf("final score for %s: want %d, got %d", id, want, m.FinalScores[id])
		}
	}
	if m.FinalScores[ids[0]] != 0 {
		t.Fatalf("always-wrong voter should score 0, got %d", m.FinalScores[ids[0]])
	}

	if _, err := e.SubmitVote(m.ID, ids[0], human); err != ErrRoundNotVoting {
		t.Fatalf("completed match should reject votes, got %v", err)
	}
}

func TestRemoveParticipantDiscardsHumanlessMatch(t *testing.T) {
	e := newTestEngine()
	m := startedMatch(t, e)

	if err := e.RemoveParticipant("conn-1"); err != nil {
		t.Fatalf("should be able to remove first human: %v", err)
	}
	if _, err := e.Match(m.ID); err != nil {
		t.Fatalf("match should survive while a human remains: %v", err)
	}
	if err := e.RemoveParticipant("conn-2"); err != nil {
		t.Fatalf("should be able to remove last human: %v", err)
	}
	if _, err := e.Match(m.ID); err != ErrMatchNotFound {
		t.Fatalf("humanless match should be discarded, got %v", err)
	}
}

func TestEngineEmitsEventPerTransition(t *testing.T) {
	e := newTestEngine()
	var events []event.Envelope
	e.OnEvent(func(env event.Envelope) { events = append(events, env) })

	m := startedMatch(t, e)
	ids := Alphabet(4)
	human := m.Participants[0].Identity
	for round := 1; round <= m.TotalRounds; round++ {
		for _, id := range ids {
			e.SubmitResponse(m.ID, id, "r", false)
		}
		for _, id := range ids {
			e.SubmitVote(m.ID, id, human)
		}
	}

	counts := map[event.Type]int{}
	for _, env := range events {
		if err := event.Validate(env); err != nil {
			t.Fatalf("engine emitted invalid event: %v", err)
		}
		counts[env.EventType]++
	}
	if counts[event.TypeMatchStarted] != 1 {
		t.Fatalf("expected 1 match.started, got %d", counts[event.TypeMatchStarted])
	}
	if counts[event.TypeRoundStarted] != 5 {
		t.Fatalf("expected 5 round.started, got %d", counts[event.TypeRoundStarted])
	}
	if counts[event.TypeVotingStarted] != 5 {
		t.Fatalf("expected 5 voting.started, got %d", counts[event.TypeVotingStarted])
	}
	if counts[event.TypeRoundCompleted] != 5 {
		t.Fatalf("expected 5 round.completed, got %d", counts[event.TypeRoundCompleted])
	}
	if counts[event.TypeMatchCompleted] != 1 {
		t.Fatalf("expected 1 match.completed, got %d", counts[event.TypeMatchCompleted])
	}
	if counts[event.TypeResponseSubmitted] != 20 {
		t.Fatalf("expected 20 response.submitted, got %d", counts[event.TypeResponseSubmitted])
	}
	if counts[event.TypeVoteSubmitted] != 20 {
		t.Fatalf("expected 20 vote.submitted, got %d", counts[event.TypeVoteSubmitted])
	}
}

func TestMatchSnapshotIsolation(t *testing.T) {
	e := newTestEngine()
	m := startedMatch(t, e)
	ids := Alphabet(4)

	// Mutating a snapshot must not reach engine state.
	snap, _ := e.Match(m.ID)
	snap.Current().Responses[ids[0]] = "scribble"
	snap.Participants[0].Label = "Mallory"
	fresh, _ := e.Match(m.ID)
	if len(fresh.Current().Responses) != 0 {
		t.Fatal("snapshot write leaked into engine state")
	}
	if fresh.Participants[0].Label == "Mallory" {
		t.Fatal("participant write leaked into engine state")
	}

	// A reader iterating a snapshot's maps never observes a concurrent
	// submission. Overwriting the same identity keeps the round responding
	// for the whole loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s, err := e.Match(m.ID)
			if err != nil {
				return
			}
			for range s.Current().Responses {
			}
		}
	}()
	for i := 0; i < 200; i++ {
		if _, err := e.SubmitResponse(m.ID, ids[0], "draft", false); err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
	}
	<-done
}

type flakyRepo struct {
	*MemoryRepository
	failPuts bool
}

func (r *flakyRepo) Put(m *Match) error {
	if r.failPuts {
		return errors.New("disk full")
	}
	return r.MemoryRepository.Put(m)
}

func TestNoEventsOnFailedWrite(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository()}
	e := NewEngine(repo, DefaultTemplate, zerolog.Nop())
	m := startedMatch(t, e)
	ids := Alphabet(4)

	var events []event.Envelope
	e.OnEvent(func(env event.Envelope) { events = append(events, env) })

	repo.failPuts = true
	if _, err := e.SubmitResponse(m.ID, ids[0], "lost", false); err == nil {
		t.Fatal("failed write should surface an error")
	}
	if len(events) != 0 {
		t.Fatalf("state that never committed emitted %d events", len(events))
	}

	repo.failPuts = false
	if _, err := e.SubmitResponse(m.ID, ids[0], "kept", false); err != nil {
		t.Fatalf("write should succeed again: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("committed write should emit exactly 1 event, got %d", len(events))
	}
}

func TestBotGuessNeverSelf(t *testing.T) {
	e := newTestEngine()
	m := startedMatch(t, e)
	voter := m.Automated()[0].Identity
	for i := 0; i < 50; i++ {
		if BotGuess(m, voter) == voter {
			t.Fatal("bot should never guess itself")
		}
	}
}
