package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spothuman/spothuman/internal/event"
	"github.com/spothuman/spothuman/internal/game"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "matches.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestSQLiteMatchRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seedMatch(t, s)
	ctx := context.Background()

	m, err := s.GetMatch(ctx, "m-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Status != game.StatusRoundActive || m.CurrentRound != 1 {
		t.Fatalf("match record mangled: %s round %d", m.Status, m.CurrentRound)
	}
	if len(m.Participants) != 4 {
		t.Fatalf("expected 4 participants, got %d", len(m.Participants))
	}
	// Roster comes back in join order.
	for i, want := range []game.Identity{"A", "B", "C", "D"} {
		if m.Participants[i].Identity != want {
			t.Fatalf("seat %d: want %s, got %s", i, want, m.Participants[i].Identity)
		}
	}
	if m.Participants[0].ExternalRef != "conn-1" {
		t.Fatalf("human binding lost: %q", m.Participants[0].ExternalRef)
	}
	if len(m.Rounds) != 1 || m.Rounds[0].Prompt != "prompt" || m.Rounds[0].Phase != game.PhaseResponding {
		t.Fatalf("round mangled: %+v", m.Rounds[0])
	}

	if _, err := s.GetMatch(ctx, "ghost"); err != game.ErrMatchNotFound {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
	found, err := s.FindByExternalRef(ctx, "conn-1")
	if err != nil || found.ID != "m-1" {
		t.Fatalf("find by ref: %v %v", found, err)
	}
	if _, err := s.FindByExternalRef(ctx, "nope"); err != game.ErrMatchNotFound {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestSQLiteMergeUpsertsByKey(t *testing.T) {
	s := openTestStore(t)
	seedMatch(t, s)
	ctx := context.Background()

	if err := s.MergeResponse(ctx, "m-1", 1, "B", "first", true); err != nil {
		t.Fatalf("merge response: %v", err)
	}
	// Redelivery lands on the same key and overwrites in place.
	if err := s.MergeResponse(ctx, "m-1", 1, "B", "second", true); err != nil {
		t.Fatalf("merge response again: %v", err)
	}
	if err := s.MergeVote(ctx, "m-1", 1, "C", "A"); err != nil {
		t.Fatalf("merge vote: %v", err)
	}
	if err := s.MergeVote(ctx, "m-1", 1, "C", "B"); err != nil {
		t.Fatalf("merge vote again: %v", err)
	}

	m, _ := s.GetMatch(ctx, "m-1")
	if len(m.Rounds[0].Responses) != 1 || m.Rounds[0].Responses["B"] != "second" {
		t.Fatalf("expected one response with last write, got %v", m.Rounds[0].Responses)
	}
	if len(m.Rounds[0].Votes) != 1 || m.Rounds[0].Votes["C"] != "B" {
		t.Fatalf("expected one vote with last write, got %v", m.Rounds[0].Votes)
	}
}

func TestSQLiteSwapIsConditional(t *testing.T) {
	s := openTestStore(t)
	seedMatch(t, s)
	ctx := context.Background()

	won, err := s.SwapRoundPhase(ctx, "m-1", 1, game.PhaseResponding, game.PhaseVoting)
	if err != nil || !won {
		t.Fatalf("first swap should win: %v %v", won, err)
	}
	won, err = s.SwapRoundPhase(ctx, "m-1", 1, game.PhaseResponding, game.PhaseVoting)
	if err != nil || won {
		t.Fatalf("second swap must lose: %v %v", won, err)
	}

	won, err = s.SwapMatchStatus(ctx, "m-1", game.StatusRoundActive, game.StatusRoundVoting)
	if err != nil || !won {
		t.Fatalf("first status swap should win: %v %v", won, err)
	}
	won, err = s.SwapMatchStatus(ctx, "m-1", game.StatusRoundActive, game.StatusRoundVoting)
	if err != nil || won {
		t.Fatalf("second status swap must lose: %v %v", won, err)
	}

	m, _ := s.GetMatch(ctx, "m-1")
	if m.Rounds[0].Phase != game.PhaseVoting || m.Status != game.StatusRoundVoting {
		t.Fatalf("swaps did not land: %s/%s", m.Rounds[0].Phase, m.Status)
	}
}

func TestSQLitePutMatchPreservesMergedRows(t *testing.T) {
	s := openTestStore(t)
	m := seedMatch(t, s)
	ctx := context.Background()

	if err := s.MergeResponse(ctx, "m-1", 1, "B", "merged", true); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := s.SwapRoundPhase(ctx, "m-1", 1, game.PhaseResponding, game.PhaseVoting); err != nil {
		t.Fatalf("swap: %v", err)
	}

	// A stale full-record put still carries the responding phase and no
	// responses; neither may clobber the concurrent writers' work.
	if err := s.PutMatch(ctx, m); err != nil {
		t.Fatalf("put: %v", err)
	}
	cur, _ := s.GetMatch(ctx, "m-1")
	if cur.Rounds[0].Responses["B"] != "merged" {
		t.Fatal("put overwrote a concurrently merged response")
	}
	if cur.Rounds[0].Phase != game.PhaseVoting {
		t.Fatalf("put regressed round phase to %s", cur.Rounds[0].Phase)
	}
}

func TestSQLiteRoundLifecycleWrites(t *testing.T) {
	s := openTestStore(t)
	seedMatch(t, s)
	ctx := context.Background()

	scores := map[game.Identity]int{"A": 1, "B": 0, "C": 1, "D": 0}
	if err := s.SaveRoundResult(ctx, "m-1", 1, scores, time.Now().UTC()); err != nil {
		t.Fatalf("save result: %v", err)
	}
	if err := s.AppendRound(ctx, "m-1", game.NewRound(2, "next prompt")); err != nil {
		t.Fatalf("append round: %v", err)
	}
	finals := map[game.Identity]int{"A": 1, "B": 0, "C": 1, "D": 0}
	if err := s.CompleteMatch(ctx, "m-1", finals); err != nil {
		t.Fatalf("complete: %v", err)
	}

	m, _ := s.GetMatch(ctx, "m-1")
	if len(m.Rounds) != 2 || m.CurrentRound != 2 {
		t.Fatalf("expected 2 rounds with pointer advanced, got %d/%d", len(m.Rounds), m.CurrentRound)
	}
	if m.Rounds[0].EndedAt == nil {
		t.Fatal("round 1 should carry an end time")
	}
	if m.Rounds[0].Scores["A"] != 1 || m.Rounds[0].Scores["B"] != 0 {
		t.Fatalf("round scores mangled: %v", m.Rounds[0].Scores)
	}
	if m.Rounds[1].Prompt != "next prompt" || m.Rounds[1].Phase != game.PhaseResponding {
		t.Fatalf("appended round mangled: %+v", m.Rounds[1])
	}
	if m.Status != game.StatusCompleted || m.FinalScores["C"] != 1 {
		t.Fatalf("completion mangled: %s %v", m.Status, m.FinalScores)
	}
}

func TestSQLiteDeleteParticipant(t *testing.T) {
	s := openTestStore(t)
	seedMatch(t, s)
	ctx := context.Background()

	if err := s.DeleteParticipant(ctx, "m-1", "p-4"); err != nil {
		t.Fatalf("delete participant: %v", err)
	}
	m, _ := s.GetMatch(ctx, "m-1")
	if len(m.Participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(m.Participants))
	}
	if m.Status != game.StatusRoundActive || m.Rounds[0].Phase != game.PhaseResponding {
		t.Fatalf("seat removal touched match state: %s/%s", m.Status, m.Rounds[0].Phase)
	}

	if err := s.DeleteMatch(ctx, "m-1"); err != nil {
		t.Fatalf("delete match: %v", err)
	}
	if _, err := s.GetMatch(ctx, "m-1"); err != game.ErrMatchNotFound {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
	if _, err := s.FindByExternalRef(ctx, "conn-1"); err != game.ErrMatchNotFound {
		t.Fatalf("binding should be gone with the match, got %v", err)
	}
}

func TestSQLiteEventLogRedeliveryNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := event.Envelope{
		EventID:   "e-1",
		EventType: event.TypeRoundStarted,
		MatchID:   "m-1",
		Timestamp: base,
		Data:      json.RawMessage(`{"round":1,"prompt":"p","startedAt":"2025-03-01T12:00:00Z"}`),
	}
	second := event.Envelope{
		EventID:   "e-2",
		EventType: event.TypeVotingStarted,
		MatchID:   "m-1",
		Timestamp: base.Add(time.Minute),
		Data:      json.RawMessage(`{"round":1}`),
	}

	// Later event lands first; the earlier one is delivered twice.
	for _, e := range []event.Envelope{second, first, first} {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("append %s: %v", e.EventID, err)
		}
	}

	events, err := s.Events(ctx)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("redelivery should not duplicate, got %d events", len(events))
	}
	if events[0].EventID != "e-1" || events[1].EventID != "e-2" {
		t.Fatalf("replay should be timestamp ordered, got %s,%s", events[0].EventID, events[1].EventID)
	}
	if events[0].EventType != event.TypeRoundStarted {
		t.Fatalf("type mangled: %s", events[0].EventType)
	}
}
