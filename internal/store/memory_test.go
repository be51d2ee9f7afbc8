package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spothuman/spothuman/internal/game"
)

type matchPutter interface {
	PutMatch(ctx context.Context, m *game.Match) error
}

func seedMatch(t *testing.T, s matchPutter) *game.Match {
	t.Helper()
	ctx := context.Background()
	joined := time.Now().UTC()
	m := &game.Match{
		ID:                "m-1",
		Status:            game.StatusRoundActive,
		CurrentRound:      1,
		TotalRounds:       1,
		TotalParticipants: 4,
		HumanSeats:        1,
		Participants: []*game.Participant{
			{ID: "p-1", Identity: "A", Kind: game.KindHuman, ExternalRef: "conn-1", JoinedAt: joined},
			{ID: "p-2", Identity: "B", Kind: game.KindAutomated, JoinedAt: joined.Add(time.Second)},
			{ID: "p-3", Identity: "C", Kind: game.KindAutomated, JoinedAt: joined.Add(2 * time.Second)},
			{ID: "p-4", Identity: "D", Kind: game.KindAutomated, JoinedAt: joined.Add(3 * time.Second)},
		},
		Rounds:    []*game.Round{game.NewRound(1, "prompt")},
		CreatedAt: joined,
	}
	if err := s.PutMatch(ctx, m); err != nil {
		t.Fatalf("put: %v", err)
	}
	return m
}

func TestSwapRoundPhaseSingleWinner(t *testing.T) {
	s := NewMemory()
	seedMatch(t, s)
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	var wins int32
	var mu sync.Mutex
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			won, err := s.SwapRoundPhase(ctx, "m-1", 1, game.PhaseResponding, game.PhaseVoting)
			if err != nil {
				t.Errorf("swap: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	m, _ := s.GetMatch(ctx, "m-1")
	if m.Rounds[0].Phase != game.PhaseVoting {
		t.Fatalf("expected voting, got %s", m.Rounds[0].Phase)
	}
}

func TestPutMatchPreservesMergedFields(t *testing.T) {
	s := NewMemory()
	m := seedMatch(t, s)
	ctx := context.Background()

	if err := s.MergeResponse(ctx, "m-1", 1, "B", "merged", true); err != nil {
		t.Fatalf("merge: %v", err)
	}
	// A stale full-record put (no responses) must not clobber the merge.
	if err := s.PutMatch(ctx, m); err != nil {
		t.Fatalf("put: %v", err)
	}
	cur, _ := s.GetMatch(ctx, "m-1")
	if cur.Rounds[0].Responses["B"] != "merged" {
		t.Fatal("put overwrote a concurrently merged response")
	}
}

func TestGetMatchReturnsIsolatedCopy(t *testing.T) {
	s := NewMemory()
	seedMatch(t, s)
	ctx := context.Background()

	a, _ := s.GetMatch(ctx, "m-1")
	a.Rounds[0].Responses["A"] = "local mutation"
	b, _ := s.GetMatch(ctx, "m-1")
	if len(b.Rounds[0].Responses) != 0 {
		t.Fatal("reads must not share state with the store")
	}
}

func TestFindByExternalRef(t *testing.T) {
	s := NewMemory()
	seedMatch(t, s)
	ctx := context.Background()

	m, err := s.FindByExternalRef(ctx, "conn-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.ID != "m-1" {
		t.Fatalf("wrong match %s", m.ID)
	}
	if _, err := s.FindByExternalRef(ctx, "nope"); err != game.ErrMatchNotFound {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}
