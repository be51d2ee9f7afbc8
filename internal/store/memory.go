package store

import (
	"context"
	"sync"
	"time"

	"github.com/spothuman/spothuman/internal/game"
)

// Memory is an in-process implementation of the same storage surface as
// Store: per-key merges and compare-and-swap transitions under one mutex.
// It backs tests, including the concurrent-writer ones, without SQLite.
type Memory struct {
	mu      sync.Mutex
	matches map[string]*game.Match
}

func NewMemory() *Memory {
	return &Memory{matches: make(map[string]*game.Match)}
}

func (s *Memory) GetMatch(_ context.Context, id string) (*game.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.matches[id]
	if m == nil {
		return nil, game.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (s *Memory) FindByExternalRef(_ context.Context, ref string) (*game.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.ByExternalRef(ref) != nil {
			return m.Clone(), nil
		}
	}
	return nil, game.ErrMatchNotFound
}

func (s *Memory) PutMatch(_ context.Context, m *game.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := m.Clone()
	// Preserve responses/votes already merged by concurrent writers; a put
	// only carries match record, roster, and round metadata.
	if old := s.matches[m.ID]; old != nil {
		for i, r := range old.Rounds {
			if i < len(stored.Rounds) {
				stored.Rounds[i].Responses = r.Responses
				stored.Rounds[i].Votes = r.Votes
			}
		}
	}
	s.matches[m.ID] = stored
	return nil
}

func (s *Memory) DeleteMatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matches, id)
	return nil
}

// DeleteParticipant removes one roster seat. Match and round state are not
// touched, so a removal can never undo a concurrent phase transition.
func (s *Memory) DeleteParticipant(_ context.Context, matchID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.matches[matchID]
	if m == nil {
		return game.ErrMatchNotFound
	}
	for i, p := range m.Participants {
		if p.ID == participantID {
			m.Participants = append(m.Participants[:i], m.Participants[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Memory) round(matchID string, round int) *game.Round {
	m := s.matches[matchID]
	if m == nil || round < 1 || round > len(m.Rounds) {
		return nil
	}
	return m.Rounds[round-1]
}

func (s *Memory) MergeResponse(_ context.Context, matchID string, round int, identity game.Identity, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(matchID, round)
	if r == nil {
		return game.ErrMatchNotFound
	}
	r.Responses[identity] = text
	return nil
}

func (s *Memory) MergeVote(_ context.Context, matchID string, round int, voter, guess game.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(matchID, round)
	if r == nil {
		return game.ErrMatchNotFound
	}
	r.Votes[voter] = guess
	return nil
}

func (s *Memory) SwapRoundPhase(_ context.Context, matchID string, round int, from, to game.Phase) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(matchID, round)
	if r == nil {
		return false, game.ErrMatchNotFound
	}
	if r.Phase != from {
		return false, nil
	}
	r.Phase = to
	return true, nil
}

func (s *Memory) SwapMatchStatus(_ context.Context, matchID string, from, to game.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.matches[matchID]
	if m == nil {
		return false, game.ErrMatchNotFound
	}
	if m.Status != from {
		return false, nil
	}
	m.Status = to
	return true, nil
}

func (s *Memory) SaveRoundResult(_ context.Context, matchID string, round int, scores map[game.Identity]int, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(matchID, round)
	if r == nil {
		return game.ErrMatchNotFound
	}
	r.Scores = scores
	r.EndedAt = &endedAt
	return nil
}

func (s *Memory) AppendRound(_ context.Context, matchID string, r *game.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.matches[matchID]
	if m == nil {
		return game.ErrMatchNotFound
	}
	if r.Number == len(m.Rounds)+1 {
		m.Rounds = append(m.Rounds, game.NewRound(r.Number, r.Prompt))
	}
	m.CurrentRound = r.Number
	return nil
}

func (s *Memory) CompleteMatch(_ context.Context, matchID string, finalScores map[game.Identity]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.matches[matchID]
	if m == nil {
		return game.ErrMatchNotFound
	}
	m.Status = game.StatusCompleted
	m.FinalScores = finalScores
	return nil
}
