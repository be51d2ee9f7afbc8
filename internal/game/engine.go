package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spothuman/spothuman/internal/event"
)

// Engine is the in-process authority over match state. Every operation takes
// the engine lock, so a match is only ever mutated from the invoking call.
// The distributed deployment drives the same rules through
// internal/coordinator instead.
type Engine struct {
	mu   sync.Mutex
	repo Repository
	tpl  Template
	emit func(event.Envelope)
	log  zerolog.Logger
}

func NewEngine(repo Repository, tpl Template, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, tpl: tpl, log: log}
}

// OnEvent registers a sink receiving one event per state transition.
func (e *Engine) OnEvent(fn func(event.Envelope)) {
	e.emit = fn
}

func (e *Engine) record(env event.Envelope) {
	if e.emit != nil {
		e.emit(env)
	}
}

// CreateMatch creates a waiting match with an empty roster. An empty id gets
// a generated one.
func (e *Engine) CreateMatch(id string) (*Match, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	m := &Match{
		ID:                id,
		Status:            StatusWaiting,
		TotalRounds:       e.tpl.TotalRounds,
		TotalParticipants: e.tpl.TotalParticipants,
		HumanSeats:        e.tpl.HumanSeats,
		Participants:      []*Participant{},
		Rounds:            []*Round{},
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.repo.Put(m); err != nil {
		return nil, err
	}
	e.log.Info().Str("match", m.ID).Msg("match created")
	return m, nil
}

// AddParticipant seats a human on the roster under a random unused identity.
// Once the human quota is reached the remaining seats are filled with
// automated participants, personalities drawn round-robin from the pool.
func (e *Engine) AddParticipant(matchID, externalRef, label string) (*Participant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.repo.Get(matchID)
	if err != nil {
		return nil, err
	}
	p, err := Join(m, externalRef, label)
	if err != nil {
		return nil, err
	}
	if err := e.repo.Put(m); err != nil {
		return nil, err
	}
	e.log.Info().Str("match", m.ID).Str("identity", string(p.Identity)).Msg("participant joined")
	return p, nil
}

// StartMatch locks the roster and opens round 1.
func (e *Engine) StartMatch(matchID string) (*Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.repo.Get(matchID)
	if err != nil {
		return nil, err
	}
	r, err := Start(m)
	if err != nil {
		return nil, err
	}
	if err := e.repo.Put(m); err != nil {
		return nil, err
	}
	e.record(MatchStartedEvent(m))
	e.record(RoundStartedEvent(m.ID, r))
	e.log.Info().Str("match", m.ID).Msg("match started")
	return r, nil
}

// SubmitResponse stores one identity's answer for the current round.
// Resubmission overwrites. Returns true when this write collects the final
// response and flips the round to voting.
func (e *Engine) SubmitResponse(matchID string, id Identity, text string, generated bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.repo.Get(matchID)
	if err != nil {
		return false, err
	}
	r := m.Current()
	if m.Status != StatusRoundActive || r == nil || r.Phase != PhaseResponding {
		return false, ErrRoundNotResponding
	}
	p := m.ByIdentity(id)
	if p == nil {
		return false, ErrUnknownIdentity
	}
	r.Responses[id] = text
	events := []event.Envelope{ResponseEvent(m.ID, r.Number, p, text, generated)}

	all := len(r.Responses) == m.TotalParticipants
	if all {
		r.Phase = PhaseVoting
		m.Status = StatusRoundVoting
		events = append(events, event.New(event.TypeVotingStarted, m.ID, event.VotingStartedPayload{Round: r.Number}))
		e.log.Info().Str("match", m.ID).Int("round", r.Number).Msg("voting started")
	}
	// The write commits before any event leaves the engine; a failed put
	// must not leave phantom events in the log.
	if err := e.repo.Put(m); err != nil {
		return false, err
	}
	for _, env := range events {
		e.record(env)
	}
	return all, nil
}

// SubmitVote stores one identity's guess at the human. The final vote scores
// the round and either opens the next round or completes the match.
func (e *Engine) SubmitVote(matchID string, voter, guess Identity) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.repo.Get(matchID)
	if err != nil {
		return false, err
	}
	r := m.Current()
	if m.Status != StatusRoundVoting || r == nil || r.Phase != PhaseVoting {
		return false, ErrRoundNotVoting
	}
	if m.ByIdentity(voter) == nil || m.ByIdentity(guess) == nil {
		return false, ErrUnknownIdentity
	}
	r.Votes[voter] = guess
	events := []event.Envelope{VoteEvent(m.ID, r.Number, voter, guess)}

	all := len(r.Votes) == m.TotalParticipants
	if all {
		events = append(events, e.completeRound(m, r)...)
	}
	if err := e.repo.Put(m); err != nil {
		return false, err
	}
	for _, env := range events {
		e.record(env)
	}
	return all, nil
}

// completeRound scores the round and advances or completes the match. It
// returns the resulting events for the caller to emit once the state is
// written.
func (e *Engine) completeRound(m *Match, r *Round) []event.Envelope {
	ScoreRound(r, m.Humans())
	r.Phase = PhaseComplete
	now := time.Now().UTC()
	r.EndedAt = &now
	events := []event.Envelope{RoundCompletedEvent(m.ID, r)}

	if r.Number >= m.TotalRounds {
		m.Status = StatusCompleted
		m.FinalScores = m.SumScores()
		e.log.Info().Str("match", m.ID).Msg("match completed")
		return append(events, MatchCompletedEvent(m))
	}
	m.CurrentRound++
	next := NewRound(m.CurrentRound, PromptFor(m.CurrentRound))
	m.Rounds = append(m.Rounds, next)
	m.Status = StatusRoundActive
	e.log.Info().Str("match", m.ID).Int("round", next.Number).Msg("round started")
	return append(events, RoundStartedEvent(m.ID, next))
}

// RemoveParticipant drops the human bound to ref. A match with no humans left
// is discarded entirely; automated-only matches are not kept alive.
func (e *Engine) RemoveParticipant(externalRef string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.repo.FindByExternalRef(externalRef)
	if err != nil {
		return err
	}
	for i, p := range m.Participants {
		if p.Kind == KindHuman && p.ExternalRef == externalRef {
			m.Participants = append(m.Participants[:i], m.Participants[i+1:]...)
			break
		}
	}
	if m.HumanCount() == 0 {
		e.log.Info().Str("match", m.ID).Msg("no humans left, discarding match")
		return e.repo.Delete(m.ID)
	}
	return e.repo.Put(m)
}

// Match returns a snapshot of match state. The copy is deep, so callers may
// iterate responses and votes without racing later submissions.
func (e *Engine) Match(matchID string) (*Match, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.repo.Get(matchID)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// MatchByRef resolves a human session binding to a snapshot of its match.
func (e *Engine) MatchByRef(ref string) (*Match, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.repo.FindByExternalRef(ref)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// BotGuess picks a random identity other than the voter's own. Automated
// voters have no signal, so a uniform guess is the whole strategy.
func BotGuess(m *Match, voter Identity) Identity {
	others := make([]Identity, 0, len(m.Participants))
	for _, p := range m.Participants {
		if p.Identity != voter {
			others = append(others, p.Identity)
		}
	}
	if len(others) == 0 {
		return voter
	}
	return others[rand.Intn(len(others))]
}
