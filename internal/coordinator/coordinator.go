package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spothuman/spothuman/internal/ai"
	"github.com/spothuman/spothuman/internal/event"
	"github.com/spothuman/spothuman/internal/game"
	"github.com/spothuman/spothuman/internal/queue"
)

// Store is the durable match store surface the coordinator needs: strongly
// consistent read-after-write on a single key, field-level merges, and
// compare-and-swap transitions. internal/store provides both the SQLite and
// the in-memory implementation.
type Store interface {
	GetMatch(ctx context.Context, id string) (*game.Match, error)
	FindByExternalRef(ctx context.Context, ref string) (*game.Match, error)
	PutMatch(ctx context.Context, m *game.Match) error
	DeleteMatch(ctx context.Context, id string) error
	DeleteParticipant(ctx context.Context, matchID, participantID string) error
	MergeResponse(ctx context.Context, matchID string, round int, identity game.Identity, text string, generated bool) error
	MergeVote(ctx context.Context, matchID string, round int, voter, guess game.Identity) error
	SwapRoundPhase(ctx context.Context, matchID string, round int, from, to game.Phase) (bool, error)
	SwapMatchStatus(ctx context.Context, matchID string, from, to game.Status) (bool, error)
	SaveRoundResult(ctx context.Context, matchID string, round int, scores map[game.Identity]int, endedAt time.Time) error
	AppendRound(ctx context.Context, matchID string, r *game.Round) error
	CompleteMatch(ctx context.Context, matchID string, finalScores map[game.Identity]int) error
}

// Coordinator drives the same match rules as game.Engine when state lives in
// a shared store and automated participants run as queue workers. There is no
// lock anywhere: correctness rests on merge-not-overwrite writes plus the
// conditional phase swap being the only mutation that can double-fire.
type Coordinator struct {
	store   Store
	queue   queue.Queue
	gen     ai.Generator
	events  event.Log
	tpl     game.Template
	stagger time.Duration
	log     zerolog.Logger
}

type Option func(*Coordinator)

// WithStagger overrides the per-identity delay step between automated
// generation calls. Zero disables staggering (useful in tests).
func WithStagger(d time.Duration) Option {
	return func(c *Coordinator) { c.stagger = d }
}

func New(store Store, q queue.Queue, gen ai.Generator, events event.Log, tpl game.Template, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		queue:   q,
		gen:     gen,
		events:  events,
		tpl:     tpl,
		stagger: 2 * time.Second,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) record(ctx context.Context, e event.Envelope) {
	if c.events == nil {
		return
	}
	if err := c.events.Append(ctx, e); err != nil {
		// The log is a projection, not the source of truth; a failed append
		// must not fail the transition that produced it.
		c.log.Error().Err(err).Str("type", string(e.EventType)).Msg("event append failed")
	}
}

// CreateMatch creates a waiting match with an empty roster.
func (c *Coordinator) CreateMatch(ctx context.Context, id string) (*game.Match, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m := &game.Match{
		ID:                id,
		Status:            game.StatusWaiting,
		TotalRounds:       c.tpl.TotalRounds,
		TotalParticipants: c.tpl.TotalParticipants,
		HumanSeats:        c.tpl.HumanSeats,
		Participants:      []*game.Participant{},
		Rounds:            []*game.Round{},
		CreatedAt:         time.Now().UTC(),
	}
	if err := c.store.PutMatch(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddParticipant seats a human; roster rules are shared with the engine.
// Roster formation happens before any worker fan-out, so a full-record put is
// safe here.
func (c *Coordinator) AddParticipant(ctx context.Context, matchID, externalRef, label string) (*game.Participant, error) {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	p, err := game.Join(m, externalRef, label)
	if err != nil {
		return nil, err
	}
	if err := c.store.PutMatch(ctx, m); err != nil {
		return nil, err
	}
	return p, nil
}

// StartMatch locks the roster, opens round 1 and fans out one
// response-request per automated participant. The waiting->round_active swap
// makes a raced double start harmless.
func (c *Coordinator) StartMatch(ctx context.Context, matchID string) (*game.Round, error) {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if len(m.Participants) != m.TotalParticipants {
		return nil, game.ErrRosterIncomplete
	}
	ok, err := c.store.SwapMatchStatus(ctx, matchID, game.StatusWaiting, game.StatusRoundActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, game.ErrAlreadyStarted
	}
	r := game.NewRound(1, game.PromptFor(1))
	if err := c.store.AppendRound(ctx, matchID, r); err != nil {
		return nil, err
	}
	m.Status = game.StatusRoundActive
	m.CurrentRound = 1
	m.Rounds = append(m.Rounds, r)
	c.record(ctx, game.MatchStartedEvent(m))
	c.record(ctx, game.RoundStartedEvent(m.ID, r))
	c.enqueueAll(ctx, m, r.Number, queue.KindRespond)
	c.log.Info().Str("match", m.ID).Msg("match started")
	return r, nil
}

// SubmitResponse is the human submission path: merge one key into the round's
// responses, re-request any automated participant still missing, then run the
// completion check.
func (c *Coordinator) SubmitResponse(ctx context.Context, matchID string, identity game.Identity, text string) error {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	r := m.Current()
	if m.Status != game.StatusRoundActive || r == nil || r.Phase != game.PhaseResponding {
		return game.ErrRoundNotResponding
	}
	p := m.ByIdentity(identity)
	if p == nil {
		return game.ErrUnknownIdentity
	}
	if err := c.store.MergeResponse(ctx, matchID, r.Number, identity, text, false); err != nil {
		return err
	}
	c.record(ctx, game.ResponseEvent(matchID, r.Number, p, text, false))

	for _, bot := range m.Automated() {
		if _, done := r.Responses[bot.Identity]; !done {
			c.enqueue(ctx, queue.Message{
				Kind: queue.KindRespond, MatchID: matchID, Round: r.Number, Identity: bot.Identity,
			})
		}
	}
	return c.checkResponsesComplete(ctx, matchID, r.Number)
}

// SubmitVote is the human voting path.
func (c *Coordinator) SubmitVote(ctx context.Context, matchID string, voter, guess game.Identity) error {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	r := m.Current()
	if m.Status != game.StatusRoundVoting || r == nil || r.Phase != game.PhaseVoting {
		return game.ErrRoundNotVoting
	}
	if m.ByIdentity(voter) == nil || m.ByIdentity(guess) == nil {
		return game.ErrUnknownIdentity
	}
	if err := c.store.MergeVote(ctx, matchID, r.Number, voter, guess); err != nil {
		return err
	}
	c.record(ctx, game.VoteEvent(matchID, r.Number, voter, guess))
	return c.checkVotesComplete(ctx, matchID, r.Number)
}

// RemoveParticipant drops the human bound to ref; a humanless match is
// discarded. The removal is a field-level delete of the one roster row, so
// it cannot write back stale phase or status over a concurrent worker's
// transition.
func (c *Coordinator) RemoveParticipant(ctx context.Context, externalRef string) error {
	m, err := c.store.FindByExternalRef(ctx, externalRef)
	if err != nil {
		return err
	}
	p := m.ByExternalRef(externalRef)
	if p == nil {
		return game.ErrMatchNotFound
	}
	if m.HumanCount() <= 1 {
		c.log.Info().Str("match", m.ID).Msg("no humans left, discarding match")
		return c.store.DeleteMatch(ctx, m.ID)
	}
	return c.store.DeleteParticipant(ctx, m.ID, p.ID)
}

func (c *Coordinator) enqueue(ctx context.Context, msg queue.Message) {
	if err := c.queue.Enqueue(ctx, msg); err != nil {
		// Enqueue failure is transient infrastructure: the next human write
		// or redelivered message re-requests the missing participants.
		c.log.Error().Err(err).Str("match", msg.MatchID).Msg("enqueue failed")
	}
}

func (c *Coordinator) enqueueAll(ctx context.Context, m *game.Match, round int, kind queue.Kind) {
	for _, bot := range m.Automated() {
		c.enqueue(ctx, queue.Message{Kind: kind, MatchID: m.ID, Round: round, Identity: bot.Identity})
	}
}

// checkResponsesComplete re-reads the round and, when every seat has
// responded, attempts the responding->voting swap. Racing writers all observe
// completeness; exactly one wins the swap and runs the voting fan-out.
func (c *Coordinator) checkResponsesComplete(ctx context.Context, matchID string, round int) error {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if round < 1 || round > len(m.Rounds) {
		return fmt.Errorf("round %d out of range for match %s", round, matchID)
	}
	r := m.Rounds[round-1]
	if len(r.Responses) < m.TotalParticipants {
		return nil
	}
	won, err := c.store.SwapRoundPhase(ctx, matchID, round, game.PhaseResponding, game.PhaseVoting)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	if _, err := c.store.SwapMatchStatus(ctx, matchID, game.StatusRoundActive, game.StatusRoundVoting); err != nil {
		return err
	}
	c.record(ctx, event.New(event.TypeVotingStarted, matchID, event.VotingStartedPayload{Round: round}))
	c.enqueueAll(ctx, m, round, queue.KindVote)
	c.log.Info().Str("match", matchID).Int("round", round).Msg("voting started")
	return nil
}

// checkVotesComplete is the symmetric check on the voting side. The
// voting->complete swap winner scores the round and either opens the next
// round or completes the match; every step after the swap has a single
// writer.
func (c *Coordinator) checkVotesComplete(ctx context.Context, matchID string, round int) error {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if round < 1 || round > len(m.Rounds) {
		return fmt.Errorf("round %d out of range for match %s", round, matchID)
	}
	r := m.Rounds[round-1]
	if len(r.Votes) < m.TotalParticipants {
		return nil
	}
	won, err := c.store.SwapRoundPhase(ctx, matchID, round, game.PhaseVoting, game.PhaseComplete)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	game.ScoreRound(r, m.Humans())
	endedAt := time.Now().UTC()
	if err := c.store.SaveRoundResult(ctx, matchID, round, r.Scores, endedAt); err != nil {
		return err
	}
	r.Phase = game.PhaseComplete
	c.record(ctx, game.RoundCompletedEvent(matchID, r))
	c.log.Info().Str("match", matchID).Int("round", round).Msg("round completed")

	if round >= m.TotalRounds {
		m.FinalScores = m.SumScores()
		if err := c.store.CompleteMatch(ctx, matchID, m.FinalScores); err != nil {
			return err
		}
		m.Status = game.StatusCompleted
		c.record(ctx, game.MatchCompletedEvent(m))
		c.log.Info().Str("match", matchID).Msg("match completed")
		return nil
	}

	next := game.NewRound(round+1, game.PromptFor(round+1))
	if err := c.store.AppendRound(ctx, matchID, next); err != nil {
		return err
	}
	if _, err := c.store.SwapMatchStatus(ctx, matchID, game.StatusRoundVoting, game.StatusRoundActive); err != nil {
		return err
	}
	c.record(ctx, game.RoundStartedEvent(matchID, next))
	c.enqueueAll(ctx, m, next.Number, queue.KindRespond)
	c.log.Info().Str("match", matchID).Int("round", next.Number).Msg("round started")
	return nil
}
