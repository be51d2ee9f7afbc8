package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/spothuman/spothuman/internal/ai"
	"github.com/spothuman/spothuman/internal/game"
	"github.com/spothuman/spothuman/internal/queue"
)

const generateTimeout = 15 * time.Second

// HandleMessage is the worker entry point for one queue delivery. It is safe
// under at-least-once delivery: the response/vote write is a key merge and
// the phase transition is conditional, so re-running any prefix of the
// handler converges to the same state.
func (c *Coordinator) HandleMessage(ctx context.Context, msg queue.Message) error {
	switch msg.Kind {
	case queue.KindRespond:
		return c.handleRespond(ctx, msg)
	case queue.KindVote:
		return c.handleVote(ctx, msg)
	default:
		c.log.Warn().Str("kind", string(msg.Kind)).Msg("dropping message of unknown kind")
		return nil
	}
}

func (c *Coordinator) handleRespond(ctx context.Context, msg queue.Message) error {
	m, err := c.store.GetMatch(ctx, msg.MatchID)
	if err == game.ErrMatchNotFound {
		// Match was discarded after the message was enqueued.
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Round < 1 || msg.Round > len(m.Rounds) {
		return nil
	}
	r := m.Rounds[msg.Round-1]
	if r.Phase != game.PhaseResponding {
		// The round moved on; a late or duplicate delivery has nothing to do.
		return nil
	}
	p := m.ByIdentity(msg.Identity)
	if p == nil || p.Kind != game.KindAutomated {
		return nil
	}
	if _, done := r.Responses[msg.Identity]; done {
		// Already applied by an earlier delivery; just re-run the completion
		// check in case that delivery died before it.
		return c.checkResponsesComplete(ctx, msg.MatchID, msg.Round)
	}

	if err := c.staggerWait(ctx, m, msg.Identity); err != nil {
		return err
	}

	text := c.generate(ctx, p, r)
	if err := c.store.MergeResponse(ctx, msg.MatchID, msg.Round, msg.Identity, text, true); err != nil {
		return err
	}
	c.record(ctx, game.ResponseEvent(msg.MatchID, msg.Round, p, text, true))
	return c.checkResponsesComplete(ctx, msg.MatchID, msg.Round)
}

func (c *Coordinator) handleVote(ctx context.Context, msg queue.Message) error {
	m, err := c.store.GetMatch(ctx, msg.MatchID)
	if err == game.ErrMatchNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Round < 1 || msg.Round > len(m.Rounds) {
		return nil
	}
	r := m.Rounds[msg.Round-1]
	if r.Phase != game.PhaseVoting {
		return nil
	}
	p := m.ByIdentity(msg.Identity)
	if p == nil || p.Kind != game.KindAutomated {
		return nil
	}
	if _, done := r.Votes[msg.Identity]; done {
		return c.checkVotesComplete(ctx, msg.MatchID, msg.Round)
	}

	if err := c.staggerWait(ctx, m, msg.Identity); err != nil {
		return err
	}

	guess := game.BotGuess(m, msg.Identity)
	if err := c.store.MergeVote(ctx, msg.MatchID, msg.Round, msg.Identity, guess); err != nil {
		return err
	}
	c.record(ctx, game.VoteEvent(msg.MatchID, msg.Round, msg.Identity, guess))
	return c.checkVotesComplete(ctx, msg.MatchID, msg.Round)
}

// staggerWait sleeps a fixed per-identity delay (1st automated seat none,
// 2nd one step, ...) so concurrent workers don't hit the generation port at
// once. Pure scheduling, not a correctness requirement.
func (c *Coordinator) staggerWait(ctx context.Context, m *game.Match, identity game.Identity) error {
	if c.stagger <= 0 {
		return nil
	}
	bots := m.Automated()
	sort.Slice(bots, func(i, j int) bool { return bots[i].Identity < bots[j].Identity })
	idx := 0
	for i, b := range bots {
		if b.Identity == identity {
			idx = i
			break
		}
	}
	if idx == 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(idx) * c.stagger):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// generate calls the generation port with a bounded context and falls back to
// a canned, personality-tagged response on failure. Generation can never
// block a round.
func (c *Coordinator) generate(ctx context.Context, p *game.Participant, r *game.Round) string {
	if c.gen == nil {
		return ai.Fallback(p.Personality, r.Prompt)
	}
	gctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()
	prior := make([]string, 0, len(r.Responses))
	for _, text := range r.Responses {
		prior = append(prior, text)
	}
	text, err := c.gen.Generate(gctx, p.Personality, r.Prompt, prior)
	if err != nil || text == "" {
		c.log.Warn().Err(err).Str("identity", string(p.Identity)).Msg("generation failed, using fallback")
		return ai.Fallback(p.Personality, r.Prompt)
	}
	return text
}
