package ws

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog"

	"github.com/spothuman/spothuman/internal/ai"
	"github.com/spothuman/spothuman/internal/event"
	"github.com/spothuman/spothuman/internal/game"
)

type ConnCtx struct {
	MatchID  string
	Identity game.Identity
}

// Server bridges socket connections to the engine. Human actions come in as
// socket events keyed by the connection's seat; state snapshots go out
// fire-and-forget after every transition.
type Server struct {
	engine  *game.Engine
	gen     ai.Generator
	stagger time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // matchID -> socketID -> Conn
}

func New(engine *game.Engine, gen ai.Generator, stagger time.Duration, log zerolog.Logger) *Server {
	return &Server{
		engine:  engine,
		gen:     gen,
		stagger: stagger,
		log:     log,
		members: make(map[string]map[string]socketio.Conn),
	}
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		srv.log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// match:create
	io.OnEvent("/", "match:create", func(s socketio.Conn) map[string]any {
		m, err := srv.engine.CreateMatch("")
		if err != nil {
			return srv.err(s, "create_failed", err.Error())
		}
		srv.log.Info().Str("sid", s.ID()).Str("match", m.ID).Msg("match:create")
		return map[string]any{"matchId": m.ID}
	})

	// match:join
	io.OnEvent("/", "match:join", func(s socketio.Conn, payload struct {
		MatchID string `json:"matchId"`
		Name    string `json:"name"`
	}) map[string]any {
		p, err := srv.engine.AddParticipant(payload.MatchID, s.ID(), payload.Name)
		if err != nil {
			return srv.errFor(s, err)
		}
		s.SetContext(&ConnCtx{MatchID: payload.MatchID, Identity: p.Identity})
		s.Join(payload.MatchID)
		srv.addMember(payload.MatchID, s)
		srv.log.Info().Str("sid", s.ID()).Str("match", payload.MatchID).
			Str("identity", string(p.Identity)).Msg("match:join")
		srv.pushState(payload.MatchID)
		return map[string]any{"matchId": payload.MatchID, "identity": string(p.Identity)}
	})

	// match:start
	io.OnEvent("/", "match:start", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.MatchID == "" {
			return srv.err(s, "not_joined", "join a match first")
		}
		if _, err := srv.engine.StartMatch(ctx.MatchID); err != nil {
			return srv.errFor(s, err)
		}
		srv.log.Info().Str("match", ctx.MatchID).Msg("match:start")
		return map[string]any{"ok": true}
	})

	// match:submit
	io.OnEvent("/", "match:submit", func(s socketio.Conn, payload struct {
		Text string `json:"text"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.MatchID == "" {
			return srv.err(s, "not_joined", "join a match first")
		}
		if _, err := srv.engine.SubmitResponse(ctx.MatchID, ctx.Identity, payload.Text, false); err != nil {
			return srv.errFor(s, err)
		}
		return map[string]any{"ok": true}
	})

	// match:vote
	io.OnEvent("/", "match:vote", func(s socketio.Conn, payload struct {
		Guess string `json:"guess"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.MatchID == "" {
			return srv.err(s, "not_joined", "join a match first")
		}
		if _, err := srv.engine.SubmitVote(ctx.MatchID, ctx.Identity, game.Identity(payload.Guess)); err != nil {
			return srv.errFor(s, err)
		}
		return map[string]any{"ok": true}
	})

	// match:state (explicit refresh, e.g. after a dropped push)
	io.OnEvent("/", "match:state", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		m, err := srv.engine.Match(ctx.MatchID)
		if err != nil {
			return srv.errFor(s, err)
		}
		s.Emit("match:state", srv.statePayload(m, ctx.Identity))
		return map[string]any{"ok": true}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		srv.log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.MatchID != "" {
			srv.removeMember(ctx.MatchID, s)
			if err := srv.engine.RemoveParticipant(s.ID()); err == nil {
				srv.pushState(ctx.MatchID)
			}
		}
		srv.log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// Run consumes the event stream, pushing a snapshot to every member after
// each transition and kicking off automated play when a round opens. The bot
// goroutines re-enter the engine, so they never run on this loop.
func (srv *Server) Run(ctx context.Context, ch <-chan event.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			srv.pushState(e.MatchID)
			switch e.EventType {
			case event.TypeRoundStarted:
				go srv.botRespond(ctx, e.MatchID)
			case event.TypeVotingStarted:
				go srv.botVote(ctx, e.MatchID)
			}
		}
	}
}

// botRespond generates one answer per automated seat still missing, staggered
// so responses trickle in like typed ones.
func (srv *Server) botRespond(ctx context.Context, matchID string) {
	m, err := srv.engine.Match(matchID)
	if err != nil {
		return
	}
	r := m.Current()
	if r == nil || r.Phase != game.PhaseResponding {
		return
	}
	prior := make([]string, 0, len(r.Responses))
	for _, text := range r.Responses {
		prior = append(prior, text)
	}
	for i, bot := range pendingBots(m, r.Responses) {
		if !srv.wait(ctx, i) {
			return
		}
		text := srv.generate(ctx, bot.Personality, r.Prompt, prior)
		if _, err := srv.engine.SubmitResponse(matchID, bot.Identity, text, true); err != nil {
			// Round moved on (e.g. the match was discarded); stop quietly.
			return
		}
		prior = append(prior, text)
	}
}

func (srv *Server) botVote(ctx context.Context, matchID string) {
	m, err := srv.engine.Match(matchID)
	if err != nil {
		return
	}
	r := m.Current()
	if r == nil || r.Phase != game.PhaseVoting {
		return
	}
	for i, bot := range pendingBots(m, r.Votes) {
		if !srv.wait(ctx, i) {
			return
		}
		if _, err := srv.engine.SubmitVote(matchID, bot.Identity, game.BotGuess(m, bot.Identity)); err != nil {
			return
		}
	}
}

func (srv *Server) wait(ctx context.Context, idx int) bool {
	if srv.stagger <= 0 || idx == 0 {
		return true
	}
	select {
	case <-time.After(srv.stagger):
		return true
	case <-ctx.Done():
		return false
	}
}

func (srv *Server) generate(ctx context.Context, personality, prompt string, prior []string) string {
	if srv.gen == nil {
		return ai.Fallback(personality, prompt)
	}
	genCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	text, err := srv.gen.Generate(genCtx, personality, prompt, prior)
	if err != nil || text == "" {
		srv.log.Warn().Err(err).Str("personality", personality).Msg("generation failed, using fallback")
		return ai.Fallback(personality, prompt)
	}
	return text
}

func (srv *Server) addMember(matchID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[matchID] == nil {
		srv.members[matchID] = make(map[string]socketio.Conn)
	}
	srv.members[matchID][c.ID()] = c
}

func (srv *Server) removeMember(matchID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[matchID]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, matchID)
		}
	}
}

func (srv *Server) conns(matchID string) []socketio.Conn {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]socketio.Conn, 0, len(srv.members[matchID]))
	for _, c := range srv.members[matchID] {
		out = append(out, c)
	}
	return out
}

func (srv *Server) pushState(matchID string) {
	m, err := srv.engine.Match(matchID)
	if err != nil {
		return
	}
	for _, c := range srv.conns(matchID) {
		ctx, _ := c.Context().(*ConnCtx)
		you := game.Identity("")
		if ctx != nil {
			you = ctx.Identity
		}
		c.Emit("match:state", srv.statePayload(m, you))
	}
}

// statePayload is the personalized snapshot. Identities stay anonymous until
// the match completes; only then are the human seats revealed.
func (srv *Server) statePayload(m *game.Match, you game.Identity) map[string]any {
	identities := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		identities = append(identities, string(p.Identity))
	}
	sort.Strings(identities)

	out := map[string]any{
		"matchId":     m.ID,
		"status":      string(m.Status),
		"totalRounds": m.TotalRounds,
		"identities":  identities,
		"you":         map[string]any{"identity": string(you)},
	}
	if r := m.Current(); r != nil {
		round := map[string]any{
			"number":        r.Number,
			"prompt":        r.Prompt,
			"phase":         string(r.Phase),
			"responseCount": len(r.Responses),
			"voteCount":     len(r.Votes),
		}
		if r.Phase != game.PhaseResponding {
			round["responses"] = identityMap(r.Responses)
		}
		out["round"] = round
	}
	if m.Status == game.StatusCompleted {
		humans := make([]string, 0, m.HumanSeats)
		for id := range m.Humans() {
			humans = append(humans, string(id))
		}
		sort.Strings(humans)
		out["humans"] = humans
		out["finalScores"] = scoreMap(m.FinalScores)
	}
	return out
}

func (srv *Server) errFor(s socketio.Conn, err error) map[string]any {
	code := "bad_request"
	switch {
	case errors.Is(err, game.ErrMatchNotFound):
		code = "match_not_found"
	case errors.Is(err, game.ErrMatchFull):
		code = "match_full"
	case errors.Is(err, game.ErrAlreadyStarted):
		code = "already_started"
	case errors.Is(err, game.ErrRosterIncomplete):
		code = "roster_incomplete"
	}
	return srv.err(s, code, err.Error())
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}

func pendingBots[V any](m *game.Match, done map[game.Identity]V) []*game.Participant {
	bots := make([]*game.Participant, 0, len(m.Participants))
	for _, p := range m.Automated() {
		if _, ok := done[p.Identity]; !ok {
			bots = append(bots, p)
		}
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].Identity < bots[j].Identity })
	return bots
}

func identityMap(in map[game.Identity]string) map[string]string {
	out := make(map[string]string, len(in))
	for id, v := range in {
		out[string(id)] = v
	}
	return out
}

func scoreMap(in map[game.Identity]int) map[string]int {
	out := make(map[string]int, len(in))
	for id, v := range in {
		out[string(id)] = v
	}
	return out
}
