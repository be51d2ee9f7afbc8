package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spothuman/spothuman/internal/event"
)

// Record status values.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// placeholderPrompt fills backfilled rounds until their round.started arrives.
const placeholderPrompt = "Unknown"

type ResponseView struct {
	ParticipantID string `json:"participantId"`
	Identity      string `json:"identity"`
	Text          string `json:"text"`
	Generated     bool   `json:"generated"`
}

type RoundView struct {
	Number    int                     `json:"round"`
	Prompt    string                  `json:"prompt"`
	Responses map[string]ResponseView `json:"responses"` // keyed by participant id
	Votes     map[string]string       `json:"votes"`     // voter identity -> guessed identity
	Scores    map[string]int          `json:"scores"`
}

// MatchHistoryRecord is the queryable read-model for one match, derived
// entirely from the event stream.
type MatchHistoryRecord struct {
	MatchID      string                  `json:"matchId"`
	Status       string                  `json:"status"`
	CreatedAt    time.Time               `json:"createdAt"`
	CompletedAt  *time.Time              `json:"completedAt,omitempty"`
	DurationMS   int64                   `json:"durationMs,omitempty"`
	Participants []event.ParticipantInfo `json:"participants"`
	Humans       []string                `json:"humanParticipants"`
	Robots       []string                `json:"robotParticipants"`
	Rounds       []*RoundView            `json:"rounds"`
	Result       map[string]int          `json:"result,omitempty"`
}

// Projector consumes match events in arrival order and maintains one record
// per match. It is the sole writer to its map and converges to the same
// record for any arrival order of the same event set. A bad or early event is
// logged and dropped, never fatal.
type Projector struct {
	mu      sync.RWMutex
	records map[string]*MatchHistoryRecord
	log     zerolog.Logger
}

func NewProjector(log zerolog.Logger) *Projector {
	return &Projector{
		records: make(map[string]*MatchHistoryRecord),
		log:     log,
	}
}

// Run consumes events from ch until it closes or ctx is done.
func (p *Projector) Run(ctx context.Context, ch <-chan event.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.Apply(e)
		}
	}
}

// Apply folds a single event into the read-model.
func (p *Projector) Apply(e event.Envelope) {
	if err := event.Validate(e); err != nil {
		p.log.Warn().Err(err).Str("event", e.EventID).Msg("dropping malformed event")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e.EventType == event.TypeMatchStarted {
		p.applyMatchStarted(e)
		return
	}

	rec := p.records[e.MatchID]
	if rec == nil {
		p.log.Warn().Str("match", e.MatchID).Str("type", string(e.EventType)).
			Msg("dropping event for unknown match")
		return
	}

	switch e.EventType {
	case event.TypeRoundStarted:
		var d event.RoundStartedPayload
		if e.Decode(&d) == nil {
			r := ensureRound(rec, d.Round)
			r.Prompt = d.Prompt
		}
	case event.TypeResponseSubmitted, event.TypeResponseGenerated:
		var d event.ResponsePayload
		if e.Decode(&d) == nil {
			r := ensureRound(rec, d.Round)
			r.Responses[d.ParticipantID] = ResponseView{
				ParticipantID: d.ParticipantID,
				Identity:      d.Identity,
				Text:          d.Text,
				Generated:     e.EventType == event.TypeResponseGenerated,
			}
		}
	case event.TypeVotingStarted:
		var d event.VotingStartedPayload
		if e.Decode(&d) == nil {
			ensureRound(rec, d.Round)
		}
	case event.TypeVoteSubmitted:
		var d event.VotePayload
		if e.Decode(&d) == nil {
			round := d.Round
			if round == 0 {
				// Legacy vote events carry no round; attach to the last round.
				round = len(rec.Rounds)
				if round == 0 {
					round = 1
				}
			}
			r := ensureRound(rec, round)
			r.Votes[d.Voter] = d.Guess
		}
	case event.TypeRoundCompleted:
		var d event.RoundCompletedPayload
		if e.Decode(&d) == nil {
			r := ensureRound(rec, d.Round)
			r.Scores = d.Scores
		}
	case event.TypeMatchCompleted:
		var d event.MatchCompletedPayload
		if e.Decode(&d) == nil {
			rec.Status = StatusCompleted
			rec.Result = d.Result
			completed := d.CompletedAt
			rec.CompletedAt = &completed
			rec.DurationMS = d.DurationMS
		}
	default:
		// Unknown types validate but are not projected.
	}
}

func (p *Projector) applyMatchStarted(e event.Envelope) {
	var d event.MatchStartedPayload
	if err := e.Decode(&d); err != nil {
		return
	}
	// Reprocessing overwrites, but an already-built record keeps its rounds so
	// a duplicate match.started cannot wipe projected play.
	rec := p.records[e.MatchID]
	if rec == nil {
		rec = &MatchHistoryRecord{MatchID: e.MatchID, Rounds: []*RoundView{}}
		p.records[e.MatchID] = rec
	}
	if rec.Status == "" {
		rec.Status = StatusInProgress
	}
	rec.CreatedAt = d.CreatedAt
	rec.Participants = d.Participants
	rec.Humans = d.HumanParticipants
	rec.Robots = d.RobotParticipants
}

// ensureRound returns the round view at 1-based index n, backfilling
// placeholder rounds for indices not seen yet so out-of-order arrival
// converges once the real round.started shows up.
func ensureRound(rec *MatchHistoryRecord, n int) *RoundView {
	for len(rec.Rounds) < n {
		rec.Rounds = append(rec.Rounds, &RoundView{
			Number:    len(rec.Rounds) + 1,
			Prompt:    placeholderPrompt,
			Responses: make(map[string]ResponseView),
			Votes:     make(map[string]string),
			Scores:    make(map[string]int),
		})
	}
	return rec.Rounds[n-1]
}

// cloneRecord deep-copies a record so query results can be marshalled or
// mutated while Apply keeps folding events into the original.
func cloneRecord(rec *MatchHistoryRecord) *MatchHistoryRecord {
	out := *rec
	if rec.CompletedAt != nil {
		completed := *rec.CompletedAt
		out.CompletedAt = &completed
	}
	out.Participants = append([]event.ParticipantInfo(nil), rec.Participants...)
	out.Humans = append([]string(nil), rec.Humans...)
	out.Robots = append([]string(nil), rec.Robots...)
	out.Rounds = make([]*RoundView, len(rec.Rounds))
	for i, r := range rec.Rounds {
		cr := *r
		cr.Responses = make(map[string]ResponseView, len(r.Responses))
		for k, v := range r.Responses {
			cr.Responses[k] = v
		}
		cr.Votes = make(map[string]string, len(r.Votes))
		for k, v := range r.Votes {
			cr.Votes[k] = v
		}
		cr.Scores = make(map[string]int, len(r.Scores))
		for k, v := range r.Scores {
			cr.Scores[k] = v
		}
		out.Rounds[i] = &cr
	}
	if rec.Result != nil {
		out.Result = make(map[string]int, len(rec.Result))
		for k, v := range rec.Result {
			out.Result[k] = v
		}
	}
	return &out
}

// Get returns a copy of the record for a match id, or nil.
func (p *Projector) Get(matchID string) *MatchHistoryRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec := p.records[matchID]
	if rec == nil {
		return nil
	}
	return cloneRecord(rec)
}

// ListAll returns every record, newest first.
func (p *Projector) ListAll() []*MatchHistoryRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*MatchHistoryRecord, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListCompleted returns completed matches, newest first.
func (p *Projector) ListCompleted() []*MatchHistoryRecord {
	all := p.ListAll()
	out := all[:0:0]
	for _, rec := range all {
		if rec.Status == StatusCompleted {
			out = append(out, rec)
		}
	}
	return out
}
