package game

import (
	"time"
)

type Phase string

const (
	PhaseResponding Phase = "responding"
	PhaseVoting     Phase = "voting"
	PhaseComplete   Phase = "complete"
)

type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusRoundActive Status = "round_active"
	StatusRoundVoting Status = "round_voting"
	StatusCompleted   Status = "completed"
)

type Kind string

const (
	KindHuman     Kind = "human"
	KindAutomated Kind = "automated"
)

// Identity is the anonymized label (A, B, C, ...) a participant plays under
// for the duration of a match. Assigned once, never reassigned.
type Identity string

const identityAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Alphabet returns the ordered identity set for a match of n seats.
func Alphabet(n int) []Identity {
	if n > len(identityAlphabet) {
		n = len(identityAlphabet)
	}
	out := make([]Identity, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Identity(identityAlphabet[i:i+1]))
	}
	return out
}

type Participant struct {
	ID          string    `json:"id"`
	Identity    Identity  `json:"identity"`
	Kind        Kind      `json:"kind"`
	Label       string    `json:"displayLabel"`
	Personality string    `json:"personality,omitempty"`
	ExternalRef string    `json:"-"` // session/connection binding, humans only
	JoinedAt    time.Time `json:"joinedAt"`
}

type Round struct {
	Number    int                   `json:"roundNumber"`
	Prompt    string                `json:"prompt"`
	Responses map[Identity]string   `json:"responses"`
	Votes     map[Identity]Identity `json:"votes"`
	Scores    map[Identity]int      `json:"scores"`
	Phase     Phase                 `json:"phase"`
	StartedAt time.Time             `json:"startTime"`
	EndedAt   *time.Time            `json:"endTime,omitempty"`
}

func NewRound(number int, prompt string) *Round {
	return &Round{
		Number:    number,
		Prompt:    prompt,
		Responses: make(map[Identity]string),
		Votes:     make(map[Identity]Identity),
		Scores:    make(map[Identity]int),
		Phase:     PhaseResponding,
		StartedAt: time.Now().UTC(),
	}
}

type Match struct {
	ID                string           `json:"matchId"`
	Status            Status           `json:"status"`
	CurrentRound      int              `json:"currentRound"`
	TotalRounds       int              `json:"totalRounds"`
	TotalParticipants int              `json:"totalParticipants"`
	HumanSeats        int              `json:"humanSeats"`
	Participants      []*Participant   `json:"participants"`
	Rounds            []*Round         `json:"rounds"`
	FinalScores       map[Identity]int `json:"finalScores,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// Clone returns a deep copy of the match. Reads that escape the owning
// lock (snapshot pushes, background bot play) get clones, so iterating a
// returned match never races a concurrent submission.
func (m *Match) Clone() *Match {
	out := *m
	out.Participants = make([]*Participant, len(m.Participants))
	for i, p := range m.Participants {
		cp := *p
		out.Participants[i] = &cp
	}
	out.Rounds = make([]*Round, len(m.Rounds))
	for i, r := range m.Rounds {
		cr := *r
		cr.Responses = make(map[Identity]string, len(r.Responses))
		for k, v := range r.Responses {
			cr.Responses[k] = v
		}
		cr.Votes = make(map[Identity]Identity, len(r.Votes))
		for k, v := range r.Votes {
			cr.Votes[k] = v
		}
		cr.Scores = make(map[Identity]int, len(r.Scores))
		for k, v := range r.Scores {
			cr.Scores[k] = v
		}
		if r.EndedAt != nil {
			ended := *r.EndedAt
			cr.EndedAt = &ended
		}
		out.Rounds[i] = &cr
	}
	if m.FinalScores != nil {
		out.FinalScores = make(map[Identity]int, len(m.FinalScores))
		for k, v := range m.FinalScores {
			out.FinalScores[k] = v
		}
	}
	return &out
}

// Template is a named roster shape used at match creation.
type Template struct {
	Name              string
	TotalParticipants int
	HumanSeats        int
	TotalRounds       int
}

// DefaultTemplate seats two humans and two automated participants for five rounds.
var DefaultTemplate = Template{
	Name:              "classic",
	TotalParticipants: 4,
	HumanSeats:        2,
	TotalRounds:       5,
}

func (m *Match) Current() *Round {
	if m.CurrentRound == 0 || len(m.Rounds) < m.CurrentRound {
		return nil
	}
	return m.Rounds[m.CurrentRound-1]
}

func (m *Match) ByIdentity(id Identity) *Participant {
	for _, p := range m.Participants {
		if p.Identity == id {
			return p
		}
	}
	return nil
}

func (m *Match) ByExternalRef(ref string) *Participant {
	for _, p := range m.Participants {
		if p.Kind == KindHuman && p.ExternalRef == ref {
			return p
		}
	}
	return nil
}

// Humans returns the set of identities held by human participants.
func (m *Match) Humans() map[Identity]bool {
	out := make(map[Identity]bool)
	for _, p := range m.Participants {
		if p.Kind == KindHuman {
			out[p.Identity] = true
		}
	}
	return out
}

func (m *Match) HumanCount() int {
	n := 0
	for _, p := range m.Participants {
		if p.Kind == KindHuman {
			n++
		}
	}
	return n
}

func (m *Match) Automated() []*Participant {
	out := make([]*Participant, 0, len(m.Participants))
	for _, p := range m.Participants {
		if p.Kind == KindAutomated {
			out = append(out, p)
		}
	}
	return out
}

func (m *Match) identityTaken(id Identity) bool {
	return m.ByIdentity(id) != nil
}

// ScoreRound fills the round's score map: one point per vote that names any
// human identity. A self-vote only scores if the voter is itself human, which
// is a correct guess by definition.
func ScoreRound(r *Round, humans map[Identity]bool) {
	for voter, guess := range r.Votes {
		if humans[guess] {
			r.Scores[voter] = 1
		} else {
			r.Scores[voter] = 0
		}
	}
}

// SumScores sums per-round scores across all rounds played so far.
func (m *Match) SumScores() map[Identity]int {
	totals := make(map[Identity]int)
	for _, p := range m.Participants {
		totals[p.Identity] = 0
	}
	for _, r := range m.Rounds {
		for id, s := range r.Scores {
			totals[id] += s
		}
	}
	return totals
}
