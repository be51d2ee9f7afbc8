package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies the type of a match event.
type Type string

// Match lifecycle events.
const (
	// TypeMatchStarted records roster lock-in and the start of play.
	TypeMatchStarted Type = "match.started"
	// TypeMatchCompleted records the final round completing.
	TypeMatchCompleted Type = "match.completed"
)

// Round events.
const (
	// TypeRoundStarted records a round opening for responses.
	TypeRoundStarted Type = "round.started"
	// TypeVotingStarted records the last response arriving.
	TypeVotingStarted Type = "voting.started"
	// TypeRoundCompleted records the last vote arriving and scores being set.
	TypeRoundCompleted Type = "round.completed"
)

// Submission events.
const (
	// TypeResponseSubmitted records a human response.
	TypeResponseSubmitted Type = "response.submitted"
	// TypeResponseGenerated records an automated response.
	TypeResponseGenerated Type = "response.generated"
	// TypeVoteSubmitted records a single vote.
	TypeVoteSubmitted Type = "vote.submitted"
)

// Envelope is one immutable entry in the append-only match event log.
// Events are a projection of live match state, not a second source of truth.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType Type            `json:"eventType"`
	MatchID   string          `json:"matchId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an envelope for the given type and payload. Payload marshal
// errors are impossible for the closed payload set, so they are swallowed
// into an empty object rather than returned.
func New(t Type, matchID string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: t,
		MatchID:   matchID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	return json.Unmarshal(e.Data, out)
}
