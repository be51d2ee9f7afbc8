package event

import "time"

// ParticipantInfo describes one roster seat inside match.started payloads.
type ParticipantInfo struct {
	ID          string `json:"id"`
	Identity    string `json:"identity"`
	Kind        string `json:"kind"`
	Label       string `json:"displayLabel"`
	Personality string `json:"personality,omitempty"`
}

// MatchStartedPayload captures the payload for match.started events.
type MatchStartedPayload struct {
	Participants      []ParticipantInfo `json:"participants"`
	HumanParticipants []string          `json:"humanParticipants"`
	RobotParticipants []string          `json:"robotParticipants"`
	TotalRounds       int               `json:"totalRounds"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// RoundStartedPayload captures the payload for round.started events.
type RoundStartedPayload struct {
	Round     int       `json:"round"`
	Prompt    string    `json:"prompt"`
	StartedAt time.Time `json:"startedAt"`
}

// ResponsePayload captures the payload for response.submitted and
// response.generated events.
type ResponsePayload struct {
	Round         int    `json:"round"`
	ParticipantID string `json:"participantId"`
	Identity      string `json:"identity"`
	Text          string `json:"text"`
	Personality   string `json:"personality,omitempty"`
}

// VotingStartedPayload captures the payload for voting.started events.
type VotingStartedPayload struct {
	Round int `json:"round"`
}

// VotePayload captures the payload for vote.submitted events. Round is
// carried explicitly so late deliveries cannot be mis-attributed to a newer
// round.
type VotePayload struct {
	Round int    `json:"round"`
	Voter string `json:"voter"`
	Guess string `json:"guess"`
}

// RoundCompletedPayload captures the payload for round.completed events.
type RoundCompletedPayload struct {
	Round  int            `json:"round"`
	Scores map[string]int `json:"scores"`
}

// MatchCompletedPayload captures the payload for match.completed events.
type MatchCompletedPayload struct {
	Result      map[string]int `json:"result"`
	CompletedAt time.Time      `json:"completedAt"`
	DurationMS  int64          `json:"durationMs"`
}
