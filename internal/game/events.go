package game

import (
	"time"

	"github.com/spothuman/spothuman/internal/event"
)

// Event builders shared by the in-process engine and the distributed
// coordinator, so both deployments emit identical envelopes per transition.

func MatchStartedEvent(m *Match) event.Envelope {
	p := event.MatchStartedPayload{
		Participants:      make([]event.ParticipantInfo, 0, len(m.Participants)),
		HumanParticipants: []string{},
		RobotParticipants: []string{},
		TotalRounds:       m.TotalRounds,
		CreatedAt:         m.CreatedAt,
	}
	for _, part := range m.Participants {
		p.Participants = append(p.Participants, event.ParticipantInfo{
			ID:          part.ID,
			Identity:    string(part.Identity),
			Kind:        string(part.Kind),
			Label:       part.Label,
			Personality: part.Personality,
		})
		if part.Kind == KindHuman {
			p.HumanParticipants = append(p.HumanParticipants, part.ID)
		} else {
			p.RobotParticipants = append(p.RobotParticipants, part.ID)
		}
	}
	return event.New(event.TypeMatchStarted, m.ID, p)
}

func RoundStartedEvent(matchID string, r *Round) event.Envelope {
	return event.New(event.TypeRoundStarted, matchID, event.RoundStartedPayload{
		Round:     r.Number,
		Prompt:    r.Prompt,
		StartedAt: r.StartedAt,
	})
}

func ResponseEvent(matchID string, round int, p *Participant, text string, generated bool) event.Envelope {
	t := event.TypeResponseSubmitted
	if generated {
		t = event.TypeResponseGenerated
	}
	return event.New(t, matchID, event.ResponsePayload{
		Round:         round,
		ParticipantID: p.ID,
		Identity:      string(p.Identity),
		Text:          text,
		Personality:   p.Personality,
	})
}

func VoteEvent(matchID string, round int, voter, guess Identity) event.Envelope {
	return event.New(event.TypeVoteSubmitted, matchID, event.VotePayload{
		Round: round,
		Voter: string(voter),
		Guess: string(guess),
	})
}

func RoundCompletedEvent(matchID string, r *Round) event.Envelope {
	scores := make(map[string]int, len(r.Scores))
	for id, s := range r.Scores {
		scores[string(id)] = s
	}
	return event.New(event.TypeRoundCompleted, matchID, event.RoundCompletedPayload{
		Round:  r.Number,
		Scores: scores,
	})
}

func MatchCompletedEvent(m *Match) event.Envelope {
	result := make(map[string]int, len(m.FinalScores))
	for id, s := range m.FinalScores {
		result[string(id)] = s
	}
	now := time.Now().UTC()
	return event.New(event.TypeMatchCompleted, m.ID, event.MatchCompletedPayload{
		Result:      result,
		CompletedAt: now,
		DurationMS:  now.Sub(m.CreatedAt).Milliseconds(),
	})
}
