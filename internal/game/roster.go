package game

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Join seats a human on the roster under a random unused identity. Once the
// human quota is reached the remaining seats are filled with automated
// participants, personalities drawn round-robin from the pool. Shared by the
// in-process engine and the distributed coordinator so both enforce the same
// roster rules.
func Join(m *Match, externalRef, label string) (*Participant, error) {
	if m.Status != StatusWaiting {
		return nil, ErrAlreadyStarted
	}
	if len(m.Participants) >= m.TotalParticipants {
		return nil, ErrMatchFull
	}
	p := &Participant{
		ID:          uuid.NewString(),
		Identity:    randomFreeIdentity(m),
		Kind:        KindHuman,
		Label:       label,
		ExternalRef: externalRef,
		JoinedAt:    time.Now().UTC(),
	}
	m.Participants = append(m.Participants, p)
	if m.HumanCount() >= m.HumanSeats {
		fillAutomatedSeats(m)
	}
	return p, nil
}

func fillAutomatedSeats(m *Match) {
	for len(m.Participants) < m.TotalParticipants {
		i := len(m.Automated())
		m.Participants = append(m.Participants, &Participant{
			ID:          uuid.NewString(),
			Identity:    randomFreeIdentity(m),
			Kind:        KindAutomated,
			Label:       automatedLabelFor(i),
			Personality: PersonalityFor(i),
			JoinedAt:    time.Now().UTC(),
		})
	}
}

func randomFreeIdentity(m *Match) Identity {
	free := make([]Identity, 0, m.TotalParticipants)
	for _, id := range Alphabet(m.TotalParticipants) {
		if !m.identityTaken(id) {
			free = append(free, id)
		}
	}
	return free[rand.Intn(len(free))]
}

// Start locks a full roster and opens round 1.
func Start(m *Match) (*Round, error) {
	if m.Status != StatusWaiting {
		return nil, ErrAlreadyStarted
	}
	if len(m.Participants) != m.TotalParticipants {
		return nil, ErrRosterIncomplete
	}
	m.Status = StatusRoundActive
	m.CurrentRound = 1
	r := NewRound(1, PromptFor(1))
	m.Rounds = append(m.Rounds, r)
	return r, nil
}
