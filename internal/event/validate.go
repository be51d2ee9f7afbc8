package event

import (
	"errors"
	"fmt"
)

var (
	ErrMissingEventID   = errors.New("event missing eventId")
	ErrMissingMatchID   = errors.New("event missing matchId")
	ErrMissingTimestamp = errors.New("event missing timestamp")
)

// Validate performs structural validation of an envelope: the envelope fields
// themselves plus the required fields of the known payload shapes. It never
// second-guesses values already accepted by the state machine. Unknown event
// types pass so newer producers don't break older consumers.
func Validate(e Envelope) error {
	if e.EventID == "" {
		return ErrMissingEventID
	}
	if e.MatchID == "" {
		return ErrMissingMatchID
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}

	switch e.EventType {
	case TypeMatchStarted:
		var p MatchStartedPayload
		if err := e.Decode(&p); err != nil {
			return malformed(e, err)
		}
		if p.Participants == nil {
			return missing(e, "participants")
		}
		if len(p.HumanParticipants) == 0 {
			return missing(e, "humanParticipants")
		}
		if p.RobotParticipants == nil {
			return missing(e, "robotParticipants")
		}
		if p.CreatedAt.IsZero() {
			return missing(e, "createdAt")
		}
	case TypeRoundStarted:
		var p RoundStartedPayload
		if err := e.Decode(&p); err != nil {
			return malformed(e, err)
		}
		if p.Round < 1 {
			return missing(e, "round")
		}
		if p.Prompt == "" {
			return missing(e, "prompt")
		}
	case TypeResponseSubmitted, TypeResponseGenerated:
		var p ResponsePayload
		if err := e.Decode(&p); err != nil {
			return malformed(e, err)
		}
		if p.Round < 1 {
			return missing(e, "round")
		}
		if p.ParticipantID == "" {
			return missing(e, "participantId")
		}
		if p.Identity == "" {
			return missing(e, "identity")
		}
	case TypeVotingStarted:
		var p VotingStartedPayload
		if err := e.Decode(&p); err != nil {
			return malformed(e, err)
		}
		if p.Round < 1 {
			return missing(e, "round")
		}
	case TypeVoteSubmitted:
		var p VotePayload
		if err := e.Decode(&p); err != nil {
			return malformed(e, err)
		}
		if p.Voter == "" {
			return missing(e, "voter")
		}
		if p.Guess == "" {
			return missing(e, "guess")
		}
	case TypeRoundCompleted:
		var p RoundCompletedPayload
		if err := e.Decode(&p); err != nil {
			return malformed(e, err)
		}
		if p.Round < 1 {
			return missing(e, "round")
		}
		if p.Scores == nil {
			return missing(e, "scores")
		}
	case TypeMatchCompleted:
		var p MatchCompletedPayload
		if err := e.Decode(&p); err != nil {
			return malformed(e, err)
		}
		if p.Result == nil {
			return missing(e, "result")
		}
		if p.CompletedAt.IsZero() {
			return missing(e, "completedAt")
		}
	default:
		// Forward compatibility: unknown types validate but are not projected.
	}
	return nil
}

func malformed(e Envelope, err error) error {
	return fmt.Errorf("%s payload malformed: %w", e.EventType, err)
}

func missing(e Envelope, field string) error {
	return fmt.Errorf("%s payload missing %s", e.EventType, field)
}
