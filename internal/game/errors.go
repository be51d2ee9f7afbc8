package game

import "errors"

var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrMatchFull          = errors.New("match roster is full")
	ErrAlreadyStarted     = errors.New("match already started")
	ErrRosterIncomplete   = errors.New("roster incomplete")
	ErrRoundNotResponding = errors.New("round is not collecting responses")
	ErrRoundNotVoting     = errors.New("round is not collecting votes")
	ErrUnknownIdentity    = errors.New("identity not part of this match")
)
