package queue

import (
	"context"

	"github.com/spothuman/spothuman/internal/game"
)

type Kind string

const (
	// KindRespond asks a worker to produce one automated response.
	KindRespond Kind = "respond"
	// KindVote asks a worker to cast one automated vote.
	KindVote Kind = "vote"
)

// Message is the per-invocation payload. Delivery is at-least-once, possibly
// duplicated, possibly reordered; handlers must be idempotent.
type Message struct {
	Kind     Kind          `json:"kind"`
	MatchID  string        `json:"matchId"`
	Round    int           `json:"roundNumber"`
	Identity game.Identity `json:"identity"`
}

// Queue is the producer side of the message queue port.
type Queue interface {
	Enqueue(ctx context.Context, m Message) error
}

// Handler processes one delivery. A returned error requeues the message.
type Handler func(ctx context.Context, m Message) error
