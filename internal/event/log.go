package event

import (
	"context"
	"sync"
)

// Log is the append-only event log port. Appends are durable before they are
// visible to consumers; no cross-key ordering is guaranteed.
type Log interface {
	Append(ctx context.Context, e Envelope) error
}

// MemoryLog is an in-process log that fans appended events out to
// subscribers. Used by the single-binary deployment and in tests.
type MemoryLog struct {
	mu     sync.Mutex
	events []Envelope
	subs   []chan Envelope
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, e Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer: drop rather than block the writer. The consumer
			// can resync from Events.
		}
	}
	return nil
}

// Subscribe returns a channel receiving every event appended after the call.
func (l *MemoryLog) Subscribe() <-chan Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan Envelope, 256)
	l.subs = append(l.subs, ch)
	return ch
}

// Events returns a copy of everything appended so far.
func (l *MemoryLog) Events() []Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Envelope, len(l.events))
	copy(out, l.events)
	return out
}
