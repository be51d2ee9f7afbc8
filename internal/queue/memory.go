package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxAttempts = 5

type delivery struct {
	msg     Message
	attempt int
}

// Memory is a channel-backed queue for the single-binary deployment and
// tests. It redelivers on handler error with a small backoff, mirroring the
// at-least-once contract of a real broker.
type Memory struct {
	ch  chan delivery
	log zerolog.Logger
	wg  sync.WaitGroup
}

func NewMemory(buffer int, log zerolog.Logger) *Memory {
	return &Memory{ch: make(chan delivery, buffer), log: log}
}

func (q *Memory) Enqueue(ctx context.Context, m Message) error {
	select {
	case q.ch <- delivery{msg: m, attempt: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes deliveries with the given number of workers until ctx is done.
func (q *Memory) Run(ctx context.Context, workers int, h Handler) {
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-q.ch:
					q.deliver(ctx, d, h)
				}
			}
		}()
	}
}

func (q *Memory) deliver(ctx context.Context, d delivery, h Handler) {
	err := h(ctx, d.msg)
	if err == nil {
		return
	}
	if d.attempt >= maxAttempts {
		q.log.Error().Err(err).Str("match", d.msg.MatchID).Int("round", d.msg.Round).
			Str("identity", string(d.msg.Identity)).Msg("message exhausted retries")
		return
	}
	q.log.Warn().Err(err).Int("attempt", d.attempt).Str("match", d.msg.MatchID).
		Msg("redelivering message")
	d.attempt++
	select {
	case <-time.After(time.Duration(d.attempt) * 100 * time.Millisecond):
	case <-ctx.Done():
		return
	}
	select {
	case q.ch <- d:
	default:
		// Queue full; the message is lost in this dev-only implementation.
	}
}

// Wait blocks until all workers have exited.
func (q *Memory) Wait() {
	q.wg.Wait()
}
