package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMemoryQueueDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemory(16, zerolog.Nop())
	got := make(chan Message, 1)
	q.Run(ctx, 2, func(_ context.Context, m Message) error {
		got <- m
		return nil
	})

	want := Message{Kind: KindRespond, MatchID: "m-1", Round: 1, Identity: "B"}
	if err := q.Enqueue(ctx, want); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case m := <-got:
		if m != want {
			t.Fatalf("delivered %+v, want %+v", m, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestMemoryQueueRedeliversOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemory(16, zerolog.Nop())
	var attempts int32
	done := make(chan struct{})
	q.Run(ctx, 1, func(_ context.Context, _ Message) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	if err := q.Enqueue(ctx, Message{Kind: KindVote, MatchID: "m-1", Round: 1, Identity: "C"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
		if n := atomic.LoadInt32(&attempts); n != 3 {
			t.Fatalf("expected 3 attempts, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message was not redelivered to success")
	}
}
