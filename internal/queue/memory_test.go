package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/queue"
	"pubpipe/internal/stage"
)

func newMessage(st stage.Stage) queue.Message {
	return queue.Message{ReleaseVersionID: uuid.New(), AttemptID: uuid.New(), Stage: st}
}

func TestMemoryDequeueAck(t *testing.T) {
	q := queue.NewMemory()
	defer q.Close()
	ctx := context.Background()

	msg := newMessage(stage.Content)
	if err := q.Enqueue(ctx, msg, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d.Message != msg || d.Deliveries != 1 {
		t.Fatalf("unexpected delivery %+v", d)
	}
	if q.Len() != 1 {
		t.Fatalf("expected in-flight message to be counted, got %d", q.Len())
	}
	d.Ack()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after ack, got %d", q.Len())
	}
}

func TestMemoryNackRedelivers(t *testing.T) {
	q := queue.NewMemory()
	defer q.Close()
	ctx := context.Background()

	msg := newMessage(stage.Files)
	if err := q.Enqueue(ctx, msg, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	first.Nack(0)
	first.Ack() // no effect after Nack

	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue again: %v", err)
	}
	if second.Message != msg || second.Deliveries != 2 {
		t.Fatalf("expected redelivery of the same message, got %+v", second)
	}
	second.Ack()
}

func TestMemoryDelayedDelivery(t *testing.T) {
	q := queue.NewMemory()
	defer q.Close()

	if err := q.Enqueue(context.Background(), newMessage(stage.Publishing), 50*time.Millisecond); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	early, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(early); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no delivery before the delay, got %v", err)
	}

	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after delay: %v", err)
	}
	d.Ack()
}

func TestMemoryConsumeRedeliversOnHandlerError(t *testing.T) {
	q := queue.NewMemory(queue.WithRedeliveryDelay(0))
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := newMessage(stage.Content)
	if err := q.Enqueue(ctx, msg, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var (
		mu    sync.Mutex
		calls int
		done  = make(chan struct{})
	)
	handler := func(_ context.Context, got queue.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if got != msg {
			t.Errorf("unexpected message %+v", got)
		}
		if calls < 3 {
			return errors.New("store unavailable")
		}
		close(done)
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- q.Consume(ctx, 2, handler) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected acked message to leave the queue, got %d", q.Len())
	}
}

func TestMemoryClose(t *testing.T) {
	q := queue.NewMemory()
	if err := q.Enqueue(context.Background(), newMessage(stage.Content), time.Hour); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed from Dequeue, got %v", err)
	}
	if err := q.Enqueue(context.Background(), newMessage(stage.Content), 0); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed from Enqueue, got %v", err)
	}
}
