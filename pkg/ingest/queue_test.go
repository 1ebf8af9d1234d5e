package ingest

import (
	"bytes"
	"context"
	"testing"
)

func TestQueueTryEnqueueFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryEnqueue([]byte("a"), "test"); err != nil {
		t.Fatalf("enqueue into empty queue failed: %v", err)
	}
	if err := q.TryEnqueue([]byte("b"), "test"); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", q.Dropped())
	}
}

func TestQueuePayloadSurvivesCopy(t *testing.T) {
	q := NewQueue(4)
	src := []byte("payload bytes")
	if err := q.TryEnqueue(src, "test"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	src[0] = 'X' // caller may reuse its buffer after enqueue

	it := <-q.Out()
	defer it.Done()
	if !bytes.Equal(it.Job.Payload, []byte("payload bytes")) {
		t.Fatalf("payload not copied: %q", it.Job.Payload)
	}
	if it.Job.Source != "test" || it.Job.Enq == 0 {
		t.Fatalf("job metadata missing: %+v", it.Job)
	}
}

func TestQueueEnqueueHonorsContext(t *testing.T) {
	q := NewQueue(1)
	_ = q.TryEnqueue([]byte("a"), "test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Enqueue(ctx, []byte("b"), "test"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestQueueCloseAndDrain(t *testing.T) {
	q := NewQueue(4)
	_ = q.TryEnqueue([]byte("a"), "test")
	_ = q.TryEnqueue([]byte("b"), "test")
	q.CloseAndDrain()
	if _, ok := <-q.Out(); ok {
		t.Fatalf("queue must be closed after CloseAndDrain")
	}
}

func TestItemDoneIdempotent(t *testing.T) {
	q := NewQueue(2)
	_ = q.TryEnqueue([]byte("a"), "test")
	it := <-q.Out()
	it.Done()
	it.Done() // must not double-release
}
