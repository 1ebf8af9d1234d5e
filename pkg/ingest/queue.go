package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("ingest queue full")

// Job is one raw webhook payload accepted for processing. Payload may be
// backed by a pooled ByteBuffer; consumers must call Item.Done() when
// finished.
type Job struct {
	Payload []byte
	// Enq is a monotonic enqueue sequence assigned on acceptance; it makes
	// processing order reproducible in logs.
	Enq uint64
	// Source tags where the payload came from ("webhook", "seed").
	Source string
}

// Item wraps a Job and owns a pooled ByteBuffer if one was used. Consumers
// MUST call Done() exactly once after processing.
type Item struct {
	Job *Job

	buf  *bytebufferpool.ByteBuffer
	done uint32
}

var jobPool = sync.Pool{New: func() any { return &Job{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// maxPooledBuffer caps the size of buffers returned to the pool; larger
// payload copies are left to the GC.
var maxPooledBuffer = 256 * 1024

// SetMaxPooledBuffer overrides the pooled-buffer cap (from config).
func SetMaxPooledBuffer(n int) {
	if n > 0 {
		maxPooledBuffer = n
	}
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	if !atomic.CompareAndSwapUint32(&it.done, 0, 1) {
		return
	}
	if it.buf != nil {
		if cap(it.buf.B) <= maxPooledBuffer {
			bytebufferpool.Put(it.buf)
		}
		it.buf = nil
	}
	if it.Job != nil {
		it.Job.Payload = nil
		jobPool.Put(it.Job)
		it.Job = nil
	}
	itemPool.Put(it)
}

// Queue is a bounded in-memory queue between the webhook boundary and the
// pipeline workers. Safe for concurrent producers.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
}

var enqSeq uint64

// NewQueue creates a bounded Queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the consumer side of the queue; do not close it from callers.
func (q *Queue) Out() <-chan *Item { return q.ch }

func (q *Queue) newItem(payload []byte, source string) *Item {
	job := jobPool.Get().(*Job)
	job.Source = source
	job.Enq = atomic.AddUint64(&enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], payload...)
		job.Payload = bb.B[:len(payload)]
	} else {
		job.Payload = nil
	}
	it := itemPool.Get().(*Item)
	it.Job = job
	it.buf = bb
	atomic.StoreUint32(&it.done, 0)
	return it
}

func (q *Queue) release(it *Item) {
	if it.buf != nil {
		bytebufferpool.Put(it.buf)
		it.buf = nil
	}
	if it.Job != nil {
		it.Job.Payload = nil
		jobPool.Put(it.Job)
		it.Job = nil
	}
	itemPool.Put(it)
	atomic.AddUint64(&q.dropped, 1)
}

// TryEnqueue copies the payload into a pooled buffer and enqueues it
// without blocking. Returns ErrQueueFull at capacity; the webhook boundary
// surfaces that as backpressure.
func (q *Queue) TryEnqueue(payload []byte, source string) error {
	it := q.newItem(payload, source)
	select {
	case q.ch <- it:
		return nil
	default:
		q.release(it)
		return ErrQueueFull
	}
}

// Enqueue blocks until space is available or the context is done.
func (q *Queue) Enqueue(ctx context.Context, payload []byte, source string) error {
	it := q.newItem(payload, source)
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		q.release(it)
		return ctx.Err()
	}
}

// CloseAndDrain closes the queue and releases any remaining items.
func (q *Queue) CloseAndDrain() {
	close(q.ch)
	for it := range q.ch {
		it.Done()
	}
}

// Len returns the current number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns how many payloads were rejected or abandoned at enqueue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
