// Package memory provides the bounded in-process run queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"newsriver/internal/job"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed
// (Dequeue only after draining).
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of run requests with context-aware operations.
type Queue struct {
	name string
	ch   chan job.Request

	// mu excludes Close from in-flight sends: Enqueue holds the read
	// side across the send so the channel can never close under it.
	mu     sync.RWMutex
	closed bool
}

// New constructs a named queue with the provided capacity.
func New(name string, capacity int) *Queue {
	return &Queue{
		name: name,
		ch:   make(chan job.Request, capacity),
	}
}

// Name returns the queue's name, e.g. "guardian-bulk".
func (q *Queue) Name() string {
	return q.name
}

// Enqueue pushes a request or returns when the context ends. A closed queue
// rejects the request with ErrClosed.
func (q *Queue) Enqueue(ctx context.Context, req job.Request) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("enqueue %s: %w", q.name, ErrClosed)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", q.name, ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (job.Request, error) {
	select {
	case <-ctx.Done():
		return job.Request{}, fmt.Errorf("dequeue %s: %w", q.name, ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return job.Request{}, ErrClosed
		}
		return req, nil
	}
}

// Len reports how many requests are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting new requests. Pending requests can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
