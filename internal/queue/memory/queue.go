// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan pipeline.RunRequest
	closeMu sync.Mutex
	closed  bool
}

var _ pipeline.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan pipeline.RunRequest, capacity),
	}
}

// Enqueue pushes a run request into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, req pipeline.RunRequest) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next run request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.RunRequest, error) {
	select {
	case <-ctx.Done():
		return pipeline.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return pipeline.RunRequest{}, errors.New("queue closed")
		}
		return req, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
