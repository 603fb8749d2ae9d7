package queue

import (
	"context"
	"errors"
)

var (
	ErrClosed    = errors.New("queue is shut down")
	ErrQueueFull = errors.New("queue is full")
)

// Queue is a FIFO of task ids shared by the worker pool.
//
// Dequeue blocks until an id is available, ctx is done, or the queue has been
// shut down and drained, in which case it returns ErrClosed. Ids enqueued
// after Shutdown are kept and handed out again after Resume.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	Dequeue(ctx context.Context) (string, error)
	Len(ctx context.Context) (int, error)
	Shutdown()
	Resume()
}
