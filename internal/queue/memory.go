package queue

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Queue. A capacity of zero or less makes it
// unbounded.
type Memory struct {
	mu       sync.Mutex
	items    []string
	capacity int
	closed   bool
	wake     chan struct{}
}

func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		wake:     make(chan struct{}),
	}
}

func (q *Memory) Enqueue(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, q.capacity)
	}
	q.items = append(q.items, id)
	q.broadcast()
	return nil
}

func (q *Memory) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return id, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (q *Memory) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *Memory) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcast()
	}
}

func (q *Memory) Resume() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// must be called with q.mu held
func (q *Memory) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}
