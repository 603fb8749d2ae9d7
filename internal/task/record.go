package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Record holds the identity and lifecycle state of one task. Identity fields
// never change after NewRecord; the rest is written by the worker that owns
// the task and, for cancellation, by Cancel.
type Record struct {
	id        string
	typ       Type
	params    Params
	createdAt time.Time

	mu          sync.RWMutex
	status      Status
	startedAt   time.Time
	completedAt time.Time
	progress    float64
	result      any
	err         string
	metadata    map[string]any
	cancel      context.CancelFunc
}

func NewRecord(id string, typ Type, params Params) *Record {
	return &Record{
		id:        id,
		typ:       typ,
		params:    params.clone(),
		createdAt: time.Now(),
		status:    StatusPending,
		metadata:  make(map[string]any),
	}
}

func (r *Record) ID() string {
	return r.id
}

func (r *Record) Type() Type {
	return r.typ
}

func (r *Record) CreatedAt() time.Time {
	return r.createdAt
}

func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// CompletedAt returns the time the record reached a terminal state, or the
// zero time.
func (r *Record) CompletedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completedAt
}

func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		ID:        r.id,
		Type:      r.typ,
		Status:    r.status,
		Params:    r.params.clone(),
		Progress:  r.progress,
		Result:    r.result,
		Error:     r.err,
		CreatedAt: r.createdAt,
	}
	if len(r.metadata) > 0 {
		s.Metadata = make(map[string]any, len(r.metadata))
		for k, v := range r.metadata {
			s.Metadata[k] = v
		}
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		s.StartedAt = &t
	}
	if !r.completedAt.IsZero() {
		t := r.completedAt
		s.CompletedAt = &t
	}
	return s
}

// must be called with r.mu held
func (r *Record) transition(next Status) error {
	if !r.status.CanTransition(next) {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, r.id, r.status, next)
	}
	r.status = next
	return nil
}

// Start claims a pending record for execution. cancel is invoked if the
// task is cancelled while running.
func (r *Record) Start(cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(StatusRunning); err != nil {
		return err
	}
	r.startedAt = time.Now()
	r.cancel = cancel
	return nil
}

// Complete stores the handler result. A nil result is recorded as an empty
// object so that completed records always carry one.
func (r *Record) Complete(result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(StatusCompleted); err != nil {
		return err
	}
	if result == nil {
		result = struct{}{}
	}
	r.result = result
	r.progress = 1.0
	r.finish()
	return nil
}

func (r *Record) Fail(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	msg := "task failed"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	r.err = msg
	r.finish()
	return nil
}

// Cancel records a cancellation request. It returns false if the record is
// already terminal. A running handler is notified through its context and
// is expected to return on its own.
func (r *Record) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(StatusCancelled); err != nil {
		return false
	}
	r.finish()
	return true
}

// must be called with r.mu held
func (r *Record) finish() {
	r.completedAt = time.Now()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Record) setProgress(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidProgress, v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotRunning, r.id, r.status)
	}
	if v > r.progress {
		r.progress = v
	}
	return nil
}

func (r *Record) metadataValue(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.metadata[key]
	return v, ok
}

func (r *Record) setMetadata(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[key] = value
}
