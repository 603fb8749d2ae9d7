package task

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTaskType   = errors.New("unknown task type")
	ErrDuplicateHandler  = errors.New("handler already registered")
	ErrRegistryFrozen    = errors.New("handler registry is frozen")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyRunning    = errors.New("worker pool already running")
	ErrTaskNotRunning    = errors.New("task is not running")
	ErrInvalidProgress   = errors.New("progress must be within [0, 1]")
	ErrTaskNotTerminal   = errors.New("task has not reached a terminal state")
)

// HandlerExecutionError wraps a fault raised by a handler, including a
// recovered panic.
type HandlerExecutionError struct {
	Type  Type
	Err   error
	Panic bool
}

func (e *HandlerExecutionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("handler %s panicked: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("handler %s: %v", e.Type, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error {
	return e.Err
}
