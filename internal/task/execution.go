package task

import "context"

// Handler performs the work for one task type. ctx is cancelled when the
// task is cancelled; handlers are expected to check it at their own
// checkpoints and return.
type Handler func(ctx context.Context, ex *Execution) (any, error)

// Execution is the view of a running record handed to its handler.
type Execution struct {
	rec *Record
}

func NewExecution(rec *Record) *Execution {
	return &Execution{rec: rec}
}

func (e *Execution) ID() string {
	return e.rec.id
}

func (e *Execution) Type() Type {
	return e.rec.typ
}

// Params returns the submission parameters. The map is shared and must not
// be modified.
func (e *Execution) Params() Params {
	return e.rec.params
}

// Progress reports completion in [0, 1]. Values lower than the current
// progress are ignored.
func (e *Execution) Progress(v float64) error {
	return e.rec.setProgress(v)
}

// Cancelled reports whether cancellation has been requested.
func (e *Execution) Cancelled() bool {
	return e.rec.Status() == StatusCancelled
}

func (e *Execution) Metadata(key string) (any, bool) {
	return e.rec.metadataValue(key)
}

func (e *Execution) SetMetadata(key string, value any) {
	e.rec.setMetadata(key, value)
}
