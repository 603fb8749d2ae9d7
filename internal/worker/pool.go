package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/podushkina/taskpool/internal/queue"
	"github.com/podushkina/taskpool/internal/registry"
	"github.com/podushkina/taskpool/internal/store"
	"github.com/podushkina/taskpool/internal/task"
)

const defaultRetryDelay = time.Second

// Pool runs a fixed number of workers that pull task ids from a queue and
// execute the matching handler.
type Pool struct {
	queue    queue.Queue
	registry *registry.Registry
	store    *store.Store
	logger   *slog.Logger

	retryDelay time.Duration

	// mu serializes Start and Stop.
	mu      sync.Mutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running atomic.Bool
	size    atomic.Int32
	alive   atomic.Int32
	busy    atomic.Int32
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Counts       map[task.Status]int `json:"counts"`
	QueueDepth   int                 `json:"queue_depth"`
	Size         int                 `json:"size"`
	WorkersAlive int                 `json:"workers_alive"`
	WorkersBusy  int                 `json:"workers_busy"`
	Running      bool                `json:"running"`
}

func NewPool(q queue.Queue, reg *registry.Registry, st *store.Store, logger *slog.Logger) *Pool {
	return &Pool{
		queue:      q,
		registry:   reg,
		store:      st,
		logger:     logger,
		retryDelay: defaultRetryDelay,
	}
}

// SetRetryDelay sets how long a worker waits after a failed dequeue.
func (p *Pool) SetRetryDelay(d time.Duration) {
	p.retryDelay = d
}

// Start freezes the registry and launches n workers. Cancelling ctx makes
// workers exit after their current task without draining the queue; running
// handlers are not cancelled by it.
func (p *Pool) Start(ctx context.Context, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return task.ErrAlreadyRunning
	}
	if n <= 0 {
		p.logger.Warn("invalid worker count specified, using default",
			"specified_count", n,
			"default_count", 1)
		n = 1
	}

	p.registry.Freeze()
	p.queue.Resume()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.size.Store(int32(n))
	p.running.Store(true)

	for i := 0; i < n; i++ {
		p.wg.Add(1)
		p.alive.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("worker pool started", "workers", n)
	return nil
}

// Stop shuts the queue down and waits until the workers have drained it and
// returned. It is a no-op if the pool is not running.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return
	}

	p.queue.Shutdown()
	p.wg.Wait()
	p.cancel()
	p.running.Store(false)
	p.size.Store(0)

	p.logger.Info("all workers stopped")
}

func (p *Pool) Running() bool {
	return p.running.Load()
}

// Alive returns the number of worker goroutines that have not exited.
func (p *Pool) Alive() int {
	return int(p.alive.Load())
}

func (p *Pool) Stats(ctx context.Context) (Stats, error) {
	depth, err := p.queue.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("pool stats: %w", err)
	}

	return Stats{
		Counts:       p.store.Counts(),
		QueueDepth:   depth,
		Size:         int(p.size.Load()),
		WorkersAlive: int(p.alive.Load()),
		WorkersBusy:  int(p.busy.Load()),
		Running:      p.running.Load(),
	}, nil
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	defer p.alive.Add(-1)

	logger := p.logger.With("worker_id", workerID)

	// Faults outside handler execution end this worker only.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker crashed",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()

	logger.Debug("worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("worker shutting down")
			return
		}

		taskID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				logger.Debug("queue drained, worker exiting")
				return
			}
			if ctx.Err() != nil {
				logger.Debug("worker shutting down")
				return
			}

			logger.Error("dequeue failed", "error", err)
			select {
			case <-time.After(p.retryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		p.process(ctx, logger, taskID)
	}
}

func (p *Pool) process(ctx context.Context, logger *slog.Logger, id string) {
	rec, err := p.store.Get(id)
	if err != nil {
		logger.Warn("dequeued id has no record", "task_id", id)
		return
	}

	logger = logger.With("task_id", id, "task_type", rec.Type())

	p.busy.Add(1)
	defer p.busy.Add(-1)

	if st := rec.Status(); st != task.StatusPending {
		logger.Debug("skipping task", "status", st)
		return
	}

	handler, resolveErr := p.registry.Resolve(rec.Type())

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	if err := rec.Start(cancel); err != nil {
		// Cancelled between the status check and the claim.
		logger.Debug("task no longer pending", "error", err)
		return
	}

	if resolveErr != nil {
		logger.Error("cannot resolve handler", "error", resolveErr)
		p.finish(logger, rec, nil, resolveErr)
		return
	}

	logger.Info("processing task")
	result, err := p.invoke(taskCtx, handler, rec)
	p.finish(logger, rec, result, err)
}

func (p *Pool) invoke(ctx context.Context, h task.Handler, rec *task.Record) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &task.HandlerExecutionError{Type: rec.Type(), Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()

	result, err = h(ctx, task.NewExecution(rec))
	if err != nil {
		return nil, &task.HandlerExecutionError{Type: rec.Type(), Err: err}
	}
	return result, nil
}

func (p *Pool) finish(logger *slog.Logger, rec *task.Record, result any, err error) {
	var terr error
	if err != nil {
		terr = rec.Fail(err)
	} else {
		terr = rec.Complete(result)
	}

	switch {
	case terr == nil && err != nil:
		logger.Error("task failed", "error", err, "duration", rec.Snapshot().Duration().String())
	case terr == nil:
		logger.Info("task completed", "duration", rec.Snapshot().Duration().String())
	case rec.Status() == task.StatusCancelled:
		logger.Info("task cancelled while running, outcome discarded")
	default:
		logger.Error("cannot record task outcome", "error", terr)
	}
}
