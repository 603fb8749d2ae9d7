package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/podushkina/taskpool/internal/handlers"
	"github.com/podushkina/taskpool/internal/queue"
	"github.com/podushkina/taskpool/internal/registry"
	"github.com/podushkina/taskpool/internal/store"
	"github.com/podushkina/taskpool/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockQueue) Dequeue(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) Len(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockQueue) Shutdown() {
	m.Called()
}

func (m *mockQueue) Resume() {
	m.Called()
}

type fixture struct {
	pool     *Pool
	queue    *queue.Memory
	registry *registry.Registry
	store    *store.Store
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTest(t *testing.T) *fixture {
	q := queue.NewMemory(0)
	reg := registry.New()
	st := store.New()
	pool := NewPool(q, reg, st, setupTestLogger())
	t.Cleanup(pool.Stop)

	return &fixture{pool: pool, queue: q, registry: reg, store: st}
}

func (f *fixture) submit(t *testing.T, typ task.Type, params task.Params) *task.Record {
	rec := task.NewRecord(uuid.New().String(), typ, params)
	require.NoError(t, f.store.Add(rec))
	require.NoError(t, f.queue.Enqueue(context.Background(), rec.ID()))
	return rec
}

func waitStatus(t *testing.T, rec *task.Record, want task.Status) {
	require.Eventually(t, func() bool {
		return rec.Status() == want
	}, 3*time.Second, 5*time.Millisecond, "task %s never reached %s", rec.ID(), want)
}

func TestPool_ProcessSuccess(t *testing.T) {
	f := setupTest(t)
	f.registry.MustRegister("success_task", func(ctx context.Context, ex *task.Execution) (any, error) {
		return "ok result", nil
	})

	rec := f.submit(t, "success_task", task.Params{"k": "v"})
	require.NoError(t, f.pool.Start(context.Background(), 1))

	waitStatus(t, rec, task.StatusCompleted)

	snap := rec.Snapshot()
	assert.Equal(t, "ok result", snap.Result)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 1.0, snap.Progress)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.CompletedAt)
}

func TestPool_HandlerErrorFails(t *testing.T) {
	f := setupTest(t)
	f.registry.MustRegister("maybe_fail", func(ctx context.Context, ex *task.Execution) (any, error) {
		if fail, _ := ex.Params()["fail"].(bool); fail {
			return nil, errors.New("something went wrong")
		}
		return "fine", nil
	})

	failing := f.submit(t, "maybe_fail", task.Params{"fail": true})
	passing := f.submit(t, "maybe_fail", nil)
	require.NoError(t, f.pool.Start(context.Background(), 2))

	waitStatus(t, failing, task.StatusFailed)
	waitStatus(t, passing, task.StatusCompleted)

	snap := failing.Snapshot()
	assert.Contains(t, snap.Error, "something went wrong")
	assert.Nil(t, snap.Result)
}

func TestPool_HandlerPanicFails(t *testing.T) {
	f := setupTest(t)
	f.registry.MustRegister("panics", func(ctx context.Context, ex *task.Execution) (any, error) {
		panic("nil map write")
	})
	f.registry.MustRegister("echo", handlers.Echo)

	bad := f.submit(t, "panics", nil)
	good := f.submit(t, "echo", task.Params{"message": "after"})
	require.NoError(t, f.pool.Start(context.Background(), 1))

	waitStatus(t, bad, task.StatusFailed)
	waitStatus(t, good, task.StatusCompleted)

	assert.Contains(t, bad.Snapshot().Error, "nil map write")
	assert.Equal(t, 1, f.pool.Alive())
}

func TestPool_UnresolvableTypeFails(t *testing.T) {
	f := setupTest(t)

	rec := f.submit(t, "ghost", nil)
	require.NoError(t, f.pool.Start(context.Background(), 1))

	waitStatus(t, rec, task.StatusFailed)
	assert.Contains(t, rec.Snapshot().Error, task.ErrUnknownTaskType.Error())
}

func TestPool_StartTwice(t *testing.T) {
	f := setupTest(t)

	require.NoError(t, f.pool.Start(context.Background(), 1))
	err := f.pool.Start(context.Background(), 1)
	assert.ErrorIs(t, err, task.ErrAlreadyRunning)
}

func TestPool_StopWithoutStart(t *testing.T) {
	f := setupTest(t)

	f.pool.Stop()
	assert.False(t, f.pool.Running())
	assert.Equal(t, 0, f.pool.Alive())
}

func TestPool_InvalidWorkerCountDefaultsToOne(t *testing.T) {
	f := setupTest(t)

	require.NoError(t, f.pool.Start(context.Background(), 0))
	assert.Equal(t, 1, f.pool.Alive())
}

func TestPool_StopIdleReturnsPromptly(t *testing.T) {
	f := setupTest(t)
	require.NoError(t, f.pool.Start(context.Background(), 3))
	assert.Equal(t, 3, f.pool.Alive())

	done := make(chan struct{})
	go func() {
		f.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, 0, f.pool.Alive())
	assert.False(t, f.pool.Running())
}

func TestPool_RegistryFrozenAfterStart(t *testing.T) {
	f := setupTest(t)
	require.NoError(t, f.pool.Start(context.Background(), 1))

	err := f.registry.Register("late", handlers.Echo)
	assert.ErrorIs(t, err, task.ErrRegistryFrozen)
}

func TestPool_SequentialOnSingleWorker(t *testing.T) {
	f := setupTest(t)
	f.registry.MustRegister(handlers.TypeSleep, handlers.Sleep)

	var recs []*task.Record
	for i := 0; i < 3; i++ {
		recs = append(recs, f.submit(t, handlers.TypeSleep, task.Params{"duration": "50ms"}))
	}
	require.NoError(t, f.pool.Start(context.Background(), 1))

	for _, rec := range recs {
		waitStatus(t, rec, task.StatusCompleted)
	}

	for i := 1; i < len(recs); i++ {
		prev := recs[i-1].Snapshot()
		cur := recs[i].Snapshot()
		assert.False(t, cur.StartedAt.Before(*prev.CompletedAt),
			"task %d started before task %d completed", i, i-1)
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	const (
		tasks   = 20
		workers = 3
	)

	f := setupTest(t)

	var current, peak atomic.Int32
	f.registry.MustRegister("work", func(ctx context.Context, ex *task.Execution) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return n, nil
	})

	var recs []*task.Record
	for i := 0; i < tasks; i++ {
		recs = append(recs, f.submit(t, "work", nil))
	}

	stop := make(chan struct{})
	var observerPeak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			n := int32(len(f.store.List(task.StatusRunning)))
			if n > observerPeak.Load() {
				observerPeak.Store(n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, f.pool.Start(context.Background(), workers))
	f.pool.Stop()
	close(stop)
	wg.Wait()

	terminal := 0
	for _, rec := range recs {
		if rec.Status().IsTerminal() {
			terminal++
		}
		assert.Equal(t, task.StatusCompleted, rec.Status())
	}
	assert.Equal(t, tasks, terminal)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.LessOrEqual(t, observerPeak.Load(), int32(workers))
}

func TestPool_CancelPendingNeverDispatched(t *testing.T) {
	f := setupTest(t)

	release := make(chan struct{})
	f.registry.MustRegister("blocker", func(ctx context.Context, ex *task.Execution) (any, error) {
		<-release
		return "released", nil
	})

	var invoked atomic.Int32
	f.registry.MustRegister("victim", func(ctx context.Context, ex *task.Execution) (any, error) {
		invoked.Add(1)
		return "ran", nil
	})

	blocker := f.submit(t, "blocker", nil)
	victim := f.submit(t, "victim", nil)
	require.NoError(t, f.pool.Start(context.Background(), 1))

	waitStatus(t, blocker, task.StatusRunning)
	assert.True(t, victim.Cancel())
	close(release)

	waitStatus(t, blocker, task.StatusCompleted)
	f.pool.Stop()

	snap := victim.Snapshot()
	assert.Equal(t, task.StatusCancelled, snap.Status)
	assert.Nil(t, snap.StartedAt)
	assert.Equal(t, int32(0), invoked.Load())
}

func TestPool_CancelRunningIsCooperative(t *testing.T) {
	f := setupTest(t)

	started := make(chan struct{})
	returned := make(chan struct{})
	f.registry.MustRegister("waits", func(ctx context.Context, ex *task.Execution) (any, error) {
		defer close(returned)
		close(started)
		<-ctx.Done()
		assert.True(t, ex.Cancelled())
		return "too late", nil
	})

	rec := f.submit(t, "waits", nil)
	require.NoError(t, f.pool.Start(context.Background(), 1))

	<-started
	assert.True(t, rec.Cancel())
	<-returned
	f.pool.Stop()

	snap := rec.Snapshot()
	assert.Equal(t, task.StatusCancelled, snap.Status)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Error)
}

func TestPool_ProgressNonDecreasing(t *testing.T) {
	f := setupTest(t)
	f.registry.MustRegister(handlers.TypeSleep, handlers.Sleep)

	rec := f.submit(t, handlers.TypeSleep, task.Params{"duration": "100ms"})
	require.NoError(t, f.pool.Start(context.Background(), 1))

	var seen []float64
	for !rec.Status().IsTerminal() {
		seen = append(seen, rec.Snapshot().Progress)
		time.Sleep(2 * time.Millisecond)
	}
	seen = append(seen, rec.Snapshot().Progress)

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 1.0, seen[len(seen)-1])
}

func TestPool_RestartPicksUpQueued(t *testing.T) {
	f := setupTest(t)
	f.registry.MustRegister("echo", handlers.Echo)

	require.NoError(t, f.pool.Start(context.Background(), 2))
	f.pool.Stop()

	rec := f.submit(t, "echo", task.Params{"message": "later"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, task.StatusPending, rec.Status())

	require.NoError(t, f.pool.Start(context.Background(), 1))
	waitStatus(t, rec, task.StatusCompleted)
}

func TestPool_AbortLeavesQueuedTasks(t *testing.T) {
	f := setupTest(t)
	f.registry.MustRegister("echo", handlers.Echo)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.pool.Start(ctx, 2))
	cancel()

	require.Eventually(t, func() bool {
		return f.pool.Alive() == 0
	}, time.Second, 5*time.Millisecond)

	rec := f.submit(t, "echo", nil)
	f.pool.Stop()

	assert.Equal(t, task.StatusPending, rec.Status())
	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPool_AbortMidTaskLeavesQueuedTasks(t *testing.T) {
	f := setupTest(t)

	release := make(chan struct{})
	f.registry.MustRegister("blocker", func(ctx context.Context, ex *task.Execution) (any, error) {
		<-release
		return nil, nil
	})
	f.registry.MustRegister("echo", handlers.Echo)

	blocker := f.submit(t, "blocker", nil)
	queued := []*task.Record{
		f.submit(t, "echo", nil),
		f.submit(t, "echo", nil),
		f.submit(t, "echo", nil),
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.pool.Start(ctx, 1))
	waitStatus(t, blocker, task.StatusRunning)

	cancel()
	close(release)

	waitStatus(t, blocker, task.StatusCompleted)
	require.Eventually(t, func() bool {
		return f.pool.Alive() == 0
	}, time.Second, 5*time.Millisecond)

	for _, rec := range queued {
		assert.Equal(t, task.StatusPending, rec.Status())
	}
	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPool_Stats(t *testing.T) {
	f := setupTest(t)

	release := make(chan struct{})
	f.registry.MustRegister("blocker", func(ctx context.Context, ex *task.Execution) (any, error) {
		<-release
		return nil, nil
	})

	first := f.submit(t, "blocker", nil)
	f.submit(t, "blocker", nil)
	require.NoError(t, f.pool.Start(context.Background(), 1))
	waitStatus(t, first, task.StatusRunning)

	stats, err := f.pool.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Counts[task.StatusRunning])
	assert.Equal(t, 1, stats.Counts[task.StatusPending])
	assert.Equal(t, 1, stats.QueueDepth)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.WorkersAlive)
	assert.Equal(t, 1, stats.WorkersBusy)
	assert.True(t, stats.Running)

	close(release)
	f.pool.Stop()

	stats, err = f.pool.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Counts[task.StatusCompleted])
	assert.Equal(t, 0, stats.WorkersAlive)
	assert.False(t, stats.Running)
}

func TestPool_WorkerCrashLowersAliveCount(t *testing.T) {
	q := new(mockQueue)
	q.On("Resume").Return()
	q.On("Shutdown").Return()
	q.On("Dequeue", mock.Anything).Panic("corrupted queue state")

	pool := NewPool(q, registry.New(), store.New(), setupTestLogger())
	require.NoError(t, pool.Start(context.Background(), 2))

	require.Eventually(t, func() bool {
		return pool.Alive() == 0
	}, time.Second, 5*time.Millisecond)

	assert.True(t, pool.Running())
	pool.Stop()
	q.AssertExpectations(t)
}

func TestPool_DequeueErrorIsRetried(t *testing.T) {
	q := new(mockQueue)
	q.On("Resume").Return()
	q.On("Shutdown").Return()
	q.On("Dequeue", mock.Anything).Return("", errors.New("connection refused")).Once()
	q.On("Dequeue", mock.Anything).Return("", queue.ErrClosed)

	pool := NewPool(q, registry.New(), store.New(), setupTestLogger())
	pool.SetRetryDelay(5 * time.Millisecond)
	require.NoError(t, pool.Start(context.Background(), 1))

	require.Eventually(t, func() bool {
		return pool.Alive() == 0
	}, time.Second, 5*time.Millisecond)

	pool.Stop()
	q.AssertNumberOfCalls(t, "Dequeue", 2)
}

func TestPool_StatsQueueError(t *testing.T) {
	q := new(mockQueue)
	q.On("Len", mock.Anything).Return(0, errors.New("redis down"))

	pool := NewPool(q, registry.New(), store.New(), setupTestLogger())

	_, err := pool.Stats(context.Background())
	assert.Error(t, err)
}
