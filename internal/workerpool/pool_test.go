package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/dispatch/internal/event"
	"github.com/Iron-Ham/dispatch/internal/taskqueue"
)

// chanSource hands out tasks pushed onto a channel.
type chanSource struct {
	ch chan taskqueue.Descriptor
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan taskqueue.Descriptor, 64)}
}

func (s *chanSource) Dequeue(ctx context.Context, wait time.Duration) (taskqueue.Descriptor, bool) {
	if ctx.Err() != nil {
		return taskqueue.Descriptor{}, false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case d := <-s.ch:
		return d, true
	case <-ctx.Done():
	case <-timer.C:
	}
	return taskqueue.Descriptor{}, false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func newTestPool(t *testing.T, exec Executor, opts Options) (*Pool, *chanSource) {
	t.Helper()
	src := newChanSource()
	if opts.DequeueWait == 0 {
		opts.DequeueWait = 10 * time.Millisecond
	}
	if opts.ReapInterval == 0 {
		opts.ReapInterval = 10 * time.Millisecond
	}
	p := New(src, exec, opts)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p, src
}

func noopExecutor() Executor {
	return ExecutorFunc(func(context.Context, string, taskqueue.Descriptor) {})
}

func TestPool_StartSpawnsMinimum(t *testing.T) {
	p, _ := newTestPool(t, noopExecutor(), Options{MinWorkers: 3, MaxWorkers: 5})

	assert.Equal(t, 3, p.Count())
	assert.Len(t, p.Workers(), 3)
}

func TestPool_StartTwice(t *testing.T) {
	p, _ := newTestPool(t, noopExecutor(), Options{MinWorkers: 1, MaxWorkers: 1})
	assert.Error(t, p.Start(context.Background()))
}

func TestPool_SpawnRespectsMax(t *testing.T) {
	p, _ := newTestPool(t, noopExecutor(), Options{MinWorkers: 1, MaxWorkers: 4})

	assert.Equal(t, 3, p.Spawn(10))
	assert.Equal(t, 4, p.Count())
	assert.Equal(t, 0, p.Spawn(1))
}

func TestPool_WorkerIDsUnique(t *testing.T) {
	p, _ := newTestPool(t, noopExecutor(), Options{MinWorkers: 8, MaxWorkers: 8})

	seen := make(map[string]bool)
	for _, w := range p.Workers() {
		assert.False(t, seen[w.ID], "duplicate worker id %s", w.ID)
		seen[w.ID] = true
	}
}

func TestPool_FlagStopIsLIFO(t *testing.T) {
	p, _ := newTestPool(t, noopExecutor(), Options{MinWorkers: 1, MaxWorkers: 4})
	p.Spawn(3)

	before := p.Workers()
	require.Len(t, before, 4)

	assert.Equal(t, 2, p.FlagStop(2))
	assert.Equal(t, 2, p.Count())

	after := p.Workers()
	stopping := make(map[string]bool)
	for _, w := range after {
		if w.Stopping {
			stopping[w.ID] = true
		}
	}
	assert.True(t, stopping[before[3].ID], "newest worker should be flagged")
	assert.True(t, stopping[before[2].ID], "second newest worker should be flagged")
	assert.False(t, stopping[before[0].ID], "oldest worker should keep running")
}

func TestPool_FlagStopKeepsMinimum(t *testing.T) {
	p, _ := newTestPool(t, noopExecutor(), Options{MinWorkers: 2, MaxWorkers: 4})
	p.Spawn(2)

	assert.Equal(t, 2, p.FlagStop(10))
	assert.Equal(t, 2, p.Count())
}

func TestPool_FlaggedWorkersAreReaped(t *testing.T) {
	bus := event.NewBus(nil)
	var exited atomic.Int32
	bus.Subscribe(event.TypeWorkerExited, func(event.Event) { exited.Add(1) })

	p, _ := newTestPool(t, noopExecutor(), Options{MinWorkers: 1, MaxWorkers: 3, Bus: bus})
	p.Spawn(2)
	p.FlagStop(2)

	waitFor(t, func() bool { return len(p.Workers()) == 1 })
	assert.Equal(t, int32(2), exited.Load())
	assert.Equal(t, 1, p.Count())
}

func TestPool_FlaggedIdleWorkerTakesNoNewTask(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	exec := ExecutorFunc(func(context.Context, string, taskqueue.Descriptor) {
		n := running.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	})

	// A long dequeue wait keeps the flagged workers parked in Dequeue.
	p, src := newTestPool(t, exec, Options{MinWorkers: 0, MaxWorkers: 2, DequeueWait: 2 * time.Second})
	require.Equal(t, 2, p.Spawn(2))
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 2, p.FlagStop(2))
	require.Equal(t, 2, p.Spawn(2))

	for i := 0; i < 4; i++ {
		src.ch <- taskqueue.Descriptor{ID: fmt.Sprintf("t%d", i)}
	}
	waitFor(t, func() bool { return running.Load() == 2 })
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(2), peak.Load(), "concurrent executions must not exceed MaxWorkers")
	assert.Len(t, src.ch, 2, "flagged workers must leave tasks queued")
	close(release)
	waitFor(t, func() bool { return len(src.ch) == 0 && running.Load() == 0 })
}

func TestPool_ExecutesTasks(t *testing.T) {
	var mu sync.Mutex
	ran := make(map[string]string)
	exec := ExecutorFunc(func(_ context.Context, workerID string, d taskqueue.Descriptor) {
		mu.Lock()
		defer mu.Unlock()
		ran[d.ID] = workerID
	})

	p, src := newTestPool(t, exec, Options{MinWorkers: 2, MaxWorkers: 2})
	for _, id := range []string{"a", "b", "c", "d"} {
		src.ch <- taskqueue.Descriptor{ID: id}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 4
	})

	ids := make(map[string]bool)
	for _, w := range p.Workers() {
		ids[w.ID] = true
	}
	mu.Lock()
	defer mu.Unlock()
	for task, worker := range ran {
		assert.True(t, ids[worker], "task %s ran on unknown worker %s", task, worker)
	}
}

func TestPool_RespawnsCrashedWorker(t *testing.T) {
	bus := event.NewBus(nil)
	var crashed, respawned atomic.Int32
	bus.Subscribe(event.TypeWorkerExited, func(e event.Event) {
		if e.(event.WorkerExitedEvent).Crashed {
			crashed.Add(1)
		}
	})
	bus.Subscribe(event.TypeWorkerSpawned, func(e event.Event) {
		if e.(event.WorkerSpawnedEvent).Respawn {
			respawned.Add(1)
		}
	})

	exec := ExecutorFunc(func(_ context.Context, _ string, d taskqueue.Descriptor) {
		if d.ID == "boom" {
			panic("executor bug")
		}
	})
	p, src := newTestPool(t, exec, Options{MinWorkers: 2, MaxWorkers: 2, Bus: bus})
	original := p.Workers()

	src.ch <- taskqueue.Descriptor{ID: "boom"}

	waitFor(t, func() bool { return crashed.Load() == 1 && respawned.Load() == 1 })
	waitFor(t, func() bool { return p.Count() == 2 })

	current := p.Workers()
	require.Len(t, current, 2)
	known := map[string]bool{original[0].ID: true, original[1].ID: true}
	newCount := 0
	for _, w := range current {
		if !known[w.ID] {
			newCount++
			assert.True(t, w.Respawn)
		}
	}
	assert.Equal(t, 1, newCount)
}

func TestPool_SetBounds(t *testing.T) {
	p, _ := newTestPool(t, noopExecutor(), Options{MinWorkers: 1, MaxWorkers: 2})

	p.SetBounds(3, 6)
	minW, maxW := p.Bounds()
	assert.Equal(t, 3, minW)
	assert.Equal(t, 6, maxW)

	// The reaper restores the new minimum.
	waitFor(t, func() bool { return p.Count() == 3 })

	p.SetBounds(5, 2)
	minW, maxW = p.Bounds()
	assert.Equal(t, 2, minW)
	assert.Equal(t, 2, maxW)
}

func TestPool_StopWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool
	exec := ExecutorFunc(func(context.Context, string, taskqueue.Descriptor) {
		close(started)
		<-release
		finished.Store(true)
	})

	src := newChanSource()
	p := New(src, exec, Options{MinWorkers: 1, MaxWorkers: 1, DequeueWait: 10 * time.Millisecond})
	require.NoError(t, p.Start(context.Background()))
	src.ch <- taskqueue.Descriptor{ID: "slow"}
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after task finished")
	}
	assert.True(t, finished.Load())
	assert.Equal(t, 0, p.Spawn(1), "draining pool should not spawn")
}

func TestPool_StopDeadlineCancelsTasks(t *testing.T) {
	started := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ string, _ taskqueue.Descriptor) {
		close(started)
		<-ctx.Done()
	})

	src := newChanSource()
	p := New(src, exec, Options{MinWorkers: 1, MaxWorkers: 1, DequeueWait: 10 * time.Millisecond})
	require.NoError(t, p.Start(context.Background()))
	src.ch <- taskqueue.Descriptor{ID: "stuck"}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
