package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/dispatch/internal/event"
	"github.com/Iron-Ham/dispatch/internal/logging"
	"github.com/Iron-Ham/dispatch/internal/taskqueue"
)

// Default pool values.
const (
	DefaultDequeueWait  = 250 * time.Millisecond
	DefaultReapInterval = time.Second
)

// Source supplies tasks to workers.
type Source interface {
	// Dequeue returns the next task, waiting up to wait. It returns false
	// when nothing arrived or ctx is done, and must not hand out a task once
	// ctx is done.
	Dequeue(ctx context.Context, wait time.Duration) (taskqueue.Descriptor, bool)
}

// Executor runs one task to a terminal state. Implementations must record
// their own failures; a panic escaping Execute terminates the worker.
type Executor interface {
	Execute(ctx context.Context, workerID string, task taskqueue.Descriptor)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, workerID string, task taskqueue.Descriptor)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, workerID string, task taskqueue.Descriptor) {
	f(ctx, workerID, task)
}

// Options configures a Pool.
type Options struct {
	MinWorkers   int
	MaxWorkers   int
	DequeueWait  time.Duration
	ReapInterval time.Duration
	Logger       *logging.Logger
	Bus          *event.Bus
}

// Pool owns every worker handle. Spawn, FlagStop and reaping are serialized
// on one mutex so the active count is never double counted.
type Pool struct {
	src  Source
	exec Executor
	bus  *event.Bus
	log  *logging.Logger

	dequeueWait  time.Duration
	reapInterval time.Duration

	mu       sync.Mutex
	workers  []*Worker // spawn order
	min, max int
	started  bool
	draining bool
	stopped  bool

	ctx     context.Context
	cancel  context.CancelFunc
	running *conc.WaitGroup
	wake    chan struct{}
	reaped  chan struct{}
	quit    chan struct{}
}

// New creates a Pool. Workers are not spawned until Start.
func New(src Source, exec Executor, opts Options) *Pool {
	if opts.DequeueWait <= 0 {
		opts.DequeueWait = DefaultDequeueWait
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.MinWorkers > opts.MaxWorkers {
		opts.MinWorkers = opts.MaxWorkers
	}
	return &Pool{
		src:          src,
		exec:         exec,
		bus:          opts.Bus,
		log:          logging.OrNop(opts.Logger).WithComponent("workerpool"),
		dequeueWait:  opts.DequeueWait,
		reapInterval: opts.ReapInterval,
		min:          max(0, opts.MinWorkers),
		max:          opts.MaxWorkers,
		running:      conc.NewWaitGroup(),
		wake:         make(chan struct{}, 1),
		reaped:       make(chan struct{}),
		quit:         make(chan struct{}),
	}
}

// Start spawns MinWorkers workers and starts the reaper.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	spawned := p.spawnLocked(p.min, false)
	p.mu.Unlock()

	p.publishSpawned(spawned)
	go p.reapLoop()
	return nil
}

// SetBounds updates the limits. Workers already running are not touched;
// the reaper restores the minimum on its next sweep.
func (p *Pool) SetBounds(minWorkers, maxWorkers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.max = max(1, maxWorkers)
	p.min = min(max(0, minWorkers), p.max)
}

// Bounds returns the current limits.
func (p *Pool) Bounds() (minWorkers, maxWorkers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min, p.max
}

// Count returns the number of active workers: alive and not flagged to stop.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

func (p *Pool) activeLocked() int {
	n := 0
	for _, w := range p.workers {
		if w.Active() {
			n++
		}
	}
	return n
}

// Spawn starts up to n workers without exceeding MaxWorkers and returns how
// many were started.
func (p *Pool) Spawn(n int) int {
	p.mu.Lock()
	if !p.started || p.draining {
		p.mu.Unlock()
		return 0
	}
	spawned := p.spawnLocked(n, false)
	p.mu.Unlock()

	p.publishSpawned(spawned)
	return len(spawned)
}

func (p *Pool) spawnLocked(n int, respawn bool) []*Worker {
	n = min(n, p.max-p.activeLocked())
	if n <= 0 {
		return nil
	}
	out := make([]*Worker, 0, n)
	for i := 0; i < n; i++ {
		w := newWorker(p.ctx, respawn)
		p.workers = append(p.workers, w)
		p.running.Go(func() { p.run(w) })
		out = append(out, w)
	}
	return out
}

func (p *Pool) publishSpawned(ws []*Worker) {
	for _, w := range ws {
		p.log.Debug("worker spawned", "worker_id", w.ID, "respawn", w.Respawn)
		if p.bus != nil {
			p.bus.Publish(event.NewWorkerSpawnedEvent(w.ID, w.Respawn))
		}
	}
}

// FlagStop flags up to n active workers to stop after their current task,
// most recently spawned first, without going below MinWorkers. It returns
// how many were flagged.
func (p *Pool) FlagStop(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n = min(n, p.activeLocked()-p.min)
	flagged := 0
	for i := len(p.workers) - 1; i >= 0 && flagged < n; i-- {
		w := p.workers[i]
		if w.Active() && w.RequestStop() {
			flagged++
			p.log.Debug("worker flagged to stop", "worker_id", w.ID)
		}
	}
	return flagged
}

// Workers returns a snapshot of every tracked worker in spawn order.
func (p *Pool) Workers() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Info, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Info()
	}
	return out
}

// run is the worker goroutine. Panics are captured so the reaper can record
// the crash and respawn.
func (p *Pool) run(w *Worker) {
	var catcher panics.Catcher
	catcher.Try(func() { p.loop(w) })

	if r := catcher.Recovered(); r != nil {
		err := r.AsError()
		p.log.Error("worker crashed", "worker_id", w.ID, "error", err.Error())
		w.markExited(err.Error(), true)
	} else if w.Stopping() {
		w.markExited("stop requested", false)
	} else {
		w.markExited("context done", false)
	}

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) loop(w *Worker) {
	for {
		if w.Stopping() || p.ctx.Err() != nil {
			return
		}
		// The wait uses the worker's context, the task the pool's: a worker
		// flagged mid-task still finishes it.
		task, ok := p.src.Dequeue(w.ctx, p.dequeueWait)
		if !ok {
			continue
		}
		w.setTask(task.ID)
		p.exec.Execute(p.ctx, w.ID, task)
		w.setTask("")
	}
}

func (p *Pool) reapLoop() {
	defer close(p.reaped)

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			p.Reap()
			return
		case <-p.ctx.Done():
			p.Reap()
			return
		case <-ticker.C:
		case <-p.wake:
		}
		p.Reap()
	}
}

// Reap removes terminated worker handles and, unless the pool is shutting
// down, respawns workers to restore MinWorkers. It returns the number of
// handles removed.
func (p *Pool) Reap() int {
	p.mu.Lock()
	var dead []*Worker
	alive := p.workers[:0]
	for _, w := range p.workers {
		if w.Alive() {
			alive = append(alive, w)
		} else {
			dead = append(dead, w)
		}
	}
	for i := len(alive); i < len(p.workers); i++ {
		p.workers[i] = nil
	}
	p.workers = alive

	var respawned []*Worker
	if !p.draining && p.ctx != nil && p.ctx.Err() == nil {
		if deficit := p.min - p.activeLocked(); deficit > 0 {
			respawned = p.spawnLocked(deficit, true)
		}
	}
	p.mu.Unlock()

	for _, w := range dead {
		w.mu.Lock()
		reason, crashed := w.exitReason, w.crashed
		w.mu.Unlock()
		if crashed {
			p.log.Warn("reaped crashed worker", "worker_id", w.ID, "reason", reason)
		}
		if p.bus != nil {
			p.bus.Publish(event.NewWorkerExitedEvent(w.ID, crashed, reason))
		}
	}
	if len(respawned) > 0 {
		p.log.Info("respawned workers to maintain minimum", "count", len(respawned))
	}
	p.publishSpawned(respawned)
	return len(dead)
}

// Drain flags every worker to stop and disables spawning and respawning.
// It does not wait.
func (p *Pool) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.draining = true
	for _, w := range p.workers {
		w.RequestStop()
	}
}

// Stop drains the pool and waits for in-flight tasks to finish. If ctx ends
// first, the pool context is cancelled so executors can abandon their tasks,
// and Stop waits for the workers to return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.Drain()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.log.Warn("stop deadline reached, cancelling in-flight tasks")
		p.cancel()
		<-done
	}

	close(p.quit)
	<-p.reaped
	p.cancel()
	return err
}
