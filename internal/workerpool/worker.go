package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Worker is the pool's handle on one worker goroutine.
type Worker struct {
	ID        string
	StartedAt time.Time
	Respawn   bool

	alive    atomic.Bool
	stopping atomic.Bool

	// ctx bounds the wait for the next task; RequestStop cancels it so an
	// idle worker cannot pick up work after it was flagged.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	currentTask string
	completed   int
	exitReason  string
	crashed     bool
}

func newWorker(parent context.Context, respawn bool) *Worker {
	w := &Worker{
		ID:        ulid.Make().String(),
		StartedAt: time.Now(),
		Respawn:   respawn,
	}
	w.ctx, w.cancel = context.WithCancel(parent)
	w.alive.Store(true)
	return w
}

// Alive reports whether the worker goroutine is still running.
func (w *Worker) Alive() bool { return w.alive.Load() }

// Stopping reports whether the worker has been asked to stop.
func (w *Worker) Stopping() bool { return w.stopping.Load() }

// Active reports whether the worker counts toward the pool size.
func (w *Worker) Active() bool { return w.Alive() && !w.Stopping() }

// RequestStop flags the worker to exit after its current task and aborts
// any wait for a new one. It reports whether this call changed the flag.
func (w *Worker) RequestStop() bool {
	if !w.stopping.CompareAndSwap(false, true) {
		return false
	}
	w.cancel()
	return true
}

func (w *Worker) setTask(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == "" && w.currentTask != "" {
		w.completed++
	}
	w.currentTask = id
}

func (w *Worker) markExited(reason string, crashed bool) {
	w.mu.Lock()
	w.exitReason = reason
	w.crashed = crashed
	w.currentTask = ""
	w.mu.Unlock()
	w.cancel()
	w.alive.Store(false)
}

// Info is a point-in-time copy of a worker's state.
type Info struct {
	ID          string    `json:"id"`
	Alive       bool      `json:"alive"`
	Stopping    bool      `json:"stopping"`
	CurrentTask string    `json:"current_task,omitempty"`
	Completed   int       `json:"completed"`
	StartedAt   time.Time `json:"started_at"`
	Respawn     bool      `json:"respawn,omitempty"`
}

// Info returns a snapshot of the worker.
func (w *Worker) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Info{
		ID:          w.ID,
		Alive:       w.Alive(),
		Stopping:    w.Stopping(),
		CurrentTask: w.currentTask,
		Completed:   w.completed,
		StartedAt:   w.StartedAt,
		Respawn:     w.Respawn,
	}
}
