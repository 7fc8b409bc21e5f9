package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/dispatch/internal/errors"
)

// Sentinel errors returned by queue operations.
var (
	ErrTaskNotFound      = errors.ErrTaskNotFound
	ErrInvalidTransition = errors.ErrInvalidTransition
	ErrQueueClosed       = errors.New("queue closed")
)

// Options bounds the queue and its registry.
type Options struct {
	// MaxDepth rejects submissions with PoolExhausted once this many tasks
	// are queued. Zero means unlimited.
	MaxDepth int

	// RegistryCapacity is the number of terminal records retained for
	// observability. Active records are never evicted. Zero keeps every record.
	RegistryCapacity int
}

// Queue is a FIFO of pending tasks plus the registry of their lifecycle records.
// Queue and registry share one mutex so every mutation is observed consistently.
// All methods are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	opts    Options
	pending []string           // task IDs in submission order
	records map[string]*Record // taskID -> record
	retired []string           // terminal task IDs in completion order, oldest first
	seq     uint64

	running int
	active  int // submitted but not yet terminal
	done    int
	failed  int

	// notify is closed and replaced on every enqueue to wake blocked dequeuers.
	notify chan struct{}
	// idle is closed when active drops to zero.
	idle   chan struct{}
	closed bool
}

// New creates an empty Queue.
func New(opts Options) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		opts:    opts,
		records: make(map[string]*Record),
		notify:  make(chan struct{}),
		idle:    idle,
	}
}

// SetMaxDepth changes the submission cap at runtime.
func (q *Queue) SetMaxDepth(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.opts.MaxDepth = n
}

// Submit validates d, assigns it an ID and enqueue timestamp, appends it to
// the tail of the queue and creates its Queued record. It returns the stored
// descriptor.
func (q *Queue) Submit(d Descriptor) (Descriptor, error) {
	if err := normalize(&d); err != nil {
		return Descriptor{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Descriptor{}, ErrQueueClosed
	}
	if q.opts.MaxDepth > 0 && len(q.pending) >= q.opts.MaxDepth {
		return Descriptor{}, errors.NewPoolExhaustedError(len(q.pending), q.opts.MaxDepth)
	}

	d.ID = uuid.NewString()
	d.EnqueuedAt = time.Now()

	q.seq++
	q.records[d.ID] = &Record{
		Descriptor: d,
		Status:     StatusQueued,
		seq:        q.seq,
	}
	q.pending = append(q.pending, d.ID)

	if q.active == 0 {
		q.idle = make(chan struct{})
	}
	q.active++

	close(q.notify)
	q.notify = make(chan struct{})

	return d, nil
}

// normalize validates a descriptor and fills in defaults.
func normalize(d *Descriptor) error {
	d.Description = strings.TrimSpace(d.Description)
	if d.Description == "" {
		return errors.NewValidationError("description must not be empty").WithField("description")
	}
	if d.TaskType == "" {
		d.TaskType = DefaultTaskType
	}
	if d.AgentType == "" {
		d.AgentType = DefaultAgentType
	}
	if d.Complexity == "" {
		d.Complexity = DefaultComplexity
	}
	if !d.Complexity.IsValid() {
		return errors.NewValidationError("complexity must be low, medium or high").
			WithField("complexity").WithValue(string(d.Complexity))
	}
	return nil
}

// TryDequeue removes and returns the head of the queue without blocking.
func (q *Queue) TryDequeue() (Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Dequeue removes and returns the head of the queue. When the queue is empty
// it waits up to wait for a submission, returning false if none arrives, the
// context ends or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (Descriptor, bool) {
	if wait <= 0 {
		if ctx.Err() != nil {
			return Descriptor{}, false
		}
		return q.TryDequeue()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return Descriptor{}, false
		}
		q.mu.Lock()
		if d, ok := q.popLocked(); ok || q.closed {
			q.mu.Unlock()
			return d, ok
		}
		notify := q.notify
		q.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return Descriptor{}, false
		case <-timer.C:
			return Descriptor{}, false
		}
	}
}

func (q *Queue) popLocked() (Descriptor, bool) {
	if len(q.pending) == 0 {
		return Descriptor{}, false
	}
	id := q.pending[0]
	q.pending[0] = ""
	q.pending = q.pending[1:]
	return q.records[id].Descriptor, true
}

// MarkRunning transitions a queued task to running on the given worker.
func (q *Queue) MarkRunning(taskID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if rec.Status != StatusQueued {
		return fmt.Errorf("%w: cannot transition %s from %s to running", ErrInvalidTransition, taskID, rec.Status)
	}
	now := time.Now()
	rec.Status = StatusRunning
	rec.WorkerID = workerID
	rec.StartedAt = &now
	q.running++
	return nil
}

// MarkDone transitions a running task to done with the given result.
func (q *Queue) MarkDone(taskID string, res Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if rec.Status != StatusRunning {
		return fmt.Errorf("%w: cannot complete task %s in status %s", ErrInvalidTransition, taskID, rec.Status)
	}
	res.Success = true
	q.finishLocked(rec, StatusDone, res)
	return nil
}

// MarkFailed transitions a running task, or a queued task that was
// abandoned, to failed. res.Error should carry the failure text.
func (q *Queue) MarkFailed(taskID string, res Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot fail task %s in status %s", ErrInvalidTransition, taskID, rec.Status)
	}
	if rec.Status == StatusQueued {
		q.removePendingLocked(taskID)
	}
	res.Success = false
	q.finishLocked(rec, StatusFailed, res)
	return nil
}

// finishLocked applies a terminal transition and evicts old records.
// The caller must hold the mutex.
func (q *Queue) finishLocked(rec *Record, status Status, res Result) {
	if rec.Status == StatusRunning {
		q.running--
	}
	now := time.Now()
	rec.Status = status
	rec.Result = &res
	rec.FinishedAt = &now

	if status == StatusDone {
		q.done++
	} else {
		q.failed++
	}

	q.active--
	if q.active == 0 {
		close(q.idle)
	}

	q.retired = append(q.retired, rec.ID)
	if capacity := q.opts.RegistryCapacity; capacity > 0 {
		for len(q.retired) > capacity {
			delete(q.records, q.retired[0])
			q.retired[0] = ""
			q.retired = q.retired[1:]
		}
	}
}

func (q *Queue) removePendingLocked(taskID string) {
	for i, id := range q.pending {
		if id == taskID {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			return
		}
	}
}

// Get returns a copy of the record for taskID.
func (q *Queue) Get(taskID string) (Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[taskID]
	if !ok {
		return Record{}, errors.NewNotFoundError("task", taskID)
	}
	return rec.clone(), nil
}

// Snapshot returns copies of the most recently submitted records still held
// by the registry, oldest first. A limit <= 0 returns all of them.
func (q *Queue) Snapshot(limit int) []Record {
	q.mu.Lock()
	recs := make([]Record, 0, len(q.records))
	for _, rec := range q.records {
		recs = append(recs, rec.clone())
	}
	q.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Status returns a snapshot of the current queue state counts.
// Done and Failed are cumulative and survive registry eviction.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStatus{
		Queued:   len(q.pending),
		Running:  q.running,
		Done:     q.done,
		Failed:   q.failed,
		Retained: len(q.records),
	}
}

// WaitIdle blocks until every submitted task has reached a terminal state
// or ctx ends.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further submissions and wakes every blocked Dequeue.
// Tasks still queued stay queued; use DrainPending to collect them.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
	q.notify = make(chan struct{})
}

// DrainPending removes every queued task and returns their descriptors in
// FIFO order. Their records remain Queued until the caller fails them.
func (q *Queue) DrainPending() []Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Descriptor, 0, len(q.pending))
	for _, id := range q.pending {
		out = append(out, q.records[id].Descriptor)
	}
	q.pending = nil
	return out
}
