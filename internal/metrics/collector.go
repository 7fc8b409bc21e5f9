package metrics

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity is used when a Collector is created with a
// non-positive capacity.
const DefaultHistoryCapacity = 120

// Outcome classifies a finished task for the outcome counters.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Mean is a running arithmetic mean updated with Welford's method.
// The zero value is ready to use and is not safe for concurrent use.
type Mean struct {
	n    int64
	mean float64
}

// Add folds x into the mean.
func (m *Mean) Add(x float64) {
	m.n++
	m.mean += (x - m.mean) / float64(m.n)
}

// Value returns the current mean, or zero before the first sample.
func (m *Mean) Value() float64 { return m.mean }

// Count returns the number of samples folded in.
func (m *Mean) Count() int64 { return m.n }

// HistoryEntry is one timestamped point in the metrics history.
type HistoryEntry struct {
	At             time.Time `json:"at"`
	QueueLen       int       `json:"queue_len"`
	WorkerCount    int       `json:"worker_count"`
	Saturation     float64   `json:"saturation"`
	AvgQueueWaitMs float64   `json:"avg_queue_wait_ms"`
	AvgTaskRunMs   float64   `json:"avg_task_run_ms"`
	SampleCount    int64     `json:"sample_count"`
}

// Snapshot is a point-in-time copy of the collector's state.
type Snapshot struct {
	AvgQueueWaitMs float64        `json:"avg_queue_wait_ms"`
	AvgTaskRunMs   float64        `json:"avg_task_run_ms"`
	SampleCount    int64          `json:"sample_count"`
	Successes      int64          `json:"successes"`
	Failures       int64          `json:"failures"`
	Timeouts       int64          `json:"timeouts"`
	WorkerCount    int            `json:"worker_count"`
	QueueLen       int            `json:"queue_len"`
	Saturation     float64        `json:"saturation"`
	History        []HistoryEntry `json:"history"`
}

// Collector aggregates task samples. All methods are O(1) except Snapshot,
// which copies the bounded history.
type Collector struct {
	mu        sync.Mutex
	queueWait Mean
	run       Mean
	successes int64
	failures  int64
	timeouts  int64

	history *Ring[HistoryEntry]
	now     func() time.Time
}

// NewCollector creates a collector whose history holds historyCapacity entries.
func NewCollector(historyCapacity int) *Collector {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	return &Collector{
		history: NewRing[HistoryEntry](historyCapacity),
		now:     time.Now,
	}
}

// RecordSample folds one finished task into the running means and counters.
func (c *Collector) RecordSample(queueWaitMs, runMs float64, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queueWait.Add(queueWaitMs)
	c.run.Add(runMs)
	switch outcome {
	case OutcomeSuccess:
		c.successes++
	case OutcomeTimeout:
		c.timeouts++
		c.failures++
	default:
		c.failures++
	}
}

// Saturation returns queued tasks per worker. Zero workers count as one.
func Saturation(queueLen, workers int) float64 {
	return float64(queueLen) / float64(max(1, workers))
}

// PushHistory appends entry to the history ring, stamping it if At is zero.
func (c *Collector) PushHistory(entry HistoryEntry) {
	if entry.At.IsZero() {
		entry.At = c.now()
	}
	c.history.Push(entry)
}

// Observe builds a history entry from the current means and the given queue
// state, and pushes it.
func (c *Collector) Observe(queueLen, workers int) HistoryEntry {
	c.mu.Lock()
	entry := HistoryEntry{
		At:             c.now(),
		QueueLen:       queueLen,
		WorkerCount:    workers,
		Saturation:     Saturation(queueLen, workers),
		AvgQueueWaitMs: c.queueWait.Value(),
		AvgTaskRunMs:   c.run.Value(),
		SampleCount:    c.run.Count(),
	}
	c.mu.Unlock()

	c.history.Push(entry)
	return entry
}

// Snapshot returns the collector state combined with the given queue length
// and worker count.
func (c *Collector) Snapshot(queueLen, workers int) Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		AvgQueueWaitMs: c.queueWait.Value(),
		AvgTaskRunMs:   c.run.Value(),
		SampleCount:    c.run.Count(),
		Successes:      c.successes,
		Failures:       c.failures,
		Timeouts:       c.timeouts,
	}
	c.mu.Unlock()

	snap.WorkerCount = workers
	snap.QueueLen = queueLen
	snap.Saturation = Saturation(queueLen, workers)
	snap.History = c.history.Items()
	return snap
}

// HistoryCapacity returns the fixed size of the history ring.
func (c *Collector) HistoryCapacity() int {
	return c.history.Cap()
}
