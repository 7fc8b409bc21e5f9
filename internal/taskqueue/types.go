package taskqueue

import "time"

// Defaults applied by Submit to empty descriptor fields.
const (
	DefaultTaskType   = "build"
	DefaultAgentType  = "builder"
	DefaultComplexity = ComplexityMedium
)

// Complexity is the caller's estimate of how demanding a task is.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValid reports whether c is one of the known complexity levels.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// Descriptor is what a caller submits: the unit of work and its routing hints.
// ID and EnqueuedAt are assigned by Submit; the descriptor is immutable after that.
type Descriptor struct {
	ID          string     `json:"id" yaml:"-"`
	Description string     `json:"description" yaml:"description"`
	TaskType    string     `json:"task_type" yaml:"task_type,omitempty"`
	AgentType   string     `json:"agent_type" yaml:"agent_type,omitempty"`
	Complexity  Complexity `json:"complexity" yaml:"complexity,omitempty"`

	// Provider and Model override the policy client's choice when set.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`

	// SessionID groups related tasks for the caller; the dispatcher does not interpret it.
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`

	// EnqueuedAt carries a monotonic clock reading, so time.Since is safe
	// for queue-wait computation.
	EnqueuedAt time.Time `json:"enqueued_at" yaml:"-"`
}

// Status represents the lifecycle state of a task record.
// Records move strictly forward: Queued -> Running -> Done|Failed.
// A queued task may also go straight to Failed when it is abandoned at shutdown.
type Status string

const (
	// StatusQueued indicates the task is waiting for a worker.
	StatusQueued Status = "queued"

	// StatusRunning indicates a worker is executing the task.
	StatusRunning Status = "running"

	// StatusDone indicates the task finished successfully.
	StatusDone Status = "done"

	// StatusFailed indicates the task failed.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Result is the outcome attached to a terminal record.
type Result struct {
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latency_ms"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Record is the dispatcher's lifecycle object for a submitted task.
// Callers only ever receive copies.
type Record struct {
	Descriptor

	Status     Status     `json:"status"`
	WorkerID   string     `json:"worker_id,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	seq uint64
}

// clone returns a deep copy safe to hand to callers.
func (r *Record) clone() Record {
	cp := *r
	if r.Result != nil {
		res := *r.Result
		cp.Result = &res
	}
	return cp
}

// QueueStatus is a snapshot of the queue's current state counts.
type QueueStatus struct {
	Queued   int `json:"queued"`
	Running  int `json:"running"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Retained int `json:"retained"` // Records currently held by the registry
}
