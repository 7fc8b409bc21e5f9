package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.submitted", "worker.spawned")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	Wildcard = "*"

	TypeTaskSubmitted     = "task.submitted"
	TypeTaskStarted       = "task.started"
	TypeTaskFinished      = "task.finished"
	TypeQueueDepthChanged = "queue.depth_changed"
	TypeScalingDecision   = "scaling.decision"
	TypeWorkerSpawned     = "worker.spawned"
	TypeWorkerExited      = "worker.exited"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskSubmittedEvent is emitted after a task has been accepted and enqueued.
type TaskSubmittedEvent struct {
	baseEvent
	TaskID   string
	TaskType string
	QueueLen int // Queue length including this task
}

// NewTaskSubmittedEvent creates a TaskSubmittedEvent.
func NewTaskSubmittedEvent(taskID, taskType string, queueLen int) TaskSubmittedEvent {
	return TaskSubmittedEvent{
		baseEvent: newBaseEvent(TypeTaskSubmitted),
		TaskID:    taskID,
		TaskType:  taskType,
		QueueLen:  queueLen,
	}
}

// TaskStartedEvent is emitted when a worker marks a task running.
type TaskStartedEvent struct {
	baseEvent
	TaskID    string
	WorkerID  string
	QueueWait time.Duration
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(taskID, workerID string, queueWait time.Duration) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent: newBaseEvent(TypeTaskStarted),
		TaskID:    taskID,
		WorkerID:  workerID,
		QueueWait: queueWait,
	}
}

// TaskFinishedEvent is emitted when a task reaches Done or Failed.
type TaskFinishedEvent struct {
	baseEvent
	TaskID    string
	WorkerID  string
	Success   bool
	ErrorKind string // Empty on success
	Latency   time.Duration
}

// NewTaskFinishedEvent creates a TaskFinishedEvent.
func NewTaskFinishedEvent(taskID, workerID string, success bool, errorKind string, latency time.Duration) TaskFinishedEvent {
	return TaskFinishedEvent{
		baseEvent: newBaseEvent(TypeTaskFinished),
		TaskID:    taskID,
		WorkerID:  workerID,
		Success:   success,
		ErrorKind: errorKind,
		Latency:   latency,
	}
}

// -----------------------------------------------------------------------------
// Load and Scaling Events
// -----------------------------------------------------------------------------

// QueueDepthChangedEvent is emitted whenever the number of queued tasks changes.
type QueueDepthChangedEvent struct {
	baseEvent
	Queued  int
	Running int
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(queued, running int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent(TypeQueueDepthChanged),
		Queued:    queued,
		Running:   running,
	}
}

// ScalingDecisionEvent is emitted when the autoscaler applies a scaling action.
type ScalingDecisionEvent struct {
	baseEvent
	Action  string // "scale_out" or "scale_in"
	Delta   int    // Positive for workers added, negative for workers flagged to stop
	Desired int
	Current int // Worker count before the action
	Reason  string
}

// NewScalingDecisionEvent creates a ScalingDecisionEvent.
func NewScalingDecisionEvent(action string, delta, desired, current int, reason string) ScalingDecisionEvent {
	return ScalingDecisionEvent{
		baseEvent: newBaseEvent(TypeScalingDecision),
		Action:    action,
		Delta:     delta,
		Desired:   desired,
		Current:   current,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Worker Lifecycle Events
// -----------------------------------------------------------------------------

// WorkerSpawnedEvent is emitted when the pool starts a worker.
type WorkerSpawnedEvent struct {
	baseEvent
	WorkerID string
	Respawn  bool // True when spawned by the reaper to restore min workers
}

// NewWorkerSpawnedEvent creates a WorkerSpawnedEvent.
func NewWorkerSpawnedEvent(workerID string, respawn bool) WorkerSpawnedEvent {
	return WorkerSpawnedEvent{
		baseEvent: newBaseEvent(TypeWorkerSpawned),
		WorkerID:  workerID,
		Respawn:   respawn,
	}
}

// WorkerExitedEvent is emitted when the reaper collects a terminated worker.
type WorkerExitedEvent struct {
	baseEvent
	WorkerID string
	Crashed  bool   // True if the worker loop exited on a panic
	Reason   string // "stopped", "panic: ...", "context canceled"
}

// NewWorkerExitedEvent creates a WorkerExitedEvent.
func NewWorkerExitedEvent(workerID string, crashed bool, reason string) WorkerExitedEvent {
	return WorkerExitedEvent{
		baseEvent: newBaseEvent(TypeWorkerExited),
		WorkerID:  workerID,
		Crashed:   crashed,
		Reason:    reason,
	}
}
