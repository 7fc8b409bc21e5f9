package taskqueue

import (
	"context"
	"time"

	"github.com/Iron-Ham/dispatch/internal/errors"
	"github.com/Iron-Ham/dispatch/internal/event"
)

// EventQueue wraps a Queue and publishes events to an event bus after
// queue operations succeed. Events are published after the queue lock is
// released, so subscribers may call back into the queue.
type EventQueue struct {
	*Queue
	bus *event.Bus
}

// NewEventQueue creates an EventQueue that publishes events on the given bus.
func NewEventQueue(q *Queue, bus *event.Bus) *EventQueue {
	return &EventQueue{Queue: q, bus: bus}
}

// Submit enqueues a task and publishes a TaskSubmittedEvent followed by a
// QueueDepthChangedEvent.
func (eq *EventQueue) Submit(d Descriptor) (Descriptor, error) {
	stored, err := eq.Queue.Submit(d)
	if err != nil {
		return Descriptor{}, err
	}

	st := eq.Queue.Status()
	eq.bus.Publish(event.NewTaskSubmittedEvent(stored.ID, stored.TaskType, st.Queued))
	eq.bus.Publish(event.NewQueueDepthChangedEvent(st.Queued, st.Running))
	return stored, nil
}

// Dequeue removes the head of the queue and publishes a QueueDepthChangedEvent
// when a task was taken.
func (eq *EventQueue) Dequeue(ctx context.Context, wait time.Duration) (Descriptor, bool) {
	d, ok := eq.Queue.Dequeue(ctx, wait)
	if ok {
		eq.publishDepth()
	}
	return d, ok
}

// MarkRunning transitions a task to running and publishes a TaskStartedEvent.
func (eq *EventQueue) MarkRunning(taskID, workerID string) error {
	if err := eq.Queue.MarkRunning(taskID, workerID); err != nil {
		return err
	}
	var wait time.Duration
	if rec, err := eq.Queue.Get(taskID); err == nil && rec.StartedAt != nil {
		wait = rec.StartedAt.Sub(rec.EnqueuedAt)
	}
	eq.bus.Publish(event.NewTaskStartedEvent(taskID, workerID, wait))
	return nil
}

// MarkDone completes a task and publishes a TaskFinishedEvent.
func (eq *EventQueue) MarkDone(taskID string, res Result) error {
	if err := eq.Queue.MarkDone(taskID, res); err != nil {
		return err
	}
	eq.publishFinished(taskID, true, "", res.LatencyMs)
	return nil
}

// MarkFailed fails a task and publishes a TaskFinishedEvent.
func (eq *EventQueue) MarkFailed(taskID string, res Result) error {
	if err := eq.Queue.MarkFailed(taskID, res); err != nil {
		return err
	}
	kind := res.ErrorKind
	if kind == "" {
		kind = errors.KindInternal.String()
	}
	eq.publishFinished(taskID, false, kind, res.LatencyMs)
	return nil
}

func (eq *EventQueue) publishFinished(taskID string, success bool, kind string, latencyMs int64) {
	var workerID string
	if rec, err := eq.Queue.Get(taskID); err == nil {
		workerID = rec.WorkerID
	}
	eq.bus.Publish(event.NewTaskFinishedEvent(taskID, workerID, success, kind, time.Duration(latencyMs)*time.Millisecond))
}

func (eq *EventQueue) publishDepth() {
	st := eq.Queue.Status()
	eq.bus.Publish(event.NewQueueDepthChangedEvent(st.Queued, st.Running))
}
