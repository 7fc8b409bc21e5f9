// Package taskqueue provides the dispatcher's FIFO task queue and its
// lifecycle registry.
//
// [Queue.Submit] validates a [Descriptor], assigns it an ID and an enqueue
// timestamp, appends it to the tail and creates a Queued [Record]. Workers
// take tasks from the head with [Queue.Dequeue], which waits on a
// notification channel instead of polling, and then drive the record through
// MarkRunning and MarkDone or MarkFailed. Transitions only move forward.
//
// The registry retains every active record plus the most recent
// RegistryCapacity terminal records; older terminal records are evicted in
// completion order.
//
// [EventQueue] decorates a Queue with event bus notifications that the
// autoscaler consumes.
//
// Usage:
//
//	q := taskqueue.New(taskqueue.Options{MaxDepth: 100, RegistryCapacity: 1000})
//
//	d, err := q.Submit(taskqueue.Descriptor{Description: "add endpoint"})
//
//	// Worker loop
//	task, ok := q.Dequeue(ctx, 250*time.Millisecond)
//	if ok {
//	    q.MarkRunning(task.ID, workerID)
//	    // ... execute task ...
//	    q.MarkDone(task.ID, taskqueue.Result{Output: out, LatencyMs: ms})
//	}
package taskqueue
