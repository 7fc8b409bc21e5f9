// Package dispatcher wires the task queue, worker pool, autoscaler and
// metrics collector into a single [Scheduler].
//
// The scheduler owns no global state. A caller builds one with [New],
// supplying the two collaborators the dispatcher cannot provide itself:
//
//   - a [PolicyClient] that picks a provider and model for each task
//   - an [ExecutionAdapter] that performs the provider call
//
// and optionally a feedback sink, logger, event bus and tracer.
//
// # Task Lifecycle
//
// Submit validates a descriptor and queues it. A worker dequeues it in
// submission order, marks it running, chooses a provider (unless the
// descriptor pins one), invokes the adapter under the configured task
// timeout and marks the record done or failed. Every execution error is
// captured on the record; none escapes the worker loop. The outcome is then
// folded into the metrics collector and handed to the feedback sink, whose
// failures are logged and otherwise ignored.
//
// # Shutdown
//
// Stop rejects new submissions, flags every worker to stop, fails tasks that
// never started and waits for in-flight tasks until its context ends.
package dispatcher
