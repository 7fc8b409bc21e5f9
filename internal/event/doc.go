// Package event is the in-process bus the dispatcher's components talk
// through.
//
// The task queue announces submissions and depth changes, the autoscaler
// reacts to them, and the worker pool reports workers coming and going.
// Components only share the [Bus] and the event types below:
//
//   - task lifecycle: [TaskSubmittedEvent], [TaskStartedEvent], [TaskFinishedEvent]
//   - load: [QueueDepthChangedEvent], [ScalingDecisionEvent]
//   - workers: [WorkerSpawnedEvent], [WorkerExitedEvent]
//
// Delivery is synchronous on the publisher's goroutine, so a handler sees
// events in publish order. Subscribing with [Wildcard] receives every type.
// A handler that panics is logged and skipped.
package event
