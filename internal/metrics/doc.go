// Package metrics collects dispatcher statistics in constant time.
//
// A [Collector] keeps running means of queue wait and task run time using
// Welford's online update, outcome counters, and a fixed-capacity [Ring] of
// timestamped history entries. Collector state is guarded by its own mutex,
// separate from the task queue, so recording a sample never contends with
// queue mutations.
//
// A [Sampler] pushes a history entry on a fixed interval, reading the current
// queue length and worker count from a [Source].
package metrics
