// Package scaling sizes the dispatcher's worker pool from queue depth.
//
// The desired worker count is ceil(queue length / target queue per worker),
// clamped to [min workers, max workers]. A single observation never resizes
// the pool: [Policy] keeps a scale-out and a scale-in counter and only a run
// of consecutive agreeing observations reaching the configured threshold
// produces an action. Observations inside the dead-band (current ± epsilon)
// leave both counters untouched.
//
// The core types are:
//
//   - [Policy]: the hysteresis filter and its runtime-adjustable [Config]
//     and [HysteresisConfig]
//   - [Autoscaler]: evaluates the policy on every task submission and on a
//     timer, and applies decisions to a [Pool]
//   - [Decision]: the output of an evaluation, scale out, scale in, or hold
//
// # Usage
//
//	policy := scaling.NewPolicy(
//	    scaling.WithMinWorkers(1),
//	    scaling.WithMaxWorkers(8),
//	    scaling.WithTargetQueuePerWorker(2),
//	    scaling.WithScaleOutThreshold(3),
//	    scaling.WithScaleInThreshold(3),
//	)
//
//	as := scaling.NewAutoscaler(bus, policy, pool, queue,
//	    scaling.WithInterval(time.Second))
//	as.OnDecision(func(d scaling.Decision) {
//	    log.Printf("scaling: %s delta=%d reason=%s", d.Action, d.Delta, d.Reason)
//	})
//	as.Start(ctx)
//	defer as.Stop()
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package scaling
