// Package workerpool runs the dispatcher's worker goroutines.
//
// Each [Worker] loops: take a task from a [Source], hand it to an
// [Executor], repeat. A worker moves through Spawned, Active, Stopping
// (flagged, finishes its in-flight task) and Terminated. The pool keeps
// handles in spawn order and flags the most recently spawned active workers
// first when scaling in.
//
// A worker that exits unexpectedly, including by panic, is detected by the
// pool's reaper, which removes dead handles and respawns workers to keep
// the active count at the configured minimum.
package workerpool
