// Package logging writes the dispatcher's JSON logs through log/slog.
//
// With a log directory configured, entries go to dispatch.log there and the
// file is rotated by size into dispatch.log.1 (newest) up to .MaxBackups,
// optionally gzipped. Without one they go to stderr.
//
//	logger, err := logging.NewLoggerWithRotation(dir, "info", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithComponent("workerpool").WithWorker(id)
//	log.Info("task finished", "task_id", taskID, "latency_ms", 52)
//
// Loggers derived with the With* methods share their parent's file, and
// every method is safe for concurrent use.
package logging
