package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is one invalid setting, identified by its dotted key.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors reports every problem found by Validate at once.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err)
	}
	return sb.String()
}

var (
	logLevels      = []string{"debug", "info", "warn", "error"}
	feedbackSinks  = []string{"none", "log", "sqlite"}
	traceExporters = []string{"none", "stdout"}
)

const (
	maxLogSizeMB    = 1000
	minTUIRefreshMs = 16
)

// checker accumulates failures so Validate can report all of them.
type checker struct {
	errs []ValidationError
}

func (c *checker) fail(field string, value any, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

// min requires v >= lo. note, when set, explains what the boundary means.
func (c *checker) min(field string, v, lo int, note string) {
	if v >= lo {
		return
	}
	switch {
	case lo == 0 && note != "":
		c.fail(field, v, "must be non-negative (%s)", note)
	case lo == 0:
		c.fail(field, v, "must be non-negative")
	default:
		c.fail(field, v, "must be at least %d", lo)
	}
}

func (c *checker) oneOf(field, v string, allowed []string) {
	if !slices.Contains(allowed, v) {
		c.fail(field, v, "must be one of: %s", strings.Join(allowed, ", "))
	}
}

// Validate returns every invalid setting in c, or nil.
func (c *Config) Validate() []ValidationError {
	var ck checker

	s := c.Scaling
	ck.min("scaling.min_workers", s.MinWorkers, 0, "")
	ck.min("scaling.max_workers", s.MaxWorkers, 1, "")
	if s.MaxWorkers >= 1 && s.MinWorkers > s.MaxWorkers {
		ck.fail("scaling.max_workers", s.MaxWorkers, "must be >= scaling.min_workers (%d)", s.MinWorkers)
	}
	ck.min("scaling.target_queue_per_worker", s.TargetQueuePerWorker, 1, "")
	ck.min("scaling.epsilon", s.Epsilon, 0, "")
	ck.min("scaling.scale_out_threshold", s.ScaleOutThreshold, 1, "")
	ck.min("scaling.scale_in_threshold", s.ScaleInThreshold, 1, "")
	ck.min("scaling.evaluate_interval_ms", s.EvaluateIntervalMs, 0, "0 disables the timer")

	q := c.Queue
	ck.min("queue.max_depth", q.MaxDepth, 0, "0 = unlimited")
	ck.min("queue.registry_capacity", q.RegistryCapacity, 0, "0 = retain all")
	ck.min("queue.dequeue_wait_ms", q.DequeueWaitMs, 1, "")
	ck.min("queue.recent_limit", q.RecentLimit, 1, "")

	ck.min("worker.task_timeout_seconds", c.Worker.TaskTimeoutSeconds, 0, "0 disables the timeout")
	ck.min("worker.reap_interval_ms", c.Worker.ReapIntervalMs, 1, "")

	ck.min("metrics.history_capacity", c.Metrics.HistoryCapacity, 1, "")
	ck.min("metrics.history_interval_ms", c.Metrics.HistoryIntervalMs, 0, "0 disables sampling")

	ck.oneOf("feedback.backend", c.Feedback.Backend, feedbackSinks)
	ck.min("feedback.buffer", c.Feedback.Buffer, 1, "")

	ck.oneOf("tracing.exporter", c.Tracing.Exporter, traceExporters)
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		ck.fail("tracing.sample_ratio", r, "must be between 0 and 1")
	}

	l := c.Logging
	if l.Level != "" {
		ck.oneOf("logging.level", l.Level, logLevels)
	}
	switch {
	case l.MaxSizeMB <= 0:
		ck.fail("logging.max_size_mb", l.MaxSizeMB, "must be positive")
	case l.MaxSizeMB > maxLogSizeMB:
		ck.fail("logging.max_size_mb", l.MaxSizeMB, "exceeds maximum of %dMB", maxLogSizeMB)
	}
	ck.min("logging.max_backups", l.MaxBackups, 0, "")

	ck.min("tui.refresh_ms", c.TUI.RefreshMs, minTUIRefreshMs, "")

	return ck.errs
}
