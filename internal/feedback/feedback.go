// Package feedback delivers task outcome events to external sinks.
//
// Sinks are fire-and-forget from the dispatcher's point of view: [AsyncSink]
// decouples delivery from the worker through an in-process watermill
// channel, and delivery errors are logged and dropped. They never change a
// task's status.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/dispatch/internal/errors"
	"github.com/Iron-Ham/dispatch/internal/logging"
)

var (
	// ErrSinkClosed is returned by Record after a sink has been closed.
	ErrSinkClosed = errors.New("feedback sink closed")
	// ErrBufferFull is returned by AsyncSink.Record when Buffer events are
	// already awaiting delivery. The event is dropped.
	ErrBufferFull = errors.New("feedback buffer full")
)

// Event is the outcome of one task as reported to a sink.
type Event struct {
	TaskID      string    `json:"task_id"`
	TaskType    string    `json:"task_type"`
	AgentType   string    `json:"agent_type"`
	SessionID   string    `json:"session_id,omitempty"`
	WorkerID    string    `json:"worker_id"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Success     bool      `json:"success"`
	LatencyMs   int64     `json:"latency_ms"`
	QueueWaitMs int64     `json:"queue_wait_ms"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Sink records task outcomes.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Closer is implemented by sinks holding resources. Close flushes pending
// events where the sink buffers them.
type Closer interface {
	Close(ctx context.Context) error
}

// NopSink discards every event.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) error { return nil }

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink. A nil logger discards events.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger).WithComponent("feedback")}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, ev Event) error {
	args := []any{
		"task_id", ev.TaskID,
		"worker_id", ev.WorkerID,
		"provider", ev.Provider,
		"model", ev.Model,
		"success", ev.Success,
		"latency_ms", ev.LatencyMs,
		"queue_wait_ms", ev.QueueWaitMs,
	}
	if !ev.Success {
		args = append(args, "error_kind", ev.ErrorKind, "error", ev.Error)
	}
	s.logger.Info("task outcome", args...)
	return nil
}

// Backend names accepted by New.
const (
	BackendNone   = "none"
	BackendLog    = "log"
	BackendSQLite = "sqlite"
)

// Config selects and sizes the feedback sink.
type Config struct {
	Backend    string
	SQLitePath string
	Buffer     int
}

// New builds the configured backend wrapped in an AsyncSink. The returned
// sink must be closed to flush pending events.
func New(cfg Config, logger *logging.Logger) (*AsyncSink, error) {
	var inner Sink
	var closer Closer
	switch cfg.Backend {
	case BackendNone, "":
		inner = NopSink{}
	case BackendLog:
		inner = NewLogSink(logger)
	case BackendSQLite:
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite feedback sink: %w", err)
		}
		inner, closer = s, s
	default:
		return nil, errors.NewValidationError("unknown feedback backend").
			WithField("feedback.backend").WithValue(cfg.Backend)
	}

	async, err := NewAsyncSink(inner, AsyncOptions{Buffer: cfg.Buffer, Logger: logger, Closer: closer})
	if err != nil {
		if closer != nil {
			_ = closer.Close(context.Background())
		}
		return nil, err
	}
	return async, nil
}
