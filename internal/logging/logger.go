package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log level names accepted in configuration (case-insensitive).
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the file created inside the log directory.
const LogFileName = "dispatch.log"

// Logger writes JSON log lines through slog. Child loggers created with the
// With* methods share the parent's output and close state.
type Logger struct {
	sl  *slog.Logger
	out *output
}

// output is the shared sink of a logger family.
type output struct {
	mu     sync.Mutex
	file   *RotatingWriter
	closed bool
}

// NewLogger logs to {dir}/dispatch.log without rotation, or to stderr when
// dir is empty.
func NewLogger(dir string, level string) (*Logger, error) {
	return NewLoggerWithRotation(dir, level, RotationConfig{})
}

// NewLoggerWithRotation is NewLogger with a size-rotated log file.
func NewLoggerWithRotation(dir string, level string, rotation RotationConfig) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rw, err := NewRotatingWriter(filepath.Join(dir, LogFileName), rotation)
	if err != nil {
		return nil, err
	}
	l := NewWriterLogger(rw, level)
	l.out.file = rw
	return l, nil
}

// NewWriterLogger logs JSON lines to w. Close does not close w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: toSlog(level)})
	return &Logger{sl: slog.New(h), out: &output{}}
}

func toSlog(level string) slog.Level {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(ParseLevel(level))); err != nil {
		return slog.LevelInfo
	}
	return lv
}

// ParseLevel normalizes a level name. Unknown names map to LevelInfo.
func ParseLevel(level string) string {
	up := strings.ToUpper(strings.TrimSpace(level))
	for _, l := range ValidLevels() {
		if up == l {
			return l
		}
	}
	return LevelInfo
}

// ValidLevels lists the accepted level names.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// WithComponent tags entries with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(slog.String("component", name))
}

// WithWorker tags entries with a worker id.
func (l *Logger) WithWorker(workerID string) *Logger {
	return l.derive(slog.String("worker_id", workerID))
}

// WithTask tags entries with a task id.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.derive(slog.String("task_id", taskID))
}

// With adds alternating key/value attributes. Pairs whose key is not a
// string are skipped.
func (l *Logger) With(args ...any) *Logger {
	attrs := make([]any, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			attrs = append(attrs, slog.Any(key, args[i+1]))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{sl: l.sl.With(attrs...), out: l.out}
}

func (l *Logger) derive(attr slog.Attr) *Logger {
	return &Logger{sl: l.sl.With(attr), out: l.out}
}

func (l *Logger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level string) bool {
	return l.sl.Enabled(context.Background(), toSlog(level))
}

// Close closes the log file, if any. It is safe to call more than once and
// from any logger of the family.
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.closed || l.out.file == nil {
		return nil
	}
	l.out.closed = true
	return l.out.file.Close()
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{sl: slog.New(slog.DiscardHandler), out: &output{}}
}
