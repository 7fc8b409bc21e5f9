package feedback

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/dispatch/internal/errors"
	"github.com/Iron-Ham/dispatch/internal/logging"
)

type collectingSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	delay  time.Duration
}

func (s *collectingSink) Record(_ context.Context, ev Event) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("sink unavailable")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *collectingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAsyncSink_DeliversAllEvents(t *testing.T) {
	inner := &collectingSink{}
	sink, err := NewAsyncSink(inner, AsyncOptions{Buffer: 64})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, sink.Record(context.Background(), Event{TaskID: fmt.Sprintf("t-%d", i), Success: true}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sink.Flush(ctx))
	assert.Equal(t, 50, inner.len())

	require.NoError(t, sink.Close(ctx))
}

func TestAsyncSink_RecordDoesNotWaitForDelivery(t *testing.T) {
	inner := &collectingSink{delay: 50 * time.Millisecond}
	sink, err := NewAsyncSink(inner, AsyncOptions{})
	require.NoError(t, err)
	defer sink.Close(context.Background())

	start := time.Now()
	require.NoError(t, sink.Record(context.Background(), Event{TaskID: "slow"}))
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestAsyncSink_DropsWhenBufferFull(t *testing.T) {
	inner := &collectingSink{delay: 100 * time.Millisecond}
	sink, err := NewAsyncSink(inner, AsyncOptions{Buffer: 2})
	require.NoError(t, err)

	accepted := 0
	for i := 0; i < 10; i++ {
		err := sink.Record(context.Background(), Event{TaskID: fmt.Sprintf("t-%d", i)})
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, ErrBufferFull)
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, int64(8), sink.Dropped())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sink.Flush(ctx))
	assert.Equal(t, 2, inner.len())

	// Delivered events free their slots.
	require.NoError(t, sink.Record(ctx, Event{TaskID: "after-flush"}))
	require.NoError(t, sink.Close(ctx))
	assert.Equal(t, 3, inner.len())
}

func TestAsyncSink_InnerFailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, "DEBUG")
	inner := &collectingSink{fail: true}
	sink, err := NewAsyncSink(inner, AsyncOptions{Logger: logger})
	require.NoError(t, err)

	require.NoError(t, sink.Record(context.Background(), Event{TaskID: "t-1"}))
	require.NoError(t, sink.Close(context.Background()))

	assert.Contains(t, buf.String(), "feedback sink failed")
	assert.Contains(t, buf.String(), "t-1")
}

func TestAsyncSink_RecordAfterClose(t *testing.T) {
	sink, err := NewAsyncSink(NopSink{}, AsyncOptions{})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	err = sink.Record(context.Background(), Event{TaskID: "late"})
	assert.ErrorIs(t, err, ErrSinkClosed)

	// Closing twice is a no-op.
	assert.NoError(t, sink.Close(context.Background()))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.NewWriterLogger(&buf, "INFO"))

	require.NoError(t, sink.Record(context.Background(), Event{
		TaskID: "t-9", Provider: "anthropic", Success: false, ErrorKind: "execution_error", Error: "rate limited",
	}))

	out := buf.String()
	assert.Contains(t, out, "task outcome")
	assert.Contains(t, out, "rate limited")
	assert.Contains(t, out, "anthropic")
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "feedback.db")
	sink, err := OpenSQLite(path)
	require.NoError(t, err)
	defer sink.Close(context.Background())

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{TaskID: "a", TaskType: "build", AgentType: "builder", Provider: "p1", Model: "m1", Success: true, LatencyMs: 100, At: base},
		{TaskID: "b", TaskType: "build", AgentType: "builder", Provider: "p1", Model: "m1", Success: false, LatencyMs: 300, ErrorKind: "timeout", Error: "deadline", At: base.Add(time.Second)},
		{TaskID: "c", TaskType: "review", AgentType: "reviewer", Provider: "p2", Model: "m2", Success: true, LatencyMs: 50, At: base.Add(2 * time.Second)},
	}
	for _, ev := range events {
		require.NoError(t, sink.Record(ctx, ev))
	}

	recent, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].TaskID)
	assert.Equal(t, "b", recent[1].TaskID)
	assert.Equal(t, "deadline", recent[1].Error)
	assert.False(t, recent[1].Success)

	stats, err := sink.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "p1", stats[0].Provider)
	assert.Equal(t, 2, stats[0].Total)
	assert.Equal(t, 1, stats[0].Successes)
	assert.InDelta(t, 200, stats[0].AvgLatencyMs, 0.001)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Run("log backend", func(t *testing.T) {
		sink, err := New(Config{Backend: BackendLog}, nil)
		require.NoError(t, err)
		assert.IsType(t, &LogSink{}, sink.inner)
		require.NoError(t, sink.Close(context.Background()))
	})

	t.Run("sqlite backend", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.db")
		sink, err := New(Config{Backend: BackendSQLite, SQLitePath: path}, nil)
		require.NoError(t, err)
		require.NoError(t, sink.Record(context.Background(), Event{TaskID: "x", TaskType: "build", AgentType: "builder"}))
		require.NoError(t, sink.Close(context.Background()))

		reopened, err := OpenSQLite(path)
		require.NoError(t, err)
		defer reopened.Close(context.Background())
		recent, err := reopened.Recent(context.Background(), 10)
		require.NoError(t, err)
		assert.Len(t, recent, 1)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := New(Config{Backend: "kafka"}, nil)
		assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	})
}
