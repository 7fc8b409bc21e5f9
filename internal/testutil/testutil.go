// Package testutil provides testing utilities for dispatcher tests: polling
// helpers, instrumented execution adapters and a collecting feedback sink.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/dispatch/internal/feedback"
)

// WaitFor polls cond every few milliseconds until it returns true, failing
// the test if timeout elapses first.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// Call is one recorded adapter invocation.
type Call struct {
	Provider string
	Model    string
	Prompt   string
	Params   map[string]any
}

// FuncAdapter is an execution adapter backed by a function. It records
// every call.
type FuncAdapter struct {
	Fn func(ctx context.Context, provider, model, prompt string) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Invoke records the call and delegates to Fn. A nil Fn returns "ok".
func (a *FuncAdapter) Invoke(ctx context.Context, provider, model, prompt string, params map[string]any) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Provider: provider, Model: model, Prompt: prompt, Params: params})
	a.mu.Unlock()

	if a.Fn == nil {
		return "ok", nil
	}
	return a.Fn(ctx, provider, model, prompt)
}

// Calls returns a copy of the recorded calls.
func (a *FuncAdapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// BlockingAdapter holds every call until Release is called or the call's
// context ends.
type BlockingAdapter struct {
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	entered int
}

// NewBlockingAdapter creates a closed gate.
func NewBlockingAdapter() *BlockingAdapter {
	return &BlockingAdapter{release: make(chan struct{})}
}

// Invoke blocks until released.
func (a *BlockingAdapter) Invoke(ctx context.Context, _, _, _ string, _ map[string]any) (string, error) {
	a.mu.Lock()
	a.entered++
	a.mu.Unlock()

	select {
	case <-a.release:
		return "released", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Entered returns how many calls have started.
func (a *BlockingAdapter) Entered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entered
}

// Release unblocks every current and future call.
func (a *BlockingAdapter) Release() {
	a.once.Do(func() { close(a.release) })
}

// RecordingAdapter tracks concurrent entries per prompt. Any prompt entered
// while another call with the same prompt is still in flight is counted as
// an overlap.
type RecordingAdapter struct {
	Delay time.Duration

	mu       sync.Mutex
	inFlight map[string]int
	calls    map[string]int
	overlaps int
}

// NewRecordingAdapter creates an adapter that sleeps delay per call.
func NewRecordingAdapter(delay time.Duration) *RecordingAdapter {
	return &RecordingAdapter{
		Delay:    delay,
		inFlight: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// Invoke records entry and exit around a sleep.
func (a *RecordingAdapter) Invoke(ctx context.Context, _, _, prompt string, _ map[string]any) (string, error) {
	a.mu.Lock()
	if a.inFlight[prompt] > 0 {
		a.overlaps++
	}
	a.inFlight[prompt]++
	a.calls[prompt]++
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight[prompt]--
		a.mu.Unlock()
	}()

	select {
	case <-time.After(a.Delay):
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Overlaps returns how many concurrent duplicate entries were observed.
func (a *RecordingAdapter) Overlaps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overlaps
}

// CallsFor returns how many times prompt was invoked.
func (a *RecordingAdapter) CallsFor(prompt string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[prompt]
}

// CollectingSink stores every feedback event it receives.
type CollectingSink struct {
	// Err, when set, is returned from every Record after storing the event.
	Err error

	mu     sync.Mutex
	events []feedback.Event
}

// Record implements feedback.Sink.
func (s *CollectingSink) Record(_ context.Context, ev feedback.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.Err
}

// Events returns a copy of the collected events.
func (s *CollectingSink) Events() []feedback.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]feedback.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of collected events.
func (s *CollectingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
