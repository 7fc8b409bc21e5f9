// Package simulate provides in-process stand-ins for the provider policy and
// the execution adapter, so the dispatcher can be driven end to end without
// network access.
package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/dispatch/internal/dispatcher"
	"github.com/Iron-Ham/dispatch/internal/errors"
)

// StaticPolicy always chooses the same provider and model.
type StaticPolicy struct {
	Provider string
	Model    string
	Params   map[string]any
}

// Choose implements dispatcher.PolicyClient.
func (p StaticPolicy) Choose(context.Context, string, string) (dispatcher.Choice, error) {
	params := make(map[string]any, len(p.Params))
	for k, v := range p.Params {
		params[k] = v
	}
	return dispatcher.Choice{Provider: p.Provider, Model: p.Model, Params: params}, nil
}

// RoutingPolicy picks a model by task type, falling back to Default.
type RoutingPolicy struct {
	Default StaticPolicy
	ByType  map[string]StaticPolicy
}

// Choose implements dispatcher.PolicyClient.
func (p RoutingPolicy) Choose(ctx context.Context, description, taskType string) (dispatcher.Choice, error) {
	if sp, ok := p.ByType[taskType]; ok {
		return sp.Choose(ctx, description, taskType)
	}
	return p.Default.Choose(ctx, description, taskType)
}

// LatencyAdapter sleeps for a random duration in [MinLatency, MaxLatency]
// and then echoes the first line of the prompt. A FailureRate fraction of
// calls fail with an ExecutionError.
type LatencyAdapter struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLatencyAdapter creates an adapter seeded with seed, so runs are
// reproducible.
func NewLatencyAdapter(minLatency, maxLatency time.Duration, failureRate float64, seed uint64) *LatencyAdapter {
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &LatencyAdapter{
		MinLatency:  minLatency,
		MaxLatency:  maxLatency,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Invoke implements dispatcher.ExecutionAdapter. It returns early with the
// context's error when ctx ends.
func (a *LatencyAdapter) Invoke(ctx context.Context, provider, model, prompt string, _ map[string]any) (string, error) {
	delay, fail := a.draw()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if fail {
		return "", errors.NewExecutionError("simulated provider failure", nil).
			WithProvider(provider).WithModel(model)
	}
	return fmt.Sprintf("[%s/%s] %s", provider, model, summary(prompt)), nil
}

func (a *LatencyAdapter) draw() (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delay := a.MinLatency
	if span := a.MaxLatency - a.MinLatency; span > 0 {
		delay += time.Duration(a.rng.Int64N(int64(span) + 1))
	}
	return delay, a.FailureRate > 0 && a.rng.Float64() < a.FailureRate
}

// summary returns the last non-empty line of prompt, which carries the task
// description.
func summary(prompt string) string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
