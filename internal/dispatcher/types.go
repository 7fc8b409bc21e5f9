package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/dispatch/internal/feedback"
	"github.com/Iron-Ham/dispatch/internal/taskqueue"
)

// Choice is a provider selection returned by a PolicyClient.
type Choice struct {
	Provider string
	Model    string
	Params   map[string]any
}

// PolicyClient selects a provider and model for a task. Choose is called on
// the worker's hot path and should return promptly; it runs under the task
// timeout.
type PolicyClient interface {
	Choose(ctx context.Context, description, taskType string) (Choice, error)
}

// PolicyFunc adapts a function to PolicyClient.
type PolicyFunc func(ctx context.Context, description, taskType string) (Choice, error)

// Choose implements PolicyClient.
func (f PolicyFunc) Choose(ctx context.Context, description, taskType string) (Choice, error) {
	return f(ctx, description, taskType)
}

// ExecutionAdapter performs the provider call for one task.
type ExecutionAdapter interface {
	Invoke(ctx context.Context, provider, model, prompt string, params map[string]any) (string, error)
}

// AdapterFunc adapts a function to ExecutionAdapter.
type AdapterFunc func(ctx context.Context, provider, model, prompt string, params map[string]any) (string, error)

// Invoke implements ExecutionAdapter.
func (f AdapterFunc) Invoke(ctx context.Context, provider, model, prompt string, params map[string]any) (string, error) {
	return f(ctx, provider, model, prompt, params)
}

// FeedbackSink receives task outcomes. Delivery is expected to be
// asynchronous; see feedback.AsyncSink.
type FeedbackSink = feedback.Sink

// BuildPrompt renders the prompt sent to the execution adapter.
func BuildPrompt(d taskqueue.Descriptor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s\n", d.AgentType)
	fmt.Fprintf(&sb, "Task type: %s\n", d.TaskType)
	fmt.Fprintf(&sb, "Complexity: %s\n\n", d.Complexity)
	sb.WriteString(d.Description)
	return sb.String()
}
