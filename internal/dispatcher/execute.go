package dispatcher

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Iron-Ham/dispatch/internal/errors"
	"github.com/Iron-Ham/dispatch/internal/feedback"
	"github.com/Iron-Ham/dispatch/internal/metrics"
	"github.com/Iron-Ham/dispatch/internal/taskqueue"
	"github.com/Iron-Ham/dispatch/internal/tracing"
)

// execution is the result of running one task.
type execution struct {
	choice Choice
	output string
	err    error
}

// execute runs one dequeued task to a terminal state. It is the worker
// pool's Executor and never panics.
func (s *Scheduler) execute(ctx context.Context, workerID string, d taskqueue.Descriptor) {
	log := s.logger.WithTask(d.ID).WithWorker(workerID)

	if err := s.queue.MarkRunning(d.ID, workerID); err != nil {
		log.Warn("task not runnable", "error", err.Error())
		return
	}
	queueWait := time.Since(d.EnqueuedAt)

	ctx, span := tracing.StartSpan(ctx, s.tracer, "dispatch.execute",
		attribute.String("task.id", d.ID),
		attribute.String("task.type", d.TaskType),
		attribute.String("worker.id", workerID),
	)
	defer span.End()

	start := time.Now()
	var ex execution
	var catcher panics.Catcher
	catcher.Try(func() { ex = s.run(ctx, d) })
	if r := catcher.Recovered(); r != nil {
		ex.err = errors.NewExecutionError("task execution panicked", r.AsError())
	}
	runTime := time.Since(start)

	span.SetAttributes(
		attribute.String("provider", ex.choice.Provider),
		attribute.String("model", ex.choice.Model),
	)

	res := taskqueue.Result{
		LatencyMs: runTime.Milliseconds(),
		Provider:  ex.choice.Provider,
		Model:     ex.choice.Model,
	}
	outcome := metrics.OutcomeSuccess
	var markErr error
	if ex.err == nil {
		res.Output = ex.output
		markErr = s.queue.MarkDone(d.ID, res)
		log.Debug("task done", "latency_ms", res.LatencyMs, "provider", res.Provider)
	} else {
		kind := errors.KindOf(ex.err)
		res.Error = ex.err.Error()
		res.ErrorKind = kind.String()
		if kind == errors.KindTimeout {
			outcome = metrics.OutcomeTimeout
		} else {
			outcome = metrics.OutcomeFailure
		}
		span.RecordError(ex.err)
		span.SetStatus(codes.Error, res.ErrorKind)
		markErr = s.queue.MarkFailed(d.ID, res)
		log.Warn("task failed", "error_kind", res.ErrorKind, "error", res.Error, "latency_ms", res.LatencyMs)
	}
	if markErr != nil {
		log.Error("failed to record task outcome", "error", markErr.Error())
	}

	s.metrics.RecordSample(durationMs(queueWait), durationMs(runTime), outcome)

	ev := feedback.Event{
		TaskID:      d.ID,
		TaskType:    d.TaskType,
		AgentType:   d.AgentType,
		SessionID:   d.SessionID,
		WorkerID:    workerID,
		Provider:    res.Provider,
		Model:       res.Model,
		Success:     ex.err == nil,
		LatencyMs:   res.LatencyMs,
		QueueWaitMs: queueWait.Milliseconds(),
		ErrorKind:   res.ErrorKind,
		Error:       res.Error,
		At:          time.Now(),
	}
	if err := s.feedback.Record(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn("feedback record failed", "error", err.Error())
	}
}

// run chooses a provider and invokes the adapter under the task deadline.
func (s *Scheduler) run(ctx context.Context, d taskqueue.Descriptor) execution {
	timeout := time.Duration(s.taskTimeout.Load())
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var ex execution
	choice, err := s.choose(ctx, d, timeout)
	ex.choice = choice
	if err != nil {
		ex.err = err
		return ex
	}

	prompt := BuildPrompt(d)
	ex.output, ex.err = withDeadline(ctx, timeout, "executing task "+d.ID, func(ctx context.Context) (string, error) {
		return s.adapter.Invoke(ctx, choice.Provider, choice.Model, prompt, choice.Params)
	})
	if ex.err != nil && errors.KindOf(ex.err) == errors.KindInternal {
		ex.err = errors.NewExecutionError("provider call failed", ex.err).
			WithProvider(choice.Provider).WithModel(choice.Model)
	}
	return ex
}

// choose asks the policy client for a provider unless the descriptor pins
// both provider and model. A pinned field always overrides the choice.
func (s *Scheduler) choose(ctx context.Context, d taskqueue.Descriptor, timeout time.Duration) (Choice, error) {
	if d.Provider != "" && d.Model != "" {
		return Choice{Provider: d.Provider, Model: d.Model}, nil
	}

	choice, err := withDeadline(ctx, timeout, "choosing provider for task "+d.ID, func(ctx context.Context) (Choice, error) {
		return s.policy.Choose(ctx, d.Description, d.TaskType)
	})
	if err != nil {
		if errors.KindOf(err) == errors.KindTimeout {
			return Choice{}, err
		}
		return Choice{}, errors.NewExecutionError("provider selection failed", err)
	}
	if d.Provider != "" {
		choice.Provider = d.Provider
	}
	if d.Model != "" {
		choice.Model = d.Model
	}
	return choice, nil
}

// withDeadline calls fn on its own goroutine and returns when it finishes or
// ctx ends. A call that ignores cancellation is abandoned: its goroutine
// keeps running until fn returns, and its result is discarded. Panics in fn
// are returned as errors.
func withDeadline[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		var catcher panics.Catcher
		catcher.Try(func() { r.val, r.err = fn(ctx) })
		if rec := catcher.Recovered(); rec != nil {
			r.err = rec.AsError()
		}
		done <- r
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, errors.NewTimeoutError(op, timeout).WithCause(r.err)
		}
		return r.val, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, errors.NewTimeoutError(op, timeout)
		}
		return zero, errors.NewExecutionError("task cancelled", ctx.Err())
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
