package scaling

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/dispatch/internal/event"
	"github.com/Iron-Ham/dispatch/internal/logging"
)

// Pool is the worker set the autoscaler resizes.
type Pool interface {
	// Count returns the number of active workers.
	Count() int
	// Spawn starts up to n workers and returns how many were started.
	Spawn(n int) int
	// FlagStop asks up to n workers to stop after their current task and
	// returns how many were flagged.
	FlagStop(n int) int
	// SetBounds updates the limits the pool enforces on its own.
	SetBounds(minWorkers, maxWorkers int)
}

// QueueLength reports the number of queued tasks.
type QueueLength interface {
	Len() int
}

// AutoscalerOption configures an Autoscaler.
type AutoscalerOption func(*Autoscaler)

// WithInterval sets the timer period for periodic evaluation. Zero disables
// the timer.
func WithInterval(d time.Duration) AutoscalerOption {
	return func(a *Autoscaler) { a.interval = d }
}

// WithEvaluateOnSubmit controls whether every task submission triggers an
// evaluation.
func WithEvaluateOnSubmit(enabled bool) AutoscalerOption {
	return func(a *Autoscaler) { a.evaluateOnSubmit = enabled }
}

// WithLogger sets the autoscaler's logger.
func WithLogger(l *logging.Logger) AutoscalerOption {
	return func(a *Autoscaler) { a.logger = l }
}

// Autoscaler is the control loop that applies Policy decisions to a Pool.
// Evaluations run on task submission events and on a timer; they are
// serialized so the worker count read and the resize it drives are consistent.
type Autoscaler struct {
	bus    *event.Bus
	policy *Policy
	pool   Pool
	queue  QueueLength
	logger *logging.Logger

	interval         time.Duration
	evaluateOnSubmit bool

	evalMu sync.Mutex

	mu       sync.Mutex
	handlers []func(Decision)
	subID    string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewAutoscaler creates an Autoscaler. It does nothing until Start.
func NewAutoscaler(bus *event.Bus, policy *Policy, pool Pool, queue QueueLength, opts ...AutoscalerOption) *Autoscaler {
	a := &Autoscaler{
		bus:              bus,
		policy:           policy,
		pool:             pool,
		queue:            queue,
		interval:         time.Second,
		evaluateOnSubmit: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrNop(a.logger).WithComponent("autoscaler")
	return a
}

// OnDecision registers a callback invoked after a scaling action is applied.
// Multiple handlers may be registered.
func (a *Autoscaler) OnDecision(handler func(Decision)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
}

// Policy returns the hysteresis policy in use.
func (a *Autoscaler) Policy() *Policy {
	return a.policy
}

// Start brings the pool within bounds, subscribes to submission events and
// starts the evaluation timer. It returns immediately.
func (a *Autoscaler) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	a.EnforceBounds()

	if a.evaluateOnSubmit {
		subID := a.bus.Subscribe(event.TypeTaskSubmitted, func(e event.Event) {
			se, ok := e.(event.TaskSubmittedEvent)
			if !ok {
				return
			}
			a.Evaluate(se.QueueLen)
		})
		a.mu.Lock()
		a.subID = subID
		a.mu.Unlock()
	}

	go a.loop(ctx)
}

func (a *Autoscaler) loop(ctx context.Context) {
	defer close(a.done)

	if a.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Evaluate(a.queue.Len())
		}
	}
}

// Stop unsubscribes from events and stops the timer.
func (a *Autoscaler) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	subID := a.subID
	done := a.done
	a.subID = ""
	a.mu.Unlock()

	if subID != "" {
		a.bus.Unsubscribe(subID)
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

// EvaluateNow evaluates against the live queue length.
func (a *Autoscaler) EvaluateNow() Decision {
	return a.Evaluate(a.queue.Len())
}

// Evaluate feeds one queue-length observation through the policy and applies
// the resulting action to the pool.
func (a *Autoscaler) Evaluate(queueLen int) Decision {
	a.evalMu.Lock()
	current := a.pool.Count()
	d := a.policy.Evaluate(queueLen, current)
	switch d.Action {
	case ActionScaleOut:
		d.Delta = a.pool.Spawn(d.Delta)
	case ActionScaleIn:
		d.Delta = -a.pool.FlagStop(-d.Delta)
	}
	a.evalMu.Unlock()

	if d.Action == ActionNone {
		a.logger.Debug("scaling evaluated",
			"queue_len", queueLen,
			"current", current,
			"desired", d.Desired,
			"reason", d.Reason)
		return d
	}

	a.logger.Info("scaling decision applied",
		"action", d.Action.String(),
		"delta", d.Delta,
		"desired", d.Desired,
		"current", current,
		"reason", d.Reason)
	a.bus.Publish(event.NewScalingDecisionEvent(d.Action.String(), d.Delta, d.Desired, current, d.Reason))

	a.mu.Lock()
	handlers := make([]func(Decision), len(a.handlers))
	copy(handlers, a.handlers)
	a.mu.Unlock()
	for _, h := range handlers {
		h(d)
	}
	return d
}

// EnforceBounds spawns or stops workers immediately so the active count lies
// within the configured bounds. It bypasses hysteresis.
func (a *Autoscaler) EnforceBounds() {
	cfg := a.policy.Config()

	a.evalMu.Lock()
	defer a.evalMu.Unlock()

	a.pool.SetBounds(cfg.MinWorkers, cfg.MaxWorkers)
	current := a.pool.Count()
	switch {
	case current < cfg.MinWorkers:
		a.pool.Spawn(cfg.MinWorkers - current)
	case current > cfg.MaxWorkers:
		a.pool.FlagStop(current - cfg.MaxWorkers)
	}
}

// ConfigureScaling replaces the worker bounds and target, then brings the
// pool within the new bounds.
func (a *Autoscaler) ConfigureScaling(cfg Config) error {
	if err := a.policy.Configure(cfg); err != nil {
		return err
	}
	a.logger.Info("scaling reconfigured",
		"min_workers", cfg.MinWorkers,
		"max_workers", cfg.MaxWorkers,
		"target_queue_per_worker", cfg.TargetQueuePerWorker,
		"epsilon", cfg.Epsilon)
	a.EnforceBounds()
	return nil
}

// ConfigureHysteresis replaces the hysteresis thresholds.
func (a *Autoscaler) ConfigureHysteresis(h HysteresisConfig) error {
	if err := a.policy.ConfigureHysteresis(h); err != nil {
		return err
	}
	a.logger.Info("hysteresis reconfigured",
		"scale_out_threshold", h.ScaleOutThreshold,
		"scale_in_threshold", h.ScaleInThreshold)
	return nil
}
