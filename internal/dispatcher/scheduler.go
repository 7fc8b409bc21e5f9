package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/dispatch/internal/config"
	"github.com/Iron-Ham/dispatch/internal/errors"
	"github.com/Iron-Ham/dispatch/internal/event"
	"github.com/Iron-Ham/dispatch/internal/feedback"
	"github.com/Iron-Ham/dispatch/internal/logging"
	"github.com/Iron-Ham/dispatch/internal/metrics"
	"github.com/Iron-Ham/dispatch/internal/scaling"
	"github.com/Iron-Ham/dispatch/internal/taskqueue"
	"github.com/Iron-Ham/dispatch/internal/workerpool"
)

// Deps holds the scheduler's collaborators. Policy and Adapter are required.
type Deps struct {
	Policy   PolicyClient
	Adapter  ExecutionAdapter
	Feedback FeedbackSink
	Logger   *logging.Logger
	// Bus receives lifecycle events. A private bus is created when nil.
	Bus *event.Bus
	// Tracer starts execution spans. The global tracer is used when nil.
	Tracer trace.Tracer
}

// Status is the caller-facing view of the dispatcher.
type Status struct {
	Running     bool                  `json:"running"`
	QueuedCount int                   `json:"queued_count"`
	Counts      taskqueue.QueueStatus `json:"counts"`
	Workers     []workerpool.Info     `json:"workers"`
	RecentTasks []taskqueue.Record    `json:"recent_tasks"`
}

// Health is a cheap liveness summary.
type Health struct {
	OK          bool `json:"ok"`
	QueueLen    int  `json:"queue_len"`
	WorkerCount int  `json:"worker_count"`
}

// Scheduler is one dispatcher instance. All methods are safe for concurrent use.
type Scheduler struct {
	queue      *taskqueue.EventQueue
	pool       *workerpool.Pool
	autoscaler *scaling.Autoscaler
	metrics    *metrics.Collector
	sampler    *metrics.Sampler

	policy   PolicyClient
	adapter  ExecutionAdapter
	feedback FeedbackSink
	bus      *event.Bus
	tracer   trace.Tracer
	logger   *logging.Logger

	taskTimeout atomic.Int64 // nanoseconds; 0 disables
	recentLimit int

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup
}

// New builds a scheduler from cfg. Nothing runs until Start; tasks submitted
// before Start stay queued.
func New(cfg *config.Config, deps Deps) (*Scheduler, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	if deps.Policy == nil {
		return nil, errors.NewValidationError("policy client is required").WithField("policy")
	}
	if deps.Adapter == nil {
		return nil, errors.NewValidationError("execution adapter is required").WithField("adapter")
	}

	logger := logging.OrNop(deps.Logger)
	bus := deps.Bus
	if bus == nil {
		bus = event.NewBus(logger.WithComponent("bus"))
	}
	sink := deps.Feedback
	if sink == nil {
		sink = feedback.NopSink{}
	}

	s := &Scheduler{
		policy:      deps.Policy,
		adapter:     deps.Adapter,
		feedback:    sink,
		bus:         bus,
		tracer:      deps.Tracer,
		logger:      logger.WithComponent("scheduler"),
		recentLimit: cfg.Queue.RecentLimit,
		metrics:     metrics.NewCollector(cfg.Metrics.HistoryCapacity),
	}
	s.taskTimeout.Store(int64(cfg.Worker.TaskTimeout()))

	s.queue = taskqueue.NewEventQueue(taskqueue.New(taskqueue.Options{
		MaxDepth:         cfg.Queue.MaxDepth,
		RegistryCapacity: cfg.Queue.RegistryCapacity,
	}), bus)

	s.pool = workerpool.New(s.queue, workerpool.ExecutorFunc(s.execute), workerpool.Options{
		MinWorkers:   cfg.Scaling.MinWorkers,
		MaxWorkers:   cfg.Scaling.MaxWorkers,
		DequeueWait:  cfg.Queue.DequeueWait(),
		ReapInterval: cfg.Worker.ReapInterval(),
		Logger:       logger,
		Bus:          bus,
	})

	policy := scaling.NewPolicy(
		scaling.WithConfig(scalingConfig(cfg.Scaling)),
		scaling.WithHysteresis(hysteresisConfig(cfg.Scaling)),
	)
	s.autoscaler = scaling.NewAutoscaler(bus, policy, s.pool, s.queue,
		scaling.WithInterval(cfg.Scaling.EvaluateInterval()),
		scaling.WithEvaluateOnSubmit(cfg.Scaling.EvaluateOnSubmit),
		scaling.WithLogger(logger),
	)

	if interval := cfg.Metrics.HistoryInterval(); interval > 0 {
		s.sampler = metrics.NewSampler(s.metrics, metrics.SourceFunc(func() (int, int) {
			return s.queue.Len(), s.pool.Count()
		}), interval)
	}

	return s, nil
}

func scalingConfig(c config.ScalingConfig) scaling.Config {
	return scaling.Config{
		MinWorkers:           c.MinWorkers,
		MaxWorkers:           c.MaxWorkers,
		TargetQueuePerWorker: c.TargetQueuePerWorker,
		Epsilon:              c.Epsilon,
	}
}

func hysteresisConfig(c config.ScalingConfig) scaling.HysteresisConfig {
	return scaling.HysteresisConfig{
		ScaleOutThreshold: c.ScaleOutThreshold,
		ScaleInThreshold:  c.ScaleInThreshold,
	}
}

// Start spawns the minimum workers and starts the autoscaler and history
// sampler. Cancelling ctx stops the background loops and cancels in-flight
// tasks; call Stop for an orderly shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.ErrSchedulerStopped
	}
	if s.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := s.pool.Start(ctx); err != nil {
		cancel()
		return err
	}
	s.autoscaler.Start(ctx)
	if s.sampler != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.sampler.Run(ctx)
		}()
	}

	s.cancel = cancel
	s.started = true
	s.logger.Info("scheduler started", "workers", s.pool.Count())
	return nil
}

// Stop shuts the scheduler down. Tasks still queued are failed without
// running; running tasks are given until ctx ends to finish, after which
// their contexts are cancelled. Pending feedback is flushed before Stop
// returns. Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	s.autoscaler.Stop()
	s.pool.Drain()
	s.queue.Close()

	abandoned := s.queue.DrainPending()
	for _, d := range abandoned {
		res := taskqueue.Result{
			Error:     errors.ErrSchedulerStopped.Error(),
			ErrorKind: errors.KindOf(errors.ErrSchedulerStopped).String(),
		}
		if err := s.queue.MarkFailed(d.ID, res); err != nil {
			s.logger.Warn("failed to abandon queued task", "task_id", d.ID, "error", err.Error())
		}
	}
	if len(abandoned) > 0 {
		s.logger.Info("abandoned queued tasks", "count", len(abandoned))
	}

	var err error
	if started {
		err = s.pool.Stop(ctx)
		cancel()
		s.bg.Wait()
	}

	if f, ok := s.feedback.(interface{ Flush(context.Context) error }); ok {
		if ferr := f.Flush(ctx); ferr != nil {
			s.logger.Warn("feedback flush incomplete", "error", ferr.Error())
		}
	}

	s.logger.Info("scheduler stopped")
	return err
}

// Submit queues a task and returns its id. It fails with a validation error
// for an empty description, PoolExhausted when the queue is at its cap, and
// ErrSchedulerStopped after Stop.
func (s *Scheduler) Submit(d taskqueue.Descriptor) (string, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return "", errors.ErrSchedulerStopped
	}

	stored, err := s.queue.Submit(d)
	if err != nil {
		if errors.Is(err, taskqueue.ErrQueueClosed) {
			return "", errors.ErrSchedulerStopped
		}
		return "", err
	}
	s.logger.Debug("task submitted", "task_id", stored.ID, "task_type", stored.TaskType)
	return stored.ID, nil
}

// Record returns a copy of one task record.
func (s *Scheduler) Record(taskID string) (taskqueue.Record, error) {
	return s.queue.Get(taskID)
}

// Status returns the running flag, the queued count and the most recent
// records.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.started && !s.stopped
	s.mu.Unlock()

	counts := s.queue.Status()
	return Status{
		Running:     running,
		QueuedCount: counts.Queued,
		Counts:      counts,
		Workers:     s.pool.Workers(),
		RecentTasks: s.queue.Snapshot(s.recentLimit),
	}
}

// Metrics returns the collector snapshot combined with live queue and pool
// state.
func (s *Scheduler) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot(s.queue.Len(), s.pool.Count())
}

// Health reports whether the scheduler is running with at least one worker
// available to drain a non-empty queue.
func (s *Scheduler) Health() Health {
	s.mu.Lock()
	running := s.started && !s.stopped
	s.mu.Unlock()

	queueLen := s.queue.Len()
	workers := s.pool.Count()
	return Health{
		OK:          running && (workers > 0 || queueLen == 0),
		QueueLen:    queueLen,
		WorkerCount: workers,
	}
}

// ConfigureScaling replaces the worker bounds, target and dead-band at
// runtime. Hysteresis counters restart from zero.
func (s *Scheduler) ConfigureScaling(cfg scaling.Config) error {
	return s.autoscaler.ConfigureScaling(cfg)
}

// ConfigureHysteresis replaces the consecutive-observation thresholds at
// runtime. Hysteresis counters restart from zero.
func (s *Scheduler) ConfigureHysteresis(h scaling.HysteresisConfig) error {
	return s.autoscaler.ConfigureHysteresis(h)
}

// SetTaskTimeout changes the per-task deadline for tasks started afterwards.
// Zero disables it.
func (s *Scheduler) SetTaskTimeout(d time.Duration) {
	s.taskTimeout.Store(int64(max(0, d)))
}

// Apply routes a reloaded configuration to the runtime-adjustable settings.
func (s *Scheduler) Apply(cfg *config.Config) error {
	if err := s.ConfigureScaling(scalingConfig(cfg.Scaling)); err != nil {
		return err
	}
	if err := s.ConfigureHysteresis(hysteresisConfig(cfg.Scaling)); err != nil {
		return err
	}
	s.queue.SetMaxDepth(cfg.Queue.MaxDepth)
	s.SetTaskTimeout(cfg.Worker.TaskTimeout())
	return nil
}

// EvaluateNow runs one autoscaler evaluation against the live queue length.
func (s *Scheduler) EvaluateNow() scaling.Decision {
	return s.autoscaler.EvaluateNow()
}

// Wait blocks until every submitted task has reached a terminal state or
// ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	return s.queue.WaitIdle(ctx)
}

// Bus returns the event bus the scheduler publishes on.
func (s *Scheduler) Bus() *event.Bus {
	return s.bus
}
