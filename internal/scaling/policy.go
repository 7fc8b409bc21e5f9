package scaling

import (
	"fmt"
	"sync"
)

// Default policy values.
const (
	defaultMinWorkers           = 1
	defaultMaxWorkers           = 8
	defaultTargetQueuePerWorker = 2
	defaultEpsilon              = 0
	defaultScaleOutThreshold    = 3
	defaultScaleInThreshold     = 3
)

// Option configures a Policy.
type Option func(*Policy)

// WithMinWorkers sets the minimum number of workers to maintain.
func WithMinWorkers(n int) Option {
	return func(p *Policy) { p.cfg.MinWorkers = n }
}

// WithMaxWorkers sets the maximum number of workers allowed.
func WithMaxWorkers(n int) Option {
	return func(p *Policy) { p.cfg.MaxWorkers = n }
}

// WithTargetQueuePerWorker sets how many queued tasks one worker is expected
// to absorb. The desired worker count is ceil(queue length / target).
func WithTargetQueuePerWorker(n int) Option {
	return func(p *Policy) { p.cfg.TargetQueuePerWorker = n }
}

// WithEpsilon sets the dead-band width around the current worker count.
func WithEpsilon(n int) Option {
	return func(p *Policy) { p.cfg.Epsilon = n }
}

// WithScaleOutThreshold sets the consecutive scale-out observations required
// before workers are spawned.
func WithScaleOutThreshold(n int) Option {
	return func(p *Policy) { p.hyst.ScaleOutThreshold = n }
}

// WithScaleInThreshold sets the consecutive scale-in observations required
// before workers are flagged to stop.
func WithScaleInThreshold(n int) Option {
	return func(p *Policy) { p.hyst.ScaleInThreshold = n }
}

// WithConfig replaces the worker bounds and target.
func WithConfig(cfg Config) Option {
	return func(p *Policy) { p.cfg = cfg }
}

// WithHysteresis replaces both hysteresis thresholds.
func WithHysteresis(h HysteresisConfig) Option {
	return func(p *Policy) { p.hyst = h }
}

// Policy computes desired worker counts from queue length and damps them
// through a hysteresis filter: only a run of consecutive agreeing
// observations produces a scaling action. Its counters are scoped to the
// instance. It is safe for concurrent use.
type Policy struct {
	mu   sync.Mutex
	cfg  Config
	hyst HysteresisConfig

	outCounter int
	inCounter  int
}

// NewPolicy creates a Policy with the given options.
// Unset options use defaults.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		cfg: Config{
			MinWorkers:           defaultMinWorkers,
			MaxWorkers:           defaultMaxWorkers,
			TargetQueuePerWorker: defaultTargetQueuePerWorker,
			Epsilon:              defaultEpsilon,
		},
		hyst: HysteresisConfig{
			ScaleOutThreshold: defaultScaleOutThreshold,
			ScaleInThreshold:  defaultScaleInThreshold,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Desired returns clamp(ceil(queueLen / target), min, max).
func (c Config) Desired(queueLen int) int {
	target := max(1, c.TargetQueuePerWorker)
	desired := (max(0, queueLen) + target - 1) / target
	return min(max(desired, c.MinWorkers), c.MaxWorkers)
}

// Evaluate records one observation of the queue length against the current
// worker count and returns the resulting decision.
//
// Above the dead-band the scale-out counter advances and the scale-in counter
// resets; below it the reverse happens. Inside the dead-band both counters
// are left unchanged. When a counter reaches its threshold the decision
// carries the action and the counter resets.
//
// An empty pool facing queued work always counts as above the band, so a
// zero minimum combined with a non-zero epsilon cannot strand tasks.
func (p *Policy) Evaluate(queueLen, current int) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.cfg
	desired := cfg.Desired(queueLen)
	d := Decision{Action: ActionNone, Desired: desired, Current: current}

	switch {
	case desired > current+cfg.Epsilon, current <= 0 && queueLen > 0:
		p.outCounter++
		p.inCounter = 0
		if p.outCounter < p.hyst.ScaleOutThreshold {
			d.Reason = fmt.Sprintf("scale-out pending (%d/%d): desired %d, current %d",
				p.outCounter, p.hyst.ScaleOutThreshold, desired, current)
			return d
		}
		p.outCounter = 0
		target := min(desired, cfg.MaxWorkers)
		if target <= current {
			d.Reason = "already at max workers"
			return d
		}
		d.Action = ActionScaleOut
		d.Delta = target - current
		d.Reason = fmt.Sprintf("queue length %d wants %d workers, have %d", queueLen, desired, current)

	case desired < max(cfg.MinWorkers, current-cfg.Epsilon):
		p.inCounter++
		p.outCounter = 0
		if p.inCounter < p.hyst.ScaleInThreshold {
			d.Reason = fmt.Sprintf("scale-in pending (%d/%d): desired %d, current %d",
				p.inCounter, p.hyst.ScaleInThreshold, desired, current)
			return d
		}
		p.inCounter = 0
		d.Action = ActionScaleIn
		d.Delta = -(current - desired)
		d.Reason = fmt.Sprintf("queue length %d wants %d workers, have %d", queueLen, desired, current)

	default:
		d.Reason = "within dead-band"
	}
	return d
}

// Configure replaces the worker bounds and target. Hysteresis counters are
// reset because earlier observations were judged against the old bounds.
func (p *Policy) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.outCounter, p.inCounter = 0, 0
	return nil
}

// ConfigureHysteresis replaces the thresholds and resets the counters.
func (p *Policy) ConfigureHysteresis(h HysteresisConfig) error {
	if err := h.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hyst = h
	p.outCounter, p.inCounter = 0, 0
	return nil
}

// Config returns the current bounds.
func (p *Policy) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Hysteresis returns the current thresholds.
func (p *Policy) Hysteresis() HysteresisConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hyst
}

// Counters returns the scale-out and scale-in counters.
func (p *Policy) Counters() (out, in int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outCounter, p.inCounter
}
