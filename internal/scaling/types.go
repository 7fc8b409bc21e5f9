package scaling

import (
	"fmt"

	"github.com/Iron-Ham/dispatch/internal/errors"
)

// Action represents a scaling decision action.
type Action string

const (
	// ActionScaleOut indicates workers should be spawned.
	ActionScaleOut Action = "scale_out"

	// ActionScaleIn indicates workers should be flagged to stop.
	ActionScaleIn Action = "scale_in"

	// ActionNone indicates no scaling change is needed.
	ActionNone Action = "none"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Decision is the result of evaluating the hysteresis policy against the
// current queue length and worker count.
type Decision struct {
	// Action is the scaling action to apply.
	Action Action

	// Delta is the number of workers to spawn (positive) or stop (negative).
	// Zero when Action is ActionNone.
	Delta int

	// Desired is the clamped worker count computed from queue length.
	Desired int

	// Current is the worker count the decision was evaluated against.
	Current int

	// Reason is a human-readable explanation of the decision.
	Reason string
}

// Config holds the runtime-adjustable worker bounds and sizing target.
type Config struct {
	MinWorkers           int `json:"min_workers"`
	MaxWorkers           int `json:"max_workers"`
	TargetQueuePerWorker int `json:"target_queue_per_worker"`

	// Epsilon is the dead-band width around the current worker count.
	Epsilon int `json:"epsilon"`
}

// Validate checks the bounds are usable.
func (c Config) Validate() error {
	switch {
	case c.MinWorkers < 0:
		return errors.NewValidationError("must be non-negative").
			WithField("min_workers").WithValue(c.MinWorkers)
	case c.MaxWorkers < 1:
		return errors.NewValidationError("must be at least 1").
			WithField("max_workers").WithValue(c.MaxWorkers)
	case c.MaxWorkers < c.MinWorkers:
		return errors.NewValidationError(fmt.Sprintf("must be >= min_workers (%d)", c.MinWorkers)).
			WithField("max_workers").WithValue(c.MaxWorkers)
	case c.TargetQueuePerWorker < 1:
		return errors.NewValidationError("must be at least 1").
			WithField("target_queue_per_worker").WithValue(c.TargetQueuePerWorker)
	case c.Epsilon < 0:
		return errors.NewValidationError("must be non-negative").
			WithField("epsilon").WithValue(c.Epsilon)
	}
	return nil
}

// HysteresisConfig holds how many consecutive agreeing observations are
// needed before a scaling action fires.
type HysteresisConfig struct {
	ScaleOutThreshold int `json:"scale_out_threshold"`
	ScaleInThreshold  int `json:"scale_in_threshold"`
}

// Validate checks both thresholds are positive.
func (h HysteresisConfig) Validate() error {
	if h.ScaleOutThreshold < 1 {
		return errors.NewValidationError("must be at least 1").
			WithField("scale_out_threshold").WithValue(h.ScaleOutThreshold)
	}
	if h.ScaleInThreshold < 1 {
		return errors.NewValidationError("must be at least 1").
			WithField("scale_in_threshold").WithValue(h.ScaleInThreshold)
	}
	return nil
}
