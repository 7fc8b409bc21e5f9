package scaling

import (
	"testing"

	"github.com/Iron-Ham/dispatch/internal/errors"
)

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy()
	cfg := p.Config()
	if cfg.MinWorkers != defaultMinWorkers {
		t.Errorf("MinWorkers = %d, want %d", cfg.MinWorkers, defaultMinWorkers)
	}
	if cfg.MaxWorkers != defaultMaxWorkers {
		t.Errorf("MaxWorkers = %d, want %d", cfg.MaxWorkers, defaultMaxWorkers)
	}
	if cfg.TargetQueuePerWorker != defaultTargetQueuePerWorker {
		t.Errorf("TargetQueuePerWorker = %d, want %d", cfg.TargetQueuePerWorker, defaultTargetQueuePerWorker)
	}
	h := p.Hysteresis()
	if h.ScaleOutThreshold != defaultScaleOutThreshold || h.ScaleInThreshold != defaultScaleInThreshold {
		t.Errorf("Hysteresis = %+v, want %d/%d", h, defaultScaleOutThreshold, defaultScaleInThreshold)
	}
}

func TestNewPolicy_Options(t *testing.T) {
	p := NewPolicy(
		WithMinWorkers(2),
		WithMaxWorkers(16),
		WithTargetQueuePerWorker(5),
		WithEpsilon(1),
		WithScaleOutThreshold(4),
		WithScaleInThreshold(6),
	)
	want := Config{MinWorkers: 2, MaxWorkers: 16, TargetQueuePerWorker: 5, Epsilon: 1}
	if got := p.Config(); got != want {
		t.Errorf("Config() = %+v, want %+v", got, want)
	}
	if got := p.Hysteresis(); got != (HysteresisConfig{ScaleOutThreshold: 4, ScaleInThreshold: 6}) {
		t.Errorf("Hysteresis() = %+v", got)
	}
}

func TestConfig_Desired(t *testing.T) {
	cfg := Config{MinWorkers: 1, MaxWorkers: 4, TargetQueuePerWorker: 2}
	tests := []struct {
		queueLen int
		want     int
	}{
		{0, 1},
		{1, 1},
		{2, 1},
		{3, 2},
		{4, 2},
		{7, 4},
		{100, 4},
		{-5, 1},
	}
	for _, tt := range tests {
		if got := cfg.Desired(tt.queueLen); got != tt.want {
			t.Errorf("Desired(%d) = %d, want %d", tt.queueLen, got, tt.want)
		}
	}
}

func TestPolicy_ScaleOutRequiresConsecutiveObservations(t *testing.T) {
	p := NewPolicy(
		WithMinWorkers(1),
		WithMaxWorkers(4),
		WithTargetQueuePerWorker(2),
		WithScaleOutThreshold(3),
	)

	for i := 1; i <= 2; i++ {
		d := p.Evaluate(10, 1)
		if d.Action != ActionNone {
			t.Fatalf("observation %d: Action = %s, want none", i, d.Action)
		}
		if out, _ := p.Counters(); out != i {
			t.Errorf("observation %d: out counter = %d, want %d", i, out, i)
		}
	}

	d := p.Evaluate(10, 1)
	if d.Action != ActionScaleOut {
		t.Fatalf("third observation: Action = %s, want scale_out", d.Action)
	}
	if d.Delta != 3 || d.Desired != 4 {
		t.Errorf("Delta = %d, Desired = %d, want 3 and 4", d.Delta, d.Desired)
	}
	if out, in := p.Counters(); out != 0 || in != 0 {
		t.Errorf("counters after action = %d/%d, want 0/0", out, in)
	}
}

func TestPolicy_ScaleInRequiresConsecutiveObservations(t *testing.T) {
	p := NewPolicy(
		WithMinWorkers(1),
		WithMaxWorkers(8),
		WithTargetQueuePerWorker(2),
		WithScaleInThreshold(2),
	)

	if d := p.Evaluate(0, 5); d.Action != ActionNone {
		t.Fatalf("first observation: Action = %s, want none", d.Action)
	}
	d := p.Evaluate(0, 5)
	if d.Action != ActionScaleIn {
		t.Fatalf("second observation: Action = %s, want scale_in", d.Action)
	}
	if d.Delta != -4 {
		t.Errorf("Delta = %d, want -4", d.Delta)
	}
}

func TestPolicy_OscillationNeverFires(t *testing.T) {
	p := NewPolicy(
		WithMinWorkers(1),
		WithMaxWorkers(8),
		WithTargetQueuePerWorker(1),
		WithScaleOutThreshold(2),
		WithScaleInThreshold(2),
	)

	// Alternate observations above and below the current count of 4.
	for i := 0; i < 20; i++ {
		queueLen := 8
		if i%2 == 1 {
			queueLen = 1
		}
		if d := p.Evaluate(queueLen, 4); d.Action != ActionNone {
			t.Fatalf("observation %d fired %s; alternating signals should be damped", i, d.Action)
		}
	}
}

func TestPolicy_OscillationAroundScaleOutBoundary(t *testing.T) {
	// desired equals queue length; 4 workers with epsilon 1 give a band of
	// [3, 5], so 6 is above it and 5 is inside.
	p := NewPolicy(
		WithMinWorkers(1),
		WithMaxWorkers(8),
		WithTargetQueuePerWorker(1),
		WithEpsilon(1),
		WithScaleOutThreshold(3),
	)

	signal := []int{6, 5, 6, 5, 6}
	var fired []int
	for i, q := range signal {
		if d := p.Evaluate(q, 4); d.Action != ActionNone {
			fired = append(fired, i)
			if d.Action != ActionScaleOut || d.Delta != 2 {
				t.Errorf("observation %d: %s delta %d, want scale_out delta 2", i, d.Action, d.Delta)
			}
		}
	}
	// Dead-band observations neither advance nor reset the out counter, so
	// the third observation above the band fires.
	if len(fired) != 1 || fired[0] != 4 {
		t.Errorf("fired at %v, want only observation 4", fired)
	}
	if out, in := p.Counters(); out != 0 || in != 0 {
		t.Errorf("counters = %d/%d, want 0/0 after firing", out, in)
	}

	// Without a dead-band the same ±1 swing crosses below the band and the
	// counters keep resetting each other.
	p = NewPolicy(
		WithMinWorkers(1),
		WithMaxWorkers(8),
		WithTargetQueuePerWorker(1),
		WithScaleOutThreshold(2),
		WithScaleInThreshold(2),
	)
	for i := 0; i < 20; i++ {
		q := 5
		if i%2 == 1 {
			q = 3
		}
		if d := p.Evaluate(q, 4); d.Action != ActionNone {
			t.Fatalf("observation %d fired %s; a ±1 swing should be damped", i, d.Action)
		}
	}
}

func TestPolicy_EmptyPoolWithQueuedWorkScalesOut(t *testing.T) {
	p := NewPolicy(
		WithMinWorkers(0),
		WithMaxWorkers(4),
		WithTargetQueuePerWorker(2),
		WithEpsilon(1),
		WithScaleOutThreshold(2),
	)

	// desired 1 is within 0+1, but no worker exists to drain the queue.
	if d := p.Evaluate(1, 0); d.Action != ActionNone {
		t.Fatalf("first observation: Action = %s, want none (threshold 2)", d.Action)
	}
	d := p.Evaluate(1, 0)
	if d.Action != ActionScaleOut || d.Delta != 1 {
		t.Fatalf("Decision = %s delta %d, want scale_out delta 1", d.Action, d.Delta)
	}

	if d := p.Evaluate(0, 0); d.Action != ActionNone || d.Reason != "within dead-band" {
		t.Errorf("empty queue on empty pool: %s (%q), want none within dead-band", d.Action, d.Reason)
	}
	// Once a worker exists the ordinary band applies again.
	for i := 0; i < 5; i++ {
		if d := p.Evaluate(2, 1); d.Action != ActionNone {
			t.Fatalf("observation %d fired %s inside the band", i, d.Action)
		}
	}
}

func TestPolicy_DeadBandLeavesCountersUnchanged(t *testing.T) {
	p := NewPolicy(
		WithMinWorkers(1),
		WithMaxWorkers(8),
		WithTargetQueuePerWorker(1),
		WithEpsilon(1),
		WithScaleOutThreshold(3),
	)

	p.Evaluate(6, 4) // desired 6 > 4+1
	p.Evaluate(6, 4)
	if out, _ := p.Counters(); out != 2 {
		t.Fatalf("out counter = %d, want 2", out)
	}

	// desired 5 is within 4±1
	if d := p.Evaluate(5, 4); d.Action != ActionNone {
		t.Fatalf("dead-band observation fired %s", d.Action)
	}
	if out, in := p.Counters(); out != 2 || in != 0 {
		t.Errorf("counters = %d/%d, want 2/0 after dead-band", out, in)
	}

	// The run resumes where it left off.
	if d := p.Evaluate(6, 4); d.Action != ActionScaleOut || d.Delta != 2 {
		t.Errorf("Evaluate = %+v, want scale_out by 2", d)
	}
}

func TestPolicy_OppositeObservationResetsCounter(t *testing.T) {
	p := NewPolicy(WithTargetQueuePerWorker(1), WithScaleOutThreshold(3), WithScaleInThreshold(3))

	p.Evaluate(8, 2)
	p.Evaluate(8, 2)
	p.Evaluate(0, 2)
	if out, in := p.Counters(); out != 0 || in != 1 {
		t.Errorf("counters = %d/%d, want 0/1", out, in)
	}
}

func TestPolicy_RespectsBounds(t *testing.T) {
	p := NewPolicy(
		WithMinWorkers(2),
		WithMaxWorkers(5),
		WithTargetQueuePerWorker(1),
		WithScaleOutThreshold(1),
		WithScaleInThreshold(1),
	)

	for queueLen := 0; queueLen <= 50; queueLen += 3 {
		for current := 2; current <= 5; current++ {
			d := p.Evaluate(queueLen, current)
			next := current + d.Delta
			if next < 2 || next > 5 {
				t.Fatalf("Evaluate(%d, %d) = %+v leaves %d workers outside [2, 5]", queueLen, current, d, next)
			}
		}
	}
}

func TestPolicy_AtMaxDoesNotScaleOut(t *testing.T) {
	p := NewPolicy(WithMaxWorkers(3), WithTargetQueuePerWorker(1), WithScaleOutThreshold(1))
	if d := p.Evaluate(100, 3); d.Action != ActionNone {
		t.Errorf("Action = %s at max workers, want none", d.Action)
	}
}

func TestPolicy_Configure(t *testing.T) {
	p := NewPolicy(WithTargetQueuePerWorker(1), WithScaleOutThreshold(3))
	p.Evaluate(8, 1)

	if err := p.Configure(Config{MinWorkers: 2, MaxWorkers: 6, TargetQueuePerWorker: 3}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if out, _ := p.Counters(); out != 0 {
		t.Errorf("out counter = %d after Configure, want 0", out)
	}
	if p.Config().MaxWorkers != 6 {
		t.Errorf("MaxWorkers = %d, want 6", p.Config().MaxWorkers)
	}
}

func TestPolicy_ConfigureRejectsInvalid(t *testing.T) {
	p := NewPolicy()
	before := p.Config()

	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"negative min", Config{MinWorkers: -1, MaxWorkers: 2, TargetQueuePerWorker: 1}, "min_workers"},
		{"zero max", Config{MinWorkers: 0, MaxWorkers: 0, TargetQueuePerWorker: 1}, "max_workers"},
		{"max below min", Config{MinWorkers: 4, MaxWorkers: 2, TargetQueuePerWorker: 1}, "max_workers"},
		{"zero target", Config{MinWorkers: 1, MaxWorkers: 2}, "target_queue_per_worker"},
		{"negative epsilon", Config{MinWorkers: 1, MaxWorkers: 2, TargetQueuePerWorker: 1, Epsilon: -1}, "epsilon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Configure(tt.cfg)
			var ve *errors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
	if p.Config() != before {
		t.Error("rejected Configure should not change the policy")
	}
}

func TestPolicy_ConfigureHysteresis(t *testing.T) {
	p := NewPolicy()
	if err := p.ConfigureHysteresis(HysteresisConfig{ScaleOutThreshold: 0, ScaleInThreshold: 1}); err == nil {
		t.Error("expected error for zero scale-out threshold")
	}
	if err := p.ConfigureHysteresis(HysteresisConfig{ScaleOutThreshold: 1, ScaleInThreshold: 5}); err != nil {
		t.Fatalf("ConfigureHysteresis failed: %v", err)
	}
	if got := p.Hysteresis().ScaleInThreshold; got != 5 {
		t.Errorf("ScaleInThreshold = %d, want 5", got)
	}
}
