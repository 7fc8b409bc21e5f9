package simulate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/dispatch/internal/errors"
)

func TestStaticPolicy_Choose(t *testing.T) {
	p := StaticPolicy{Provider: "anthropic", Model: "sonnet", Params: map[string]any{"temperature": 0.2}}

	got, err := p.Choose(context.Background(), "x", "build")
	if err != nil {
		t.Fatalf("Choose failed: %v", err)
	}
	if got.Provider != "anthropic" || got.Model != "sonnet" {
		t.Errorf("Choose = %+v", got)
	}

	got.Params["temperature"] = 1.0
	again, _ := p.Choose(context.Background(), "x", "build")
	if again.Params["temperature"] != 0.2 {
		t.Error("Choose should return a private copy of params")
	}
}

func TestRoutingPolicy_Choose(t *testing.T) {
	p := RoutingPolicy{
		Default: StaticPolicy{Provider: "a", Model: "small"},
		ByType:  map[string]StaticPolicy{"review": {Provider: "b", Model: "large"}},
	}

	tests := []struct {
		taskType string
		want     string
	}{
		{"review", "large"},
		{"build", "small"},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			got, err := p.Choose(context.Background(), "x", tt.taskType)
			if err != nil {
				t.Fatalf("Choose failed: %v", err)
			}
			if got.Model != tt.want {
				t.Errorf("Model = %q, want %q", got.Model, tt.want)
			}
		})
	}
}

func TestLatencyAdapter_Echoes(t *testing.T) {
	a := NewLatencyAdapter(0, 0, 0, 1)

	out, err := a.Invoke(context.Background(), "p", "m", "Role: builder\n\nadd endpoint", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if out != "[p/m] add endpoint" {
		t.Errorf("output = %q", out)
	}
}

func TestLatencyAdapter_RespectsLatency(t *testing.T) {
	a := NewLatencyAdapter(20*time.Millisecond, 30*time.Millisecond, 0, 7)

	start := time.Now()
	if _, err := a.Invoke(context.Background(), "p", "m", "x", nil); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 20ms", elapsed)
	}
}

func TestLatencyAdapter_AlwaysFails(t *testing.T) {
	a := NewLatencyAdapter(0, 0, 1, 3)

	_, err := a.Invoke(context.Background(), "p", "m", "x", nil)
	if errors.KindOf(err) != errors.KindExecution {
		t.Errorf("KindOf = %v, want execution_error", errors.KindOf(err))
	}
	if !strings.Contains(err.Error(), "simulated provider failure") {
		t.Errorf("error = %v", err)
	}
}

func TestLatencyAdapter_ContextCancel(t *testing.T) {
	a := NewLatencyAdapter(time.Second, time.Second, 0, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.Invoke(ctx, "p", "m", "x", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestLatencyAdapter_SeedIsReproducible(t *testing.T) {
	a := NewLatencyAdapter(0, time.Second, 0.5, 42)
	b := NewLatencyAdapter(0, time.Second, 0.5, 42)

	for i := 0; i < 20; i++ {
		da, fa := a.draw()
		db, fb := b.draw()
		if da != db || fa != fb {
			t.Fatalf("draw %d differs: (%v,%v) vs (%v,%v)", i, da, fa, db, fb)
		}
	}
}
