// Package tui renders a live dashboard of a running dispatcher.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/dispatch/internal/dispatcher"
	"github.com/Iron-Ham/dispatch/internal/metrics"
)

// Source is the read side of a scheduler.
type Source interface {
	Status() dispatcher.Status
	Metrics() metrics.Snapshot
}

// Options configures the dashboard.
type Options struct {
	// Refresh is the redraw interval.
	Refresh time.Duration
	// TargetQueuePerWorker scales the saturation bar; the bar is full at
	// twice the target.
	TargetQueuePerWorker int
	// ExitAfter quits once this many tasks have finished and nothing is
	// queued or running. Zero keeps the dashboard open until the user quits.
	ExitAfter int
}

// App wraps the Bubbletea program
type App struct {
	program *tea.Program
	model   Model
}

// New creates a new dashboard for src
func New(src Source, opts Options) *App {
	return &App{model: NewModel(src, opts)}
}

// Run starts the dashboard and blocks until the user quits, the exit
// condition is met or ctx ends.
func (a *App) Run(ctx context.Context) error {
	a.program = tea.NewProgram(
		a.model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := a.program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
