package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/dispatch/internal/dispatcher"
	"github.com/Iron-Ham/dispatch/internal/metrics"
	"github.com/Iron-Ham/dispatch/internal/taskqueue"
	"github.com/Iron-Ham/dispatch/internal/tui/styles"
)

const defaultRefresh = 100 * time.Millisecond

// Model is the Bubbletea model for the dashboard
type Model struct {
	src  Source
	opts Options

	status dispatcher.Status
	snap   metrics.Snapshot

	bar   progress.Model
	tasks table.Model
	width int

	quitting bool
}

// NewModel creates the dashboard model
func NewModel(src Source, opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = defaultRefresh
	}
	if opts.TargetQueuePerWorker <= 0 {
		opts.TargetQueuePerWorker = 1
	}

	t := table.New(
		table.WithColumns(taskColumns()),
		table.WithHeight(10),
		table.WithFocused(true),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.BorderColor).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(styles.TextColor).
		Background(styles.SurfaceColor)
	t.SetStyles(ts)

	return Model{
		src:   src,
		opts:  opts,
		bar:   progress.New(progress.WithGradient(styles.SaturationLow, styles.SaturationHigh), progress.WithWidth(40)),
		tasks: t,
	}
}

func taskColumns() []table.Column {
	return []table.Column{
		{Title: "Task", Width: 8},
		{Title: "Status", Width: 10},
		{Title: "Worker", Width: 8},
		{Title: "Provider", Width: 18},
		{Title: "Latency", Width: 9},
		{Title: "Description", Width: 32},
	}
}

// Init refreshes immediately and starts the tick loop
func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return tickMsg(time.Now()) }
}

// Update handles key presses, resizes and refresh ticks
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.tasks, cmd = m.tasks.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(60, msg.Width-24))
		return m, nil

	case tickMsg:
		m.refresh()
		if m.finished() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tick(m.opts.Refresh)
	}
	return m, nil
}

// refresh pulls a new status and metrics snapshot from the source.
func (m *Model) refresh() {
	m.status = m.src.Status()
	m.snap = m.src.Metrics()
	m.tasks.SetRows(taskRows(m.status.RecentTasks))
}

func (m Model) finished() bool {
	if m.opts.ExitAfter <= 0 {
		return false
	}
	c := m.status.Counts
	return c.Done+c.Failed >= m.opts.ExitAfter && c.Queued == 0 && c.Running == 0
}

// taskRows renders records newest first.
func taskRows(recs []taskqueue.Record) []table.Row {
	rows := make([]table.Row, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		status := string(r.Status)
		provider, latency := "", ""
		if r.Result != nil {
			if r.Result.ErrorKind == "timeout" {
				status = "timeout"
			}
			if r.Result.Provider != "" {
				provider = r.Result.Provider + "/" + r.Result.Model
			}
			latency = fmt.Sprintf("%dms", r.Result.LatencyMs)
		}
		rows = append(rows, table.Row{
			shortID(r.ID, 8, false),
			styles.StatusIcon(status) + " " + status,
			shortID(r.WorkerID, 6, true),
			provider,
			latency,
			r.Description,
		})
	}
	return rows
}

// shortID truncates an identifier to n characters, keeping the tail when
// tail is set. ULIDs differ in their tail; UUIDs in their head.
func shortID(id string, n int, tail bool) string {
	if len(id) <= n {
		return id
	}
	if tail {
		return id[len(id)-n:]
	}
	return id[:n]
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders the last width values scaled to the maximum.
func sparkline(values []float64, width int) string {
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return ""
	}
	peak := 0.0
	for _, v := range values {
		peak = max(peak, v)
	}
	var sb strings.Builder
	for _, v := range values {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(sparkBlocks)-1))
		}
		sb.WriteRune(sparkBlocks[idx])
	}
	return sb.String()
}
