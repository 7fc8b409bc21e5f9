package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/dispatch/internal/tui/styles"
)

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.Header.Render("dispatch"))
	b.WriteString("\n")

	left := styles.Panel.Render(m.renderCounts())
	right := styles.Panel.Render(m.renderTimings())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	b.WriteString("\n")

	b.WriteString(m.renderSaturation())
	b.WriteString("\n\n")
	b.WriteString(m.tasks.View())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderCounts() string {
	c := m.status.Counts
	lines := []string{
		row("Workers", fmt.Sprintf("%d", m.snap.WorkerCount)),
		row("Queued", fmt.Sprintf("%d", c.Queued)),
		row("Running", fmt.Sprintf("%d", c.Running)),
		row("Done", styles.SuccessMsg.Render(fmt.Sprintf("%d", c.Done))),
		row("Failed", styles.ErrorMsg.Render(fmt.Sprintf("%d", c.Failed))),
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderTimings() string {
	queueHistory := make([]float64, 0, len(m.snap.History))
	for _, h := range m.snap.History {
		queueHistory = append(queueHistory, float64(h.QueueLen))
	}
	lines := []string{
		row("Avg queue wait", fmt.Sprintf("%.1fms", m.snap.AvgQueueWaitMs)),
		row("Avg run time", fmt.Sprintf("%.1fms", m.snap.AvgTaskRunMs)),
		row("Samples", fmt.Sprintf("%d", m.snap.SampleCount)),
		row("Timeouts", fmt.Sprintf("%d", m.snap.Timeouts)),
		row("Queue history", styles.Muted.Render(sparkline(queueHistory, 30))),
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderSaturation() string {
	target := float64(m.opts.TargetQueuePerWorker)
	pct := min(1, m.snap.Saturation/(2*target))
	label := lipgloss.NewStyle().
		Foreground(styles.SaturationColor(m.snap.Saturation, target)).
		Render(fmt.Sprintf("%.2f/worker", m.snap.Saturation))
	return styles.Label.Render("Saturation") + m.bar.ViewAs(pct) + " " + label
}

func (m Model) renderHelp() string {
	return styles.HelpBar.Render(
		styles.HelpKey.Render("↑/↓") + " scroll  " +
			styles.HelpKey.Render("q") + " quit")
}

func row(label, value string) string {
	return styles.Label.Render(label) + styles.Value.Render(value)
}
