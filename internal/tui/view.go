package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	panelHeight = 8
	// header, summary, status line and the borders of the panel row
	chromeLines = 3 + 2
)

func (m *DashboardModel) resize() {
	listHeight := max(m.height-chromeLines-panelHeight-2, 3)
	m.logView.Width = max(m.width-4, 10)
	m.logView.Height = listHeight - 1
	m.typeChart.Resize(m.width/3-4, panelHeight-1)
	if m.hasData {
		m.logView.SetContent(m.renderLogLines(m.logView.Width))
	}
}

// View renders the dashboard, or a one-line idle hint while hidden.
func (m *DashboardModel) View() string {
	if !m.visible {
		return m.idleView()
	}
	if m.width == 0 {
		return "Loading..."
	}

	sections := []string{
		m.renderHeader(),
		m.renderSummary(),
		m.renderPanels(),
		m.renderLogList(),
		m.renderStatus(),
	}
	view := lipgloss.JoinVertical(lipgloss.Left, sections...)
	if m.confirmClear {
		return m.renderConfirm()
	}
	return view
}

func (m *DashboardModel) idleView() string {
	hint := mutedStyle().Render(fmt.Sprintf("kdvwatch: dashboard hidden. Press %s to show, q to quit.",
		m.keys.Toggle.Help().Key))
	if m.width == 0 {
		return hint
	}
	return lipgloss.Place(m.width, max(m.height, 1), lipgloss.Center, lipgloss.Center, hint)
}

func (m *DashboardModel) renderHeader() string {
	title := titleStyle().Render("kdvwatch")
	right := "waiting for data"
	if m.hasData {
		right = "refreshed " + m.data.LoadedAt.Format("15:04:05")
	}
	if m.opts.Source != "" {
		right = m.opts.Source + " | " + right
	}
	right = mutedStyle().Render(right)
	gap := max(m.width-lipgloss.Width(title)-lipgloss.Width(right), 1)
	return title + strings.Repeat(" ", gap) + right
}

func (m *DashboardModel) renderSummary() string {
	s := m.data
	counter := func(label string, v int, color lipgloss.Color) string {
		value := lipgloss.NewStyle().Foreground(color).Bold(true).Render(fmt.Sprintf("%d", v))
		return mutedStyle().Render(label+" ") + value
	}
	errColor := ColorWhite
	if s.Logs.ErrorCount > 0 {
		errColor = ColorRed
	}
	parts := []string{
		counter("logs", s.Logs.TotalCount, ColorWhite),
		counter("errors", s.Logs.ErrorCount, errColor),
		counter("warnings", s.Logs.WarnCount, ColorOrange),
		counter("perf issues", s.Errors.PerformanceIssues, ColorYellow),
		counter("session", s.Errors.SessionErrors, ColorWhite),
		counter("consecutive", s.Errors.ConsecutiveErrors, ColorWhite),
		mutedStyle().Render("uptime ") + formatUptime(s.Errors.Uptime),
	}
	return strings.Join(parts, mutedStyle().Render("  |  "))
}

func (m *DashboardModel) renderPanels() string {
	third := max(m.width/3, 20)
	recent := sectionStyle(false).Width(third - 2).Height(panelHeight).
		Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle().Render("Recent errors"), m.renderRecent(third-4)))
	perf := sectionStyle(false).Width(third - 2).Height(panelHeight).
		Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle().Render("Performance"), m.renderPerformance()))
	chart := sectionStyle(false).Width(max(m.width-2*third, 20) - 2).Height(panelHeight).
		Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle().Render("Error types"), m.typeChart.View()))
	return lipgloss.JoinHorizontal(lipgloss.Top, recent, perf, chart)
}

func (m *DashboardModel) renderRecent(width int) string {
	if len(m.data.Recent) == 0 {
		return mutedStyle().Render("No errors")
	}
	lines := make([]string, 0, len(m.data.Recent))
	for i, e := range m.data.Recent {
		if i == panelHeight-1 {
			break
		}
		line := e.Timestamp.Local().Format("15:04:05") + " " + e.Message
		lines = append(lines, levelStyle(e.Level).UnsetWidth().Render(truncate(line, width)))
	}
	return strings.Join(lines, "\n")
}

func (m *DashboardModel) renderPerformance() string {
	p := m.data.Performance
	if p.Memory == nil {
		return mutedStyle().Render("Memory statistics unavailable")
	}
	mem := p.Memory
	lines := []string{
		fmt.Sprintf("heap       %7.1f MB", float64(mem.HeapAlloc)/(1<<20)),
		fmt.Sprintf("in use     %7.1f MB", float64(mem.HeapInuse)/(1<<20)),
		fmt.Sprintf("reserved   %7.1f MB", float64(mem.HeapSys)/(1<<20)),
	}
	if mem.HeapLimit > 0 {
		usage := float64(mem.HeapAlloc) / float64(mem.HeapLimit) * 100
		style := lipgloss.NewStyle().Foreground(ColorGreen)
		if usage > 100 {
			style = style.Foreground(ColorRed)
		} else if usage > 80 {
			style = style.Foreground(ColorOrange)
		}
		lines = append(lines, style.Render(fmt.Sprintf("limit      %7.1f MB (%.0f%%)", float64(mem.HeapLimit)/(1<<20), usage)))
	}
	lines = append(lines,
		fmt.Sprintf("goroutines %7d", mem.Goroutines),
		fmt.Sprintf("gc cycles  %7d", mem.NumGC),
	)
	return strings.Join(lines, "\n")
}

func (m *DashboardModel) renderLogList() string {
	filter := "level>=" + m.level.String()
	if m.keyword != "" {
		filter += fmt.Sprintf("  keyword=%q", m.keyword)
	}
	header := titleStyle().Render("Logs") + "  " + mutedStyle().Render(filter)
	if m.keywordActive {
		header = titleStyle().Render("Logs") + "  " + m.keywordInput.View()
	}

	body := m.logView.View()
	if m.hasData && len(m.data.Entries) == 0 {
		body = mutedStyle().Render("No logs match the filter")
	}
	return sectionStyle(true).Width(max(m.width-2, 10)).
		Render(lipgloss.JoinVertical(lipgloss.Left, header, body))
}

func (m *DashboardModel) renderLogLines(width int) string {
	lines := make([]string, 0, len(m.data.Entries))
	for _, e := range m.data.Entries {
		ts := mutedStyle().Render(e.Timestamp.Local().Format("01-02 15:04:05"))
		lvl := levelStyle(e.Level).Render(e.Level.String())
		msg := e.Message
		if e.Error != nil && e.Error.Name != "" {
			msg += mutedStyle().Render(" [" + e.Error.Name + "]")
		}
		lines = append(lines, truncate(ts+" "+lvl+" "+msg, width))
	}
	return strings.Join(lines, "\n")
}

func (m *DashboardModel) renderStatus() string {
	if m.status != "" {
		style := lipgloss.NewStyle().Foreground(ColorGreen)
		if m.statusIsErr {
			style = style.Foreground(ColorRed)
		}
		return style.Render(m.status)
	}
	return m.help.ShortHelpView(m.keys.ShortHelp())
}

func (m *DashboardModel) renderConfirm() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(ColorRed).
		Padding(1, 3).
		Render(lipgloss.JoinVertical(lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorRed).Bold(true).Render("Delete all stored logs?"),
			"",
			mutedStyle().Render("This cannot be undone. [y] confirm  [n] cancel"),
		))
	return lipgloss.Place(m.width, max(m.height, lipgloss.Height(box)), lipgloss.Center, lipgloss.Center, box)
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, mins)
	}
	return fmt.Sprintf("%dm%02ds", mins, secs)
}

// truncate shortens s to width visible cells.
func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}
