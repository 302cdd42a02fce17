package tui

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/man4korea/kdv-erp/internal/model"
)

// Init opens the dashboard when configured to start visible.
func (m *DashboardModel) Init() tea.Cmd {
	if m.opts.StartVisible {
		return m.show()
	}
	return nil
}

// Update handles messages
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKeyPress(msg)

	case TickMsg:
		// Ticks from a loop that was stopped by hide are dropped without
		// rescheduling.
		if msg.Gen != m.generation || !m.visible {
			return m, nil
		}
		return m, tea.Batch(m.fetch(), m.tick())

	case dataLoadedMsg:
		if msg.gen != m.generation {
			return m, nil
		}
		m.inFlight = false
		if msg.err != nil {
			m.setStatus("refresh failed: "+msg.err.Error(), true)
			return m, nil
		}
		m.applyData(msg.data)
		return m, nil

	case exportDoneMsg:
		if msg.err != nil {
			m.setStatus("export failed: "+msg.err.Error(), true)
		} else {
			m.setStatus("exported to "+msg.path, false)
		}
		return m, nil

	case clearDoneMsg:
		if msg.err != nil {
			m.setStatus("clear failed: "+msg.err.Error(), true)
			return m, nil
		}
		m.setStatus("all logs cleared", false)
		return m, m.fetch()
	}
	return m, nil
}

func (m *DashboardModel) handleKeyPress(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, m.keys.ForceQuit) {
		return tea.Quit
	}

	if m.confirmClear {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			m.confirmClear = false
			return m.clearCmd()
		case key.Matches(msg, m.keys.Cancel):
			m.confirmClear = false
			m.setStatus("clear cancelled", false)
		}
		return nil
	}

	if m.keywordActive {
		return m.handleKeywordInput(msg)
	}

	if key.Matches(msg, m.keys.Toggle) {
		if m.visible {
			m.hide()
			return nil
		}
		return m.show()
	}
	if !m.visible {
		if key.Matches(msg, m.keys.Quit) {
			return tea.Quit
		}
		return nil
	}

	switch {
	case key.Matches(msg, m.keys.Escape):
		m.hide()
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Refresh):
		return m.fetch()
	case key.Matches(msg, m.keys.Export):
		return m.exportCmd()
	case key.Matches(msg, m.keys.Clear):
		m.confirmClear = true
	case key.Matches(msg, m.keys.Keyword):
		m.keywordActive = true
		m.keywordInput.SetValue(m.keyword)
		m.keywordInput.CursorEnd()
		return m.keywordInput.Focus()
	case key.Matches(msg, m.keys.CycleLevel):
		m.level = nextLevel(m.level)
		return m.fetch()
	case key.Matches(msg, m.keys.Up):
		m.logView.LineUp(1)
	case key.Matches(msg, m.keys.Down):
		m.logView.LineDown(1)
	case key.Matches(msg, m.keys.PageUp):
		m.logView.HalfViewUp()
	case key.Matches(msg, m.keys.PageDown):
		m.logView.HalfViewDown()
	case key.Matches(msg, m.keys.Home):
		m.logView.GotoTop()
	case key.Matches(msg, m.keys.End):
		m.logView.GotoBottom()
	}
	return nil
}

func (m *DashboardModel) handleKeywordInput(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Apply):
		m.keywordActive = false
		m.keywordInput.Blur()
		m.keyword = m.keywordInput.Value()
		return m.fetch()
	case key.Matches(msg, m.keys.Escape):
		m.keywordActive = false
		m.keywordInput.Blur()
		return nil
	}
	var cmd tea.Cmd
	m.keywordInput, cmd = m.keywordInput.Update(msg)
	return cmd
}

// nextLevel cycles the minimum level, wrapping from FATAL back to all.
func nextLevel(l model.Level) model.Level {
	levels := model.Levels()
	i := slices.Index(levels, l)
	return levels[(i+1)%len(levels)]
}

func (m *DashboardModel) show() tea.Cmd {
	m.visible = true
	m.generation++
	m.inFlight = false
	return tea.Batch(m.fetch(), m.tick())
}

func (m *DashboardModel) hide() {
	m.visible = false
	m.generation++
	m.inFlight = false
	m.confirmClear = false
}

func (m *DashboardModel) tick() tea.Cmd {
	gen := m.generation
	return tea.Tick(m.opts.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg{Gen: gen, Time: t}
	})
}

// fetch reads a snapshot unless one is already in flight.
func (m *DashboardModel) fetch() tea.Cmd {
	if m.inFlight || !m.visible {
		return nil
	}
	m.inFlight = true
	gen := m.generation
	reader := m.reader
	filter := m.Filter()
	limit, recent := m.opts.LogLimit, m.opts.RecentErrors

	return func() tea.Msg {
		data, err := loadSnapshot(reader, filter, limit, recent)
		return dataLoadedMsg{gen: gen, data: data, err: err}
	}
}

func loadSnapshot(r model.DashboardReader, filter model.LogFilter, limit, recent int) (Snapshot, error) {
	var s Snapshot
	var errs []error
	var err error
	if s.Logs, err = r.LogStats(); err != nil {
		errs = append(errs, fmt.Errorf("log stats: %w", err))
	}
	if s.Errors, err = r.ErrorStats(); err != nil {
		errs = append(errs, fmt.Errorf("error stats: %w", err))
	}
	if s.Performance, err = r.Performance(); err != nil {
		errs = append(errs, fmt.Errorf("performance: %w", err))
	}
	if s.Recent, err = r.RecentErrors(recent); err != nil {
		errs = append(errs, fmt.Errorf("recent errors: %w", err))
	}
	if s.Entries, err = r.QueryLogs(filter, limit); err != nil {
		errs = append(errs, fmt.Errorf("logs: %w", err))
	}
	s.LoadedAt = time.Now()
	return s, errors.Join(errs...)
}

func (m *DashboardModel) exportCmd() tea.Cmd {
	if m.exporter == nil {
		m.setStatus("export is not configured", true)
		return nil
	}
	reader, exporter, filter := m.reader, m.exporter, m.Filter()
	return func() tea.Msg {
		path, err := exporter.Export(reader, filter)
		return exportDoneMsg{path: path, err: err}
	}
}

func (m *DashboardModel) clearCmd() tea.Cmd {
	reader := m.reader
	return func() tea.Msg {
		return clearDoneMsg{err: reader.ClearLogs()}
	}
}

func (m *DashboardModel) applyData(d Snapshot) {
	m.data = d
	m.hasData = true
	m.typeChart.SetData(d.Errors.ErrorTypes)
	m.logView.SetContent(m.renderLogLines(m.logView.Width))
}

func (m *DashboardModel) setStatus(s string, isErr bool) {
	m.status = s
	m.statusIsErr = isErr
}
