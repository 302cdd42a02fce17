package tui

import tea "github.com/charmbracelet/bubbletea"

// Page is one top-level screen hosted by App.
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// PageNav is returned from Update to switch to another page.
type PageNav struct {
	PageID string
}

// DashboardPage hosts the dashboard overlay inside App.
type DashboardPage struct {
	model *DashboardModel
}

// NewDashboardPage wraps m as the "dashboard" page.
func NewDashboardPage(m *DashboardModel) *DashboardPage {
	return &DashboardPage{model: m}
}

func (p *DashboardPage) ID() string { return "dashboard" }

func (p *DashboardPage) Init() tea.Cmd { return p.model.Init() }

func (p *DashboardPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	_, cmd := p.model.Update(msg)
	return cmd, nil
}

func (p *DashboardPage) View(width, height int) string {
	if width != p.model.width || height != p.model.height {
		p.model.width, p.model.height = width, height
		p.model.resize()
	}
	return p.model.View()
}
