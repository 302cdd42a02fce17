package tui

import tea "github.com/charmbracelet/bubbletea"

// App is the top-level Bubble Tea model. It owns the terminal size and
// forwards everything else to the active page.
type App struct {
	pages  []Page
	active int
	width  int
	height int
}

// NewApp creates an App over pages; the first page starts active.
func NewApp(pages ...Page) *App {
	return &App{pages: pages}
}

func (a *App) page() Page {
	if a.active < len(a.pages) {
		return a.pages[a.active]
	}
	return nil
}

func (a *App) Init() tea.Cmd {
	if p := a.page(); p != nil {
		return p.Init()
	}
	return nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Every page tracks the size so a switch renders at the right width.
	if wsm, ok := msg.(tea.WindowSizeMsg); ok {
		a.width, a.height = wsm.Width, wsm.Height
		cmds := make([]tea.Cmd, 0, len(a.pages))
		for _, p := range a.pages {
			cmd, _ := p.Update(wsm)
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)
	}

	p := a.page()
	if p == nil {
		return a, nil
	}
	cmd, nav := p.Update(msg)
	if nav == nil {
		return a, cmd
	}
	for i, candidate := range a.pages {
		if candidate.ID() == nav.PageID {
			a.active = i
			return a, tea.Batch(cmd, candidate.Init())
		}
	}
	return a, cmd
}

func (a *App) View() string {
	if p := a.page(); p != nil {
		return p.View(a.width, a.height)
	}
	return "No active page"
}
