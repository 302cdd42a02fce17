package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/man4korea/kdv-erp/internal/export"
	"github.com/man4korea/kdv-erp/internal/model"
)

// Exporter builds the export document for a filter from src, writes it
// somewhere durable and returns where. *export.Writer implements it.
type Exporter interface {
	Export(src export.Source, filter model.LogFilter) (string, error)
}

// Options configures a DashboardModel.
type Options struct {
	RefreshInterval time.Duration
	// LogLimit is how many filtered entries the log list shows.
	LogLimit int
	// RecentErrors is how many ERROR+ entries the recent panel shows.
	RecentErrors int
	// StartVisible opens the dashboard immediately instead of waiting for
	// the toggle key.
	StartVisible bool
	// Source labels the data source in the status line.
	Source string
}

// Snapshot is everything one poll reads.
type Snapshot struct {
	Logs        model.StoreStats
	Errors      model.ErrorStats
	Performance model.PerformanceSnapshot
	Recent      []model.LogEntry
	Entries     []model.LogEntry
	LoadedAt    time.Time
}

// FilterState holds the level and keyword applied to the log list.
type FilterState struct {
	level         model.Level
	keywordInput  textinput.Model
	keyword       string
	keywordActive bool
}

// DashboardModel is the observability overlay. While visible it polls the
// reader; hiding it stops the poll loop.
type DashboardModel struct {
	FilterState

	reader model.DashboardReader
	exporter Exporter
	keys   KeyMap
	help   help.Model
	opts   Options

	visible bool
	// generation increases on every show and hide so ticks and results
	// from an earlier poll loop are discarded.
	generation int
	inFlight   bool

	data      Snapshot
	hasData   bool
	logView   viewport.Model
	typeChart *ErrorTypesChart

	confirmClear bool
	status       string
	statusIsErr  bool

	width  int
	height int
}

// TickMsg drives the poll loop of one generation.
type TickMsg struct {
	Gen  int
	Time time.Time
}

type dataLoadedMsg struct {
	gen  int
	data Snapshot
	err  error
}

type exportDoneMsg struct {
	path string
	err  error
}

type clearDoneMsg struct {
	err error
}

// NewDashboardModel creates the dashboard over reader. exporter may be nil,
// in which case export is unavailable.
func NewDashboardModel(reader model.DashboardReader, exporter Exporter, opts Options) *DashboardModel {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = model.DefaultRefreshInterval
	}
	if opts.LogLimit <= 0 {
		opts.LogLimit = model.DefaultDashboardLimit
	}
	if opts.RecentErrors <= 0 {
		opts.RecentErrors = model.DefaultRecentErrors
	}

	ti := textinput.New()
	ti.Placeholder = "keyword"
	ti.Prompt = "/ "
	ti.CharLimit = 128

	m := &DashboardModel{
		FilterState: FilterState{
			level:        model.LevelDebug,
			keywordInput: ti,
		},
		reader:    reader,
		exporter:  exporter,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		opts:      opts,
		logView:   viewport.New(0, 0),
		typeChart: NewErrorTypesChart(),
	}
	return m
}

// Visible reports whether the dashboard is shown.
func (m *DashboardModel) Visible() bool { return m.visible }

// Filter is the filter applied to the log list and exports.
func (m *DashboardModel) Filter() model.LogFilter {
	return model.LogFilter{MinLevel: m.level, Keyword: m.keyword}
}
