package sink

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/man4korea/kdv-erp/internal/model"
)

const consoleTimeFormat = "15:04:05.000"

// Console renders entries as one coloured line each. Colours are dropped
// automatically when the writer is not a terminal.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	levels map[model.Level]lipgloss.Style
	dim    lipgloss.Style
	key    lipgloss.Style
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	level := func(color string) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Width(5)
	}
	return &Console{
		w: w,
		levels: map[model.Level]lipgloss.Style{
			model.LevelDebug: level("244"),
			model.LevelInfo:  level("39"),
			model.LevelWarn:  level("208"),
			model.LevelError: level("196"),
			model.LevelFatal: level("201"),
		},
		dim: r.NewStyle().Foreground(lipgloss.Color("241")),
		key: r.NewStyle().Foreground(lipgloss.Color("109")),
	}
}

func (c *Console) WriteEntry(_ context.Context, entry model.LogEntry) error {
	line := c.Render(entry)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, line+"\n")
	return err
}

// Render formats entry without the trailing newline.
func (c *Console) Render(entry model.LogEntry) string {
	var b strings.Builder
	b.WriteString(c.dim.Render(entry.Timestamp.Format(consoleTimeFormat)))
	b.WriteByte(' ')
	style, ok := c.levels[entry.Level]
	if !ok {
		style = c.dim
	}
	b.WriteString(style.Render(entry.Level.String()))
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Metadata))
	for k := range entry.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", c.key.Render(k), entry.Metadata[k])
	}
	if entry.Error != nil {
		fmt.Fprintf(&b, " %s", c.dim.Render(entry.Error.Name+": "+entry.Error.Message))
		if entry.Error.Stack != "" {
			b.WriteByte('\n')
			b.WriteString(c.dim.Render(entry.Error.Stack))
		}
	}
	return b.String()
}

func (c *Console) Close() error { return nil }
