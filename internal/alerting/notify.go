package alerting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/man4korea/kdv-erp/internal/model"
)

// Notifier delivers an alert. Delivery is fire and forget.
type Notifier interface {
	Notify(model.AlertEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(model.AlertEvent) error

func (f NotifierFunc) Notify(a model.AlertEvent) error { return f(a) }

// ConsoleNotifier writes an emphasised banner to w and logs the alert at
// ERROR.
type ConsoleNotifier struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
	banner lipgloss.Style
	detail lipgloss.Style
}

// NewConsoleNotifier creates a console notifier. Either w or logger may be
// nil.
func NewConsoleNotifier(w io.Writer, logger *slog.Logger) *ConsoleNotifier {
	c := &ConsoleNotifier{w: w, logger: logger}
	if w != nil {
		r := lipgloss.NewRenderer(w)
		c.banner = r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("196")).
			Padding(0, 1)
		c.detail = r.NewStyle().Foreground(lipgloss.Color("196"))
	}
	return c
}

func (c *ConsoleNotifier) Notify(a model.AlertEvent) error {
	if c.logger != nil {
		c.logger.Error("alert: "+a.Message, "kind", string(a.Kind), "payload", a.Payload)
	}
	if c.w == nil {
		return nil
	}
	line := c.banner.Render("ALERT "+string(a.Kind)) + " " + c.detail.Render(a.Message) + formatPayload(a.Payload)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func formatPayload(p map[string]any) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var out string
	for _, k := range keys {
		out += fmt.Sprintf(" %s=%v", k, p[k])
	}
	return out
}

// CommandRunner starts a notification command without waiting for it.
type CommandRunner func(name string, args ...string) error

// DesktopNotifier shows alerts through notify-send. When the command is not
// installed the notifier is a silent no-op.
type DesktopNotifier struct {
	path string
	run  CommandRunner
}

// NewDesktopNotifier looks notify-send up on PATH.
func NewDesktopNotifier() *DesktopNotifier {
	path, err := exec.LookPath("notify-send")
	if err != nil {
		path = ""
	}
	return &DesktopNotifier{path: path, run: startCommand}
}

// Available reports whether desktop notifications can be shown.
func (d *DesktopNotifier) Available() bool { return d.path != "" }

func (d *DesktopNotifier) Notify(a model.AlertEvent) error {
	if !d.Available() {
		return nil
	}
	// A failure here means no display session or no permission; the
	// console notifier still carries the alert.
	_ = d.run(d.path, "--urgency=critical", "--app-name=kdvwatch", "KDV ERP alert", a.Message)
	return nil
}

const notifyTimeout = 10 * time.Second

func startCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return err
	}
	go func() {
		defer cancel()
		cmd.Wait()
	}()
	return nil
}
