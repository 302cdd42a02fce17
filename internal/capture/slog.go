package capture

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/man4korea/kdv-erp/internal/logparse"
	"github.com/man4korea/kdv-erp/internal/model"
)

// SlogHandler forwards every record to the next handler and submits WARN
// and ERROR records to the capture pipeline as console_warn and
// console_error reports. Install it as the application's default handler;
// components that feed the pipeline must log through the next handler
// directly.
type SlogHandler struct {
	next   slog.Handler
	c      *Capture
	attrs  []slog.Attr
	groups []string
}

// NewSlogHandler wraps next.
func NewSlogHandler(next slog.Handler, c *Capture) *SlogHandler {
	return &SlogHandler{next: next, c: c}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn || h.next.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, rec slog.Record) error {
	var err error
	if h.next.Enabled(ctx, rec.Level) {
		err = h.next.Handle(ctx, rec)
	}
	if rec.Level >= slog.LevelWarn {
		h.submit(rec)
	}
	return err
}

func (h *SlogHandler) submit(rec slog.Record) {
	t := model.ReportConsoleWarn
	if logparse.FromSlog(rec.Level) >= model.LevelError {
		t = model.ReportConsoleError
	}

	meta := make(map[string]any)
	prefix := strings.Join(h.groups, ".")
	add := func(a slog.Attr) {
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		v := a.Value.Resolve()
		if e, ok := v.Any().(error); ok {
			meta[key] = e.Error()
			return
		}
		meta[key] = v.Any()
	}
	for _, a := range h.attrs {
		meta[a.Key] = a.Value.Resolve().Any()
	}
	var recErr error
	rec.Attrs(func(a slog.Attr) bool {
		if e, ok := a.Value.Resolve().Any().(error); ok && recErr == nil {
			recErr = e
		}
		add(a)
		return true
	})

	r := NewReport(t, rec.Message)
	r.Err = recErr
	r.Metadata = meta
	r.Metadata["slogLevel"] = rec.Level.String()
	if rec.PC != 0 {
		r.Source = sourceFromPC(rec.PC)
	}
	h.c.Submit(r)
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	merged := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		merged = append(merged, a)
	}
	return &SlogHandler{next: h.next.WithAttrs(attrs), c: h.c, attrs: merged, groups: h.groups}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	return &SlogHandler{next: h.next.WithGroup(name), c: h.c, attrs: h.attrs, groups: groups}
}

func sourceFromPC(pc uintptr) string {
	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if f.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", trimPath(f.File), f.Line)
}
