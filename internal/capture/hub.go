package capture

import (
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/man4korea/kdv-erp/internal/model"
)

// Fault is an uncaught synchronous or asynchronous failure.
type Fault struct {
	Err     error
	Message string
	Source  string
	Stack   string
}

// ResourceFailure is a sub-resource that could not be served.
type ResourceFailure struct {
	URL    string
	Kind   string // script, stylesheet, image, font, media or other
	Status int
}

// FaultSource is the registration point for process-wide fault handlers.
type FaultSource interface {
	OnUncaughtFault(func(Fault))
	OnUnhandledAsyncFault(func(Fault))
	OnResourceFailure(func(ResourceFailure))
}

// Hub is the process's FaultSource. Request handlers and goroutines report
// into it; handlers registered on it receive every fault.
type Hub struct {
	mu       sync.RWMutex
	uncaught []func(Fault)
	async    []func(Fault)
	resource []func(ResourceFailure)
	logger   *slog.Logger
}

var _ FaultSource = (*Hub)(nil)

// NewHub creates a Hub. A nil logger uses slog.Default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger}
}

func (h *Hub) OnUncaughtFault(fn func(Fault)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uncaught = append(h.uncaught, fn)
}

func (h *Hub) OnUnhandledAsyncFault(fn func(Fault)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.async = append(h.async, fn)
}

func (h *Hub) OnResourceFailure(fn func(ResourceFailure)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resource = append(h.resource, fn)
}

// EmitUncaught delivers f to the uncaught fault handlers.
func (h *Hub) EmitUncaught(f Fault) {
	h.mu.RLock()
	handlers := h.uncaught
	h.mu.RUnlock()
	for _, fn := range handlers {
		h.call(func() { fn(f) })
	}
}

// EmitAsync delivers f to the unhandled async fault handlers.
func (h *Hub) EmitAsync(f Fault) {
	h.mu.RLock()
	handlers := h.async
	h.mu.RUnlock()
	for _, fn := range handlers {
		h.call(func() { fn(f) })
	}
}

// EmitResource delivers rf to the resource failure handlers.
func (h *Hub) EmitResource(rf ResourceFailure) {
	h.mu.RLock()
	handlers := h.resource
	h.mu.RUnlock()
	for _, fn := range handlers {
		h.call(func() { fn(rf) })
	}
}

func (h *Hub) call(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Debug("capture: fault handler panicked", "panic", rec)
		}
	}()
	fn()
}

// Go runs fn on a new goroutine. A returned error or a panic nobody
// recovers is delivered as an unhandled async fault instead of crashing
// the process.
func (h *Hub) Go(fn func() error) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				err := panicAsError(rec)
				h.EmitAsync(Fault{Err: err, Message: err.Error(), Source: panicSource(), Stack: stack()})
			}
		}()
		if err := fn(); err != nil {
			h.EmitAsync(Fault{Err: err, Message: err.Error()})
		}
	}()
}

// Install registers c's handlers on src. Call it once from the composition
// root.
func (c *Capture) Install(src FaultSource) {
	src.OnUncaughtFault(func(f Fault) {
		c.Submit(faultReport(model.ReportUncaughtFault, f, "uncaught fault"))
	})
	src.OnUnhandledAsyncFault(func(f Fault) {
		c.Submit(faultReport(model.ReportUnhandledAsync, f, "unhandled async fault"))
	})
	src.OnResourceFailure(func(rf ResourceFailure) {
		r := NewReport(model.ReportResourceError, fmt.Sprintf("resource load failed: %s", strings.ToUpper(rf.Kind)))
		r.Source = rf.URL
		r.Metadata = map[string]any{"element": rf.Kind, "src": rf.URL, "status": rf.Status}
		c.Submit(r)
	})
}

func faultReport(t model.ReportType, f Fault, fallback string) Report {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if msg == "" {
		msg = fallback
	}
	r := NewReport(t, msg)
	r.Err = f.Err
	r.Source = f.Source
	r.Stack = f.Stack
	return r
}

// ResourceKind classifies a sub-resource by its extension.
func ResourceKind(urlPath string) string {
	switch strings.ToLower(path.Ext(urlPath)) {
	case ".js", ".mjs":
		return "script"
	case ".css":
		return "stylesheet"
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico":
		return "image"
	case ".woff", ".woff2", ".ttf", ".otf", ".eot":
		return "font"
	case ".mp4", ".webm", ".mp3", ".ogg", ".wav":
		return "media"
	default:
		return "other"
	}
}

// isAbortPanic reports whether v is the sentinel net/http uses to abort a
// response; it is control flow, not a fault.
func isAbortPanic(v any) bool {
	err, ok := v.(error)
	return ok && err == http.ErrAbortHandler
}
