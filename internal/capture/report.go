package capture

import (
	"errors"
	"fmt"
	"maps"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/man4korea/kdv-erp/internal/model"
)

// Report is the normalised form of every captured fault before it is gated
// and stored. Build one with NewReport so Level matches the report type.
type Report struct {
	Type    model.ReportType
	Level   model.Level
	Message string
	// Source is the file:line the fault was raised at. Together with Type
	// and Message it identifies duplicates.
	Source   string
	Err      error
	Stack    string
	Metadata map[string]any

	// Filled in by enrichment.
	Interactions []model.Interaction
	Device       *model.DeviceInfo
	Performance  *model.PerformanceSnapshot
	SessionID    string
	UserID       string
}

// NewReport returns a report stored at the type's default level.
func NewReport(t model.ReportType, message string) Report {
	return Report{Type: t, Level: t.DefaultLevel(), Message: message}
}

func (r Report) metadata() map[string]any {
	m := make(map[string]any, len(r.Metadata)+8)
	maps.Copy(m, r.Metadata)
	m["type"] = string(r.Type)
	if r.Source != "" {
		m["source"] = r.Source
	}
	if r.SessionID != "" {
		m["sessionId"] = r.SessionID
	}
	if r.UserID != "" {
		m["userId"] = r.UserID
	}
	if len(r.Interactions) > 0 {
		m["recentInteractions"] = r.Interactions
	}
	if r.Device != nil {
		m["deviceInfo"] = *r.Device
	}
	if r.Performance != nil {
		m["performance"] = *r.Performance
	}
	return m
}

func (r Report) detail() *model.ErrorDetail {
	if r.Err == nil && r.Stack == "" {
		return nil
	}
	d := &model.ErrorDetail{Name: "Error", Message: r.Message, Stack: r.Stack}
	if r.Err != nil {
		d.Name = errorName(r.Err)
		d.Message = r.Err.Error()
	}
	return d
}

// errorName is the dynamic type of the innermost error, without the pointer
// star, e.g. "fs.PathError".
func errorName(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// PanicError carries a recovered panic value that was not itself an error.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

// panicAsError returns v as an error, wrapping non-error values.
func panicAsError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return &PanicError{Value: v}
}

// callerSource returns file:line of the frame skip levels above its caller.
func callerSource(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", trimPath(file), line)
}

// panicSource finds the frame that raised the current panic by skipping the
// runtime frames above the deferred recover.
func panicSource() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	seenPanic := false
	for {
		f, more := frames.Next()
		if strings.HasPrefix(f.Function, "runtime.") {
			if f.Function == "runtime.gopanic" {
				seenPanic = true
			}
		} else if seenPanic {
			return fmt.Sprintf("%s:%d", trimPath(f.File), f.Line)
		}
		if !more {
			return ""
		}
	}
}

// trimPath keeps the last two path elements.
func trimPath(file string) string {
	idx := strings.LastIndexByte(file, '/')
	if idx <= 0 {
		return file
	}
	if prev := strings.LastIndexByte(file[:idx], '/'); prev >= 0 {
		return file[prev+1:]
	}
	return file
}

func stack() string { return string(debug.Stack()) }
