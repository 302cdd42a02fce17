package capture

import (
	"context"
	"fmt"

	"github.com/man4korea/kdv-erp/internal/model"
)

// Wrap returns fn instrumented for capture. An error returned by fn, or a
// panic raised by it, is recorded once and then handed back to the caller
// unchanged: the same error value is returned, the same panic value is
// re-raised.
func (c *Capture) Wrap(name string, fn func() error) func() error {
	return func() error {
		_, err := Call(c, name, func() (struct{}, error) { return struct{}{}, fn() })
		return err
	}
}

// Call runs fn under capture and returns its results unchanged.
func Call[T any](c *Capture, name string, fn func() (T, error)) (result T, err error) {
	started := c.clock.Now()
	defer func() {
		if rec := recover(); rec != nil {
			c.recordWrapped(model.ReportWrappedFunction, name, panicAsError(rec), panicSource())
			panic(rec)
		}
	}()

	result, err = fn()
	if err != nil {
		c.recordWrapped(model.ReportWrappedFunction, name, err, name)
		return result, err
	}
	c.checkDuration(name, started)
	return result, nil
}

// WrapContext is Wrap for context-aware units of work, typically run on
// their own goroutine.
func (c *Capture) WrapContext(name string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) (err error) {
		started := c.clock.Now()
		defer func() {
			if rec := recover(); rec != nil {
				c.recordWrapped(model.ReportWrappedAsync, name, panicAsError(rec), panicSource())
				panic(rec)
			}
		}()

		if err = fn(ctx); err != nil {
			c.recordWrapped(model.ReportWrappedAsync, name, err, name)
			return err
		}
		c.checkDuration(name, started)
		return nil
	}
}

func (c *Capture) recordWrapped(t model.ReportType, name string, err error, source string) {
	r := NewReport(t, fmt.Sprintf("function %s failed: %v", name, err))
	r.Err = err
	r.Source = source
	r.Stack = stack()
	r.Metadata = map[string]any{"functionName": name}
	c.Submit(r)
}
