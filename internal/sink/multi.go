package sink

import (
	"context"
	"errors"

	"github.com/man4korea/kdv-erp/internal/model"
)

// Multi fans an entry out to several sinks. A failing sink does not stop
// delivery to the ones after it.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a Multi over sinks. Nil sinks are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) WriteEntry(ctx context.Context, entry model.LogEntry) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.WriteEntry(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
