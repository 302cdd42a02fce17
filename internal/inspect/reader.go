// Package inspect exposes the pipeline's state through model.DashboardReader.
package inspect

import (
	"github.com/man4korea/kdv-erp/internal/capture"
	"github.com/man4korea/kdv-erp/internal/logstore"
	"github.com/man4korea/kdv-erp/internal/model"
)

// Reader serves the dashboard, the HTTP API and the socket RPC server from
// the in-process store and capture pipeline.
type Reader struct {
	store   *logstore.Store
	capture *capture.Capture
}

var _ model.DashboardReader = (*Reader)(nil)

// New returns a Reader over store and c.
func New(store *logstore.Store, c *capture.Capture) *Reader {
	return &Reader{store: store, capture: c}
}

// QueryLogs returns up to limit matching entries, newest first. A
// non-positive limit returns every match.
func (r *Reader) QueryLogs(filter model.LogFilter, limit int) ([]model.LogEntry, error) {
	return logstore.Collect(r.store.Query(filter), limit), nil
}

// RecentErrors returns the count most recent entries at ERROR or above.
func (r *Reader) RecentErrors(count int) ([]model.LogEntry, error) {
	if count <= 0 {
		count = model.DefaultRecentErrors
	}
	return logstore.Collect(r.store.Query(model.LogFilter{MinLevel: model.LevelError}), count), nil
}

func (r *Reader) LogStats() (model.StoreStats, error) {
	return r.store.Stats(), nil
}

func (r *Reader) ErrorStats() (model.ErrorStats, error) {
	return r.capture.ErrorStats(), nil
}

func (r *Reader) Performance() (model.PerformanceSnapshot, error) {
	return r.capture.Performance(), nil
}

// Export serializes every entry matching filter.
func (r *Reader) Export(filter model.LogFilter) ([]byte, error) {
	return r.store.Export(filter)
}

// ClearLogs removes every stored entry and the persisted snapshot.
func (r *Reader) ClearLogs() error {
	r.store.Clear()
	return nil
}
