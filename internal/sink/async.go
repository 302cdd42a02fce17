package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/man4korea/kdv-erp/internal/model"
)

const (
	defaultQueueSize    = 256
	defaultDrainTimeout = 2 * time.Second
)

// AsyncOption configures an Async wrapper.
type AsyncOption func(*Async)

// WithQueueSize sets the queue capacity. Default: 256.
func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.size = n
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued entries.
// Default: 2s.
func WithDrainTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.drainTimeout = d
		}
	}
}

// WithLogger sets the logger failed deliveries are reported to.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) { a.logger = l }
}

// Async hands entries to a background worker so the caller never waits on
// the network. Entries that do not fit in the queue are dropped; failed
// deliveries are logged and never retried.
type Async struct {
	inner        Sink
	ch           chan model.LogEntry
	done         chan struct{}
	size         int
	drainTimeout time.Duration
	logger       *slog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewAsync wraps inner. The worker starts immediately.
func NewAsync(inner Sink, opts ...AsyncOption) *Async {
	a := &Async{
		inner:        inner,
		size:         defaultQueueSize,
		drainTimeout: defaultDrainTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.LogEntry, a.size)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// WriteEntry queues entry for delivery. It never blocks; ErrQueueFull is
// returned when the entry was dropped.
func (a *Async) WriteEntry(_ context.Context, entry model.LogEntry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return ErrQueueFull
	}
	select {
	case a.ch <- entry:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting entries, waits up to the drain timeout for the
// queue to empty, then closes the inner sink. Entries still queued after the
// timeout are abandoned.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()

		select {
		case <-a.done:
		case <-time.After(a.drainTimeout):
			a.logger.Warn("sink: remote delivery drain timed out", "pending", len(a.ch))
		}
		err = a.inner.Close()
	})
	return err
}

// Counts reports how many entries were delivered, failed and dropped.
func (a *Async) Counts() (delivered, failed, dropped int64) {
	return a.delivered.Load(), a.failed.Load(), a.dropped.Load()
}

func (a *Async) drain() {
	defer close(a.done)
	for entry := range a.ch {
		if err := a.inner.WriteEntry(context.Background(), entry); err != nil {
			a.failed.Add(1)
			a.logger.Warn("sink: remote delivery failed", "id", entry.ID, "error", err)
			continue
		}
		a.delivered.Add(1)
	}
}
