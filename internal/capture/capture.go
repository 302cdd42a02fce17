// Package capture turns faults raised anywhere in the process into reports,
// runs them through the gate and records the admitted ones.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/man4korea/kdv-erp/internal/alerting"
	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/gate"
	"github.com/man4korea/kdv-erp/internal/logstore"
	"github.com/man4korea/kdv-erp/internal/model"
)

// Config wires a Capture to the components it feeds.
type Config struct {
	Store   *logstore.Store
	Gate    *gate.Gate
	Tracker *alerting.Tracker

	// Users identifies the signed-in user. Nil tags every report anonymous.
	Users model.UserIdentifier
	// ReadMem reads heap statistics for the performance snapshot. Nil
	// omits memory from reports.
	ReadMem MemReader
	// SlowFunctionThreshold flags wrapped calls that run longer.
	SlowFunctionThreshold time.Duration

	Clock clock.Clock
	// Logger receives pipeline diagnostics. It must not feed back into
	// this Capture.
	Logger *slog.Logger
}

// Capture is the entry point for every fault category.
type Capture struct {
	// mu serialises the gate, store and tracker updates of one report.
	mu sync.Mutex

	store   *logstore.Store
	gate    *gate.Gate
	tracker *alerting.Tracker
	trail   *Trail
	enrich  *enricher

	slowMu        sync.RWMutex
	slowThreshold time.Duration

	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Capture. Store, Gate and Tracker are required.
func New(cfg Config) *Capture {
	if cfg.Store == nil || cfg.Gate == nil || cfg.Tracker == nil {
		panic("capture: Store, Gate and Tracker are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SlowFunctionThreshold <= 0 {
		cfg.SlowFunctionThreshold = model.DefaultSlowFunctionThreshold
	}
	return &Capture{
		store:         cfg.Store,
		gate:          cfg.Gate,
		tracker:       cfg.Tracker,
		trail:         newTrail(cfg.Clock),
		enrich:        newEnricher(cfg.Clock, cfg.ReadMem, cfg.Users, uuid.NewString()),
		slowThreshold: cfg.SlowFunctionThreshold,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}
}

// Submit runs r through the gate and, when admitted, enriches, stores and
// counts it. It never panics. The returned bool is false when the report was
// dropped or the store's minimum level rejected it; rejected reports are not
// counted either.
func (c *Capture) Submit(r Report) (entry model.LogEntry, stored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Debug("capture: pipeline failed", "type", string(r.Type), "panic", rec)
			entry, stored = model.LogEntry{}, false
		}
	}()

	decision := c.gate.Check(string(r.Type), r.Message, r.Source, c.tracker.SessionErrors())
	if decision != gate.Admitted {
		c.logger.Debug("capture: report dropped", "type", string(r.Type), "reason", decision.String())
		return model.LogEntry{}, false
	}

	c.enrichReport(&r)
	entry, stored = c.store.Append(r.Level, r.Message, r.metadata(), r.detail())
	if stored {
		c.tracker.Record(r.Type, r.Level)
	}
	return entry, stored
}

// enrichReport fills in the context fields. Each source is independent; one
// failing leaves its field empty.
func (c *Capture) enrichReport(r *Report) {
	c.safely("interactions", func() { r.Interactions = c.trail.Recent(reportedTrail) })
	c.safely("device", func() {
		d := c.enrich.device
		r.Device = &d
	})
	c.safely("performance", func() {
		p := c.enrich.performance()
		r.Performance = &p
	})
	c.safely("user", func() { r.UserID = c.enrich.userID() })
	r.SessionID = c.enrich.sessionID
}

func (c *Capture) safely(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Debug("capture: enrichment failed", "field", what, "panic", rec)
		}
	}()
	fn()
}

// ReportError records a manual report at ERROR.
func (c *Capture) ReportError(message string, metadata map[string]any) (model.LogEntry, bool) {
	r := NewReport(model.ReportManual, message)
	r.Source = callerSource(1)
	r.Metadata = metadata
	r.Stack = stack()
	return c.Submit(r)
}

// TrackInteraction appends to the interaction trail attached to reports.
func (c *Capture) TrackInteraction(kind, target string) {
	c.trail.Add(kind, target)
}

// Interactions returns up to n recent interactions, most recent first.
func (c *Capture) Interactions(n int) []model.Interaction {
	return c.trail.Recent(n)
}

// RecordPerformanceIssue stores a WARN notice and counts it. It bypasses
// the gate.
func (c *Capture) RecordPerformanceIssue(kind, message string, metadata map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Debug("capture: performance notice failed", "kind", kind, "panic", rec)
		}
	}()
	m := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		m[k] = v
	}
	m["type"] = kind
	c.tracker.RecordPerformanceIssue()
	c.store.Append(model.LevelWarn, message, m, nil)
}

// Performance returns the current performance snapshot.
func (c *Capture) Performance() model.PerformanceSnapshot {
	return c.enrich.performance()
}

// ErrorStats returns the tracker counters with the duplicate cache size.
func (c *Capture) ErrorStats() model.ErrorStats {
	st := c.tracker.Snapshot()
	st.CacheSize = c.gate.CacheSize()
	return st
}

// SessionID identifies this process run in every report.
func (c *Capture) SessionID() string { return c.enrich.sessionID }

// SetSlowFunctionThreshold changes the slow call threshold.
func (c *Capture) SetSlowFunctionThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	c.slowMu.Lock()
	defer c.slowMu.Unlock()
	c.slowThreshold = d
}

func (c *Capture) slowFunctionThreshold() time.Duration {
	c.slowMu.RLock()
	defer c.slowMu.RUnlock()
	return c.slowThreshold
}

func (c *Capture) checkDuration(name string, started time.Time) {
	elapsed := c.clock.Now().Sub(started)
	threshold := c.slowFunctionThreshold()
	if elapsed <= threshold {
		return
	}
	c.RecordPerformanceIssue("slow_function",
		fmt.Sprintf("slow function %s took %s", name, elapsed.Round(time.Millisecond)),
		map[string]any{
			"functionName": name,
			"durationMs":   elapsed.Milliseconds(),
			"thresholdMs":  threshold.Milliseconds(),
		})
}
