// Package alerting keeps the error counters and raises alerts when the
// consecutive-error or error-rate thresholds are crossed.
package alerting

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
)

// maxErrorsPerMinute is the session error rate above which high_error_rate
// fires.
const maxErrorsPerMinute = 1.0

// minRateWindow bounds the elapsed time used for the session rate away from
// zero.
const minRateWindow = time.Second

// Limits are the tunables that may change while the tracker is running.
type Limits struct {
	AlertThreshold int
	// QuietPeriod is the largest gap between two errors that still counts
	// as the same streak.
	QuietPeriod time.Duration
}

// Config configures a Tracker.
type Config struct {
	Limits
	// ResetInterval clears the consecutive counter periodically.
	ResetInterval time.Duration
	Notifiers     []Notifier
	Clock         clock.Clock
	Logger        *slog.Logger
}

// DefaultConfig returns the stock tracker configuration without notifiers.
func DefaultConfig() Config {
	return Config{
		Limits: Limits{
			AlertThreshold: model.DefaultAlertThreshold,
			QuietPeriod:    model.DefaultQuietPeriod,
		},
		ResetInterval: model.DefaultConsecutiveReset,
	}
}

// Tracker owns the error counters.
type Tracker struct {
	mu                sync.Mutex
	limits            Limits
	startedAt         time.Time
	totalErrors       int
	sessionErrors     int
	consecutiveErrors int
	lastErrorAt       time.Time
	errorTypes        map[string]int
	performanceIssues int

	// The streak alert fires once per streak and re-arms when the streak
	// resets. The rate alert is checked on every report.
	streakArmed bool

	notifiers []Notifier
	clock     clock.Clock
	logger    *slog.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a tracker and starts the periodic streak reset.
func New(cfg Config) *Tracker {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = model.DefaultAlertThreshold
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = model.DefaultQuietPeriod
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = model.DefaultConsecutiveReset
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Tracker{
		limits:      cfg.Limits,
		startedAt:   cfg.Clock.Now(),
		errorTypes:  make(map[string]int),
		streakArmed: true,
		notifiers:   cfg.Notifiers,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		done:        make(chan struct{}),
	}
	t.wg.Add(1)
	go t.resetLoop(t.clock.NewTicker(cfg.ResetInterval))
	return t
}

// Record counts one admitted report and delivers any alert it raises.
// Reports below ERROR do not touch the counters.
func (t *Tracker) Record(reportType model.ReportType, level model.Level) []model.AlertEvent {
	if level < model.LevelError {
		return nil
	}

	t.mu.Lock()
	now := t.clock.Now()
	t.totalErrors++
	t.sessionErrors++
	if !t.lastErrorAt.IsZero() && now.Sub(t.lastErrorAt) < t.limits.QuietPeriod {
		t.consecutiveErrors++
	} else {
		t.consecutiveErrors = 1
	}
	t.lastErrorAt = now
	t.errorTypes[string(reportType)]++
	alerts := t.evaluateLocked(now, reportType)
	t.mu.Unlock()

	for _, a := range alerts {
		t.deliver(a)
	}
	return alerts
}

func (t *Tracker) evaluateLocked(now time.Time, reportType model.ReportType) []model.AlertEvent {
	var alerts []model.AlertEvent

	if t.consecutiveErrors < t.limits.AlertThreshold {
		t.streakArmed = true
	} else if t.streakArmed {
		t.streakArmed = false
		alerts = append(alerts, model.AlertEvent{
			Kind:    model.AlertConsecutiveErrors,
			Message: fmt.Sprintf("%d consecutive errors", t.consecutiveErrors),
			Payload: map[string]any{
				"consecutiveErrors": t.consecutiveErrors,
				"threshold":         t.limits.AlertThreshold,
				"lastErrorType":     string(reportType),
			},
			At: now,
		})
	}

	if rate := t.rateLocked(now); rate > maxErrorsPerMinute {
		alerts = append(alerts, model.AlertEvent{
			Kind:    model.AlertHighErrorRate,
			Message: fmt.Sprintf("high error rate: %.1f errors/min", rate),
			Payload: map[string]any{
				"errorRate":     rate,
				"sessionErrors": t.sessionErrors,
			},
			At: now,
		})
	}
	return alerts
}

// rateLocked is the session error rate per minute since the tracker started.
func (t *Tracker) rateLocked(now time.Time) float64 {
	elapsed := max(now.Sub(t.startedAt), minRateWindow)
	return float64(t.sessionErrors) / elapsed.Minutes()
}

func (t *Tracker) deliver(a model.AlertEvent) {
	for _, n := range t.notifiers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Debug("alerting: notifier panicked", "kind", a.Kind, "panic", r)
				}
			}()
			if err := n.Notify(a); err != nil {
				t.logger.Debug("alerting: notifier failed", "kind", a.Kind, "error", err)
			}
		}()
	}
}

// RecordPerformanceIssue counts one performance-threshold breach.
func (t *Tracker) RecordPerformanceIssue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.performanceIssues++
}

// SessionErrors returns the number of errors recorded this session.
func (t *Tracker) SessionErrors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionErrors
}

// Snapshot returns a copy of the counters. CacheSize is left for the caller
// to fill in.
func (t *Tracker) Snapshot() model.ErrorStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	return model.ErrorStats{
		TotalErrors:       t.totalErrors,
		SessionErrors:     t.sessionErrors,
		ConsecutiveErrors: t.consecutiveErrors,
		LastErrorAt:       t.lastErrorAt,
		ErrorTypes:        maps.Clone(t.errorTypes),
		PerformanceIssues: t.performanceIssues,
		StartedAt:         t.startedAt,
		Uptime:            now.Sub(t.startedAt),
	}
}

// ResetStreak clears the consecutive counter and re-arms its alert.
func (t *Tracker) ResetStreak() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveErrors = 0
	t.streakArmed = true
}

// Limits returns the active limits.
func (t *Tracker) Limits() Limits {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limits
}

// UpdateConfig replaces the active limits. Non-positive values keep the
// current setting.
func (t *Tracker) UpdateConfig(l Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l.AlertThreshold > 0 {
		t.limits.AlertThreshold = l.AlertThreshold
	}
	if l.QuietPeriod > 0 {
		t.limits.QuietPeriod = l.QuietPeriod
	}
}

func (t *Tracker) resetLoop(ticker *clock.Ticker) {
	defer t.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.ResetStreak()
		case <-t.done:
			return
		}
	}
}

// Close stops the reset loop. It is safe to call more than once.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.wg.Wait()
	})
}
