// Package gate decides whether a captured report is recorded. Reports pass
// through sampling, the per-session cap and duplicate suppression, in that
// order.
package gate

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
	"github.com/zeebo/xxh3"
)

// Decision is the outcome of Check.
type Decision int

const (
	Admitted Decision = iota
	Sampled
	SessionCapped
	Duplicate
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case Sampled:
		return "sampled"
	case SessionCapped:
		return "session_capped"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Limits are the tunables that may change while the gate is running. Zero
// values keep the current setting.
type Limits struct {
	// SampleRate is the probability in [0,1] that a report is considered.
	// Nil keeps the current rate; Rate(0) drops every report.
	SampleRate          *float64
	MaxErrorsPerSession int
	// Window is how long an identical report stays suppressed.
	Window time.Duration
}

// Config configures a Gate.
type Config struct {
	Limits
	SweepInterval time.Duration
	Clock         clock.Clock
	// Rand returns a uniform value in [0,1). Defaults to math/rand/v2.
	Rand   func() float64
	Logger *slog.Logger
}

// DefaultConfig returns the stock gate configuration.
func DefaultConfig() Config {
	return Config{
		Limits: Limits{
			SampleRate:          Rate(model.DefaultSampleRate),
			MaxErrorsPerSession: model.DefaultMaxErrorsPerSession,
			Window:              model.DefaultDedupWindow,
		},
		SweepInterval: model.DefaultDedupSweep,
	}
}

type cacheEntry struct {
	firstSeen time.Time
	count     int
}

// Gate owns the duplicate cache.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	cache  map[uint64]*cacheEntry

	clock  clock.Clock
	rand   func() float64
	logger *slog.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a gate and starts its cache sweep.
func New(cfg Config) *Gate {
	if !validRate(cfg.SampleRate) {
		cfg.SampleRate = Rate(model.DefaultSampleRate)
	}
	cfg.SampleRate = Rate(*cfg.SampleRate)
	if cfg.MaxErrorsPerSession <= 0 {
		cfg.MaxErrorsPerSession = model.DefaultMaxErrorsPerSession
	}
	if cfg.Window <= 0 {
		cfg.Window = model.DefaultDedupWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = model.DefaultDedupSweep
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Gate{
		limits: cfg.Limits,
		cache:  make(map[uint64]*cacheEntry),
		clock:  cfg.Clock,
		rand:   cfg.Rand,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
	g.wg.Add(1)
	go g.sweepLoop(g.clock.NewTicker(cfg.SweepInterval))
	return g
}

// Rate returns a sample rate for Limits.
func Rate(r float64) *float64 { return &r }

func validRate(r *float64) bool {
	return r != nil && *r >= 0 && *r <= 1
}

// Key identifies a report for duplicate suppression.
func Key(reportType, message, source string) uint64 {
	return xxh3.HashString(reportType + "\x00" + message + "\x00" + source)
}

// Check runs a report through the gate. sessionErrors is the number of
// errors recorded so far this session.
func (g *Gate) Check(reportType, message, source string, sessionErrors int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rand() > *g.limits.SampleRate {
		return Sampled
	}
	if sessionErrors >= g.limits.MaxErrorsPerSession {
		return SessionCapped
	}

	key := Key(reportType, message, source)
	now := g.clock.Now()
	if e, ok := g.cache[key]; ok && now.Sub(e.firstSeen) < g.limits.Window {
		e.count++
		return Duplicate
	}
	g.cache[key] = &cacheEntry{firstSeen: now, count: 1}
	return Admitted
}

// Count returns how many times the report was seen in its current window,
// including the admitted occurrence. It is 0 when no live entry exists.
func (g *Gate) Count(reportType, message, source string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.cache[Key(reportType, message, source)]; ok {
		return e.count
	}
	return 0
}

// CacheSize returns the number of cached keys, expired or not.
func (g *Gate) CacheSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}

// Limits returns the active limits.
func (g *Gate) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.limits
	l.SampleRate = Rate(*l.SampleRate)
	return l
}

// UpdateConfig replaces the active limits. Unset or invalid values keep the
// current setting.
func (g *Gate) UpdateConfig(l Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if validRate(l.SampleRate) {
		g.limits.SampleRate = Rate(*l.SampleRate)
	}
	if l.MaxErrorsPerSession > 0 {
		g.limits.MaxErrorsPerSession = l.MaxErrorsPerSession
	}
	if l.Window > 0 {
		g.limits.Window = l.Window
	}
}

// Sweep drops cache entries whose window has passed and returns how many
// were removed.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	removed := 0
	for k, e := range g.cache {
		if now.Sub(e.firstSeen) >= g.limits.Window {
			delete(g.cache, k)
			removed++
		}
	}
	return removed
}

func (g *Gate) sweepLoop(ticker *clock.Ticker) {
	defer g.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.logger.Debug("gate: swept expired duplicate keys", "removed", n)
			}
		case <-g.done:
			return
		}
	}
}

// Close stops the sweep loop. It is safe to call more than once.
func (g *Gate) Close() {
	g.stopOnce.Do(func() {
		close(g.done)
		g.wg.Wait()
	})
}
