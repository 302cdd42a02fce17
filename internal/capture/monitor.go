package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
)

const mb = 1 << 20

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Threshold is the heap size in bytes above which a performance notice
	// is recorded. Twice the threshold escalates to a FATAL report.
	Threshold    uint64
	Interval     time.Duration
	LeakInterval time.Duration
	// LeakRatio is the allocated/reserved heap ratio that suggests a leak.
	LeakRatio float64
	ReadMem   MemReader
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Monitor samples heap usage on a ticker and reports into a Capture.
type Monitor struct {
	c        *Capture
	readMem  MemReader
	logger   *slog.Logger
	ratio    float64
	mu       sync.Mutex
	limit    uint64
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor starts the heap and leak checks.
func NewMonitor(c *Capture, cfg MonitorConfig) *Monitor {
	if cfg.Threshold == 0 {
		cfg.Threshold = model.DefaultMemoryThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = model.DefaultMonitorInterval
	}
	if cfg.LeakInterval <= 0 {
		cfg.LeakInterval = model.DefaultLeakCheckInterval
	}
	if cfg.LeakRatio <= 0 || cfg.LeakRatio > 1 {
		cfg.LeakRatio = model.DefaultLeakRatio
	}
	if cfg.ReadMem == nil {
		cfg.ReadMem = ReadMemStats
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Monitor{
		c:       c,
		readMem: cfg.ReadMem,
		logger:  cfg.Logger,
		ratio:   cfg.LeakRatio,
		limit:   cfg.Threshold,
		done:    make(chan struct{}),
	}
	m.wg.Add(2)
	go m.loop(cfg.Clock.NewTicker(cfg.Interval), m.CheckHeap)
	go m.loop(cfg.Clock.NewTicker(cfg.LeakInterval), m.CheckLeak)
	return m
}

func (m *Monitor) loop(ticker *clock.Ticker, check func()) {
	defer m.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			check()
		case <-m.done:
			return
		}
	}
}

// Threshold returns the active heap threshold in bytes.
func (m *Monitor) Threshold() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

// SetThreshold changes the heap threshold. Zero is ignored.
func (m *Monitor) SetThreshold(bytes uint64) {
	if bytes == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = bytes
}

// CheckHeap compares heap usage with the threshold.
func (m *Monitor) CheckHeap() {
	ms, ok := m.readMem()
	if !ok {
		return
	}
	limit := m.Threshold()
	if ms.HeapAlloc <= limit {
		return
	}

	usedMB := float64(ms.HeapAlloc) / mb
	limitMB := float64(limit) / mb
	meta := map[string]any{
		"usedMB":      round1(usedMB),
		"thresholdMB": round1(limitMB),
		"goroutines":  ms.Goroutines,
	}
	m.c.RecordPerformanceIssue("high_memory_usage",
		fmt.Sprintf("high memory usage: %.1fMB over %.1fMB", usedMB, limitMB), meta)

	if ms.HeapAlloc > 2*limit {
		r := NewReport(model.ReportCriticalPerformance, "critical memory usage exceeded")
		r.Metadata = meta
		m.c.Submit(r)
	}
}

// CheckLeak reports when nearly all reserved heap is allocated.
func (m *Monitor) CheckLeak() {
	ms, ok := m.readMem()
	if !ok || ms.HeapSys == 0 {
		return
	}
	ratio := float64(ms.HeapAlloc) / float64(ms.HeapSys)
	if ratio <= m.ratio {
		return
	}
	r := NewReport(model.ReportMemoryLeak, "possible memory leak")
	r.Metadata = map[string]any{
		"usedMB":    round1(float64(ms.HeapAlloc) / mb),
		"totalMB":   round1(float64(ms.HeapSys) / mb),
		"usageRate": round1(ratio * 100),
	}
	m.c.Submit(r)
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}

// Close stops both checks. It is safe to call more than once.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}
