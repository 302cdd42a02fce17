package capture

import (
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
)

// MemReader reads heap statistics. Tests replace it.
type MemReader func() (model.MemoryStats, bool)

// ReadMemStats reads the Go runtime heap statistics.
func ReadMemStats() (model.MemoryStats, bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out := model.MemoryStats{
		HeapAlloc:  ms.HeapAlloc,
		HeapInuse:  ms.HeapInuse,
		HeapSys:    ms.HeapSys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
	// A negative input reads the limit without changing it.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		out.HeapLimit = uint64(limit)
	}
	return out, true
}

// enricher gathers the context attached to every admitted report.
type enricher struct {
	clock     clock.Clock
	startedAt time.Time
	readMem   MemReader
	users     model.UserIdentifier
	sessionID string
	device    model.DeviceInfo
}

func newEnricher(clk clock.Clock, readMem MemReader, users model.UserIdentifier, sessionID string) *enricher {
	return &enricher{
		clock:     clk,
		startedAt: clk.Now(),
		readMem:   readMem,
		users:     users,
		sessionID: sessionID,
		device:    deviceInfo(),
	}
}

func deviceInfo() model.DeviceInfo {
	host, _ := os.Hostname()
	return model.DeviceInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		GoVersion: runtime.Version(),
		Hostname:  host,
		PID:       os.Getpid(),
	}
}

// performance returns the current snapshot. Memory is omitted when the
// reader fails.
func (e *enricher) performance() model.PerformanceSnapshot {
	now := e.clock.Now()
	snap := model.PerformanceSnapshot{
		At:        now,
		StartedAt: e.startedAt,
		Uptime:    now.Sub(e.startedAt),
	}
	if e.readMem != nil {
		if ms, ok := e.readMem(); ok {
			snap.Memory = &ms
		}
	}
	return snap
}

func (e *enricher) userID() string {
	if e.users == nil {
		return model.Anonymous
	}
	if id := e.users.CurrentUserID(); id != "" {
		return id
	}
	return model.Anonymous
}
