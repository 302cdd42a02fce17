package model

import (
	"encoding/json"
	"time"
)

// LogEntry is one stored observation. Entries are never mutated after they
// are stored; the store only evicts them.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
	Error     *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes the fault an entry originated from.
type ErrorDetail struct {
	Name    string
	Message string
	Stack   string // empty encodes as null
}

type errorDetailJSON struct {
	Name    string  `json:"name"`
	Message string  `json:"message"`
	Stack   *string `json:"stack"`
}

func (d ErrorDetail) MarshalJSON() ([]byte, error) {
	out := errorDetailJSON{Name: d.Name, Message: d.Message}
	if d.Stack != "" {
		out.Stack = &d.Stack
	}
	return json.Marshal(out)
}

func (d *ErrorDetail) UnmarshalJSON(data []byte) error {
	var in errorDetailJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.Name = in.Name
	d.Message = in.Message
	d.Stack = ""
	if in.Stack != nil {
		d.Stack = *in.Stack
	}
	return nil
}

// LogFilter selects entries. Zero-valued fields match everything; the zero
// MinLevel is DEBUG, which admits every level.
type LogFilter struct {
	MinLevel Level     `json:"level"`
	Keyword  string    `json:"keyword,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
}

// ExportDocument is the serialized snapshot produced by an export.
type ExportDocument struct {
	ExportTime time.Time  `json:"exportTime"`
	TotalCount int        `json:"totalCount"`
	Logs       []LogEntry `json:"logs"`
}

// StoreStats summarizes the contents of the log store.
type StoreStats struct {
	TotalCount  int       `json:"totalLogs"`
	ErrorCount  int       `json:"errorCount"`
	WarnCount   int       `json:"warnCount"`
	RecentCount int       `json:"recentLogs"`
	DailyCount  int       `json:"dailyLogs"`
	StartedAt   time.Time `json:"startTime"`
	LastCleanup time.Time `json:"lastCleanup"`
}

// ErrorStats is a snapshot of the error counters.
type ErrorStats struct {
	TotalErrors       int            `json:"totalErrors"`
	SessionErrors     int            `json:"sessionErrors"`
	ConsecutiveErrors int            `json:"consecutiveErrors"`
	LastErrorAt       time.Time      `json:"lastErrorTime"`
	ErrorTypes        map[string]int `json:"errorTypes"`
	PerformanceIssues int            `json:"performanceIssues"`
	CacheSize         int            `json:"cacheSize"`
	StartedAt         time.Time      `json:"startTime"`
	Uptime            time.Duration  `json:"uptime"`
}

// MemoryStats is the heap portion of a performance snapshot.
type MemoryStats struct {
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	HeapSys    uint64 `json:"heapSys"`
	HeapLimit  uint64 `json:"heapLimit,omitempty"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

// PerformanceSnapshot captures runtime performance at one instant. Memory is
// nil when heap statistics could not be read.
type PerformanceSnapshot struct {
	At        time.Time     `json:"at"`
	StartedAt time.Time     `json:"startedAt"`
	Uptime    time.Duration `json:"uptime"`
	Memory    *MemoryStats  `json:"memory,omitempty"`
}

// Interaction is one entry of the user interaction trail.
type Interaction struct {
	Kind   string    `json:"kind"`
	Target string    `json:"target"`
	At     time.Time `json:"timestamp"`
}

// DeviceInfo describes the process and host a report was captured on.
// Fields that could not be determined are left empty.
type DeviceInfo struct {
	OS        string `json:"os,omitempty"`
	Arch      string `json:"arch,omitempty"`
	CPUs      int    `json:"cpus,omitempty"`
	GoVersion string `json:"goVersion,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	PID       int    `json:"pid,omitempty"`
}

// AlertKind names the threshold an AlertEvent crossed.
type AlertKind string

const (
	AlertConsecutiveErrors AlertKind = "consecutive_errors"
	AlertHighErrorRate     AlertKind = "high_error_rate"
)

// AlertEvent is emitted when a threshold is crossed. It is never stored.
type AlertEvent struct {
	Kind    AlertKind      `json:"kind"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}
