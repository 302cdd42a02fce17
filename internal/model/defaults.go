package model

import "time"

// Shared defaults used by both the server and dashboard binaries.
const (
	StorageKey = "kdv_system_logs"

	DefaultMinLevel      = LevelInfo
	DefaultMaxEntries    = 1000
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepInterval = 5 * time.Minute

	DefaultSampleRate          = 1.0
	DefaultMaxErrorsPerSession = 100
	DefaultDedupWindow         = 30 * time.Second
	DefaultDedupSweep          = 5 * time.Minute

	DefaultAlertThreshold   = 5
	DefaultQuietPeriod      = 10 * time.Second
	DefaultConsecutiveReset = 10 * time.Minute

	DefaultMemoryThreshold       = 50 << 20
	DefaultMonitorInterval       = 30 * time.Second
	DefaultLeakCheckInterval     = time.Minute
	DefaultLeakRatio             = 0.9
	DefaultSlowFunctionThreshold = 100 * time.Millisecond

	DefaultRefreshInterval = 5 * time.Second
	DefaultRecentErrors    = 10
	DefaultDashboardLimit  = 100
	DefaultSkin            = "default"
)
