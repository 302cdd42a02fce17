package model

// ReportType classifies a captured fault.
type ReportType string

const (
	ReportUncaughtFault       ReportType = "uncaught_fault"
	ReportUnhandledAsync      ReportType = "unhandled_async_fault"
	ReportResourceError       ReportType = "resource_error"
	ReportConsoleWarn         ReportType = "console_warn"
	ReportConsoleError        ReportType = "console_error"
	ReportManual              ReportType = "manual_report"
	ReportWrappedFunction     ReportType = "wrapped_function_error"
	ReportWrappedAsync        ReportType = "wrapped_async_error"
	ReportCriticalPerformance ReportType = "critical_performance_issue"
	ReportMemoryLeak          ReportType = "memory_leak_warning"
)

// DefaultLevel is the level an admitted report of this type is stored at.
func (t ReportType) DefaultLevel() Level {
	if t == ReportCriticalPerformance {
		return LevelFatal
	}
	return LevelError
}
