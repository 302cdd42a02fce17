package logparse

import (
	"log/slog"
	"strings"

	"github.com/man4korea/kdv-erp/internal/model"
)

// ParseLevel converts the various spellings operators and clients use into a
// model.Level. The boolean is false when the input is not recognised, in
// which case INFO is returned.
func ParseLevel(severity string) (model.Level, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "TRACE", "TRAC", "TRC", "DEBUG", "DEBU", "DBG", "DEB", "0":
		return model.LevelDebug, true
	case "INFO", "INFORMATION", "INF", "LOG", "1":
		return model.LevelInfo, true
	case "WARN", "WARNING", "WRNG", "WRN", "2":
		return model.LevelWarn, true
	case "ERROR", "ERR", "ERRO", "3":
		return model.LevelError, true
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT", "PANIC", "PNC", "4":
		return model.LevelFatal, true
	default:
		if len(normalized) >= 4 {
			switch normalized[:4] {
			case "INFO":
				return model.LevelInfo, true
			case "WARN":
				return model.LevelWarn, true
			case "ERRO":
				return model.LevelError, true
			case "DEBU", "TRAC":
				return model.LevelDebug, true
			case "FATA", "CRIT":
				return model.LevelFatal, true
			}
		}
		return model.LevelInfo, false
	}
}

// FromSlog maps an slog level onto the nearest model.Level. Levels above
// ERROR (slog allows arbitrary offsets) are treated as FATAL.
func FromSlog(level slog.Level) model.Level {
	switch {
	case level < slog.LevelInfo:
		return model.LevelDebug
	case level < slog.LevelWarn:
		return model.LevelInfo
	case level < slog.LevelError:
		return model.LevelWarn
	case level < slog.LevelError+4:
		return model.LevelError
	default:
		return model.LevelFatal
	}
}

// OTELSeverityNumber returns the OpenTelemetry severity number at the bottom
// of the range for level (DEBUG=5, INFO=9, WARN=13, ERROR=17, FATAL=21).
func OTELSeverityNumber(level model.Level) int32 {
	switch level {
	case model.LevelDebug:
		return 5
	case model.LevelInfo:
		return 9
	case model.LevelWarn:
		return 13
	case model.LevelError:
		return 17
	case model.LevelFatal:
		return 21
	default:
		return 9
	}
}
