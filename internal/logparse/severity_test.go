package logparse

import (
	"log/slog"
	"testing"

	"github.com/man4korea/kdv-erp/internal/model"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  model.Level
		ok    bool
	}{
		// Standard forms
		{"DEBUG", model.LevelDebug, true}, {"INFO", model.LevelInfo, true},
		{"WARN", model.LevelWarn, true}, {"ERROR", model.LevelError, true},
		{"FATAL", model.LevelFatal, true},
		// Variants
		{"TRACE", model.LevelDebug, true}, {"DBG", model.LevelDebug, true},
		{"INFORMATION", model.LevelInfo, true}, {"log", model.LevelInfo, true},
		{"WARNING", model.LevelWarn, true}, {"WRN", model.LevelWarn, true},
		{"ERR", model.LevelError, true}, {"ERRO", model.LevelError, true},
		{"CRITICAL", model.LevelFatal, true}, {"PANIC", model.LevelFatal, true},
		// Numeric enum values
		{"0", model.LevelDebug, true}, {"3", model.LevelError, true},
		// Case insensitive
		{"warn", model.LevelWarn, true}, {"error", model.LevelError, true},
		// Prefix matching
		{"WARNING_LEVEL", model.LevelWarn, true}, {"ERROR_CODE_42", model.LevelError, true},
		{"FATAL_CRASH", model.LevelFatal, true},
		// Whitespace
		{"  INFO  ", model.LevelInfo, true}, {"\tWARN\t", model.LevelWarn, true},
		// Unknown defaults to INFO
		{"", model.LevelInfo, false}, {"UNKNOWN", model.LevelInfo, false}, {"foo", model.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFromSlog(t *testing.T) {
	tests := []struct {
		input slog.Level
		want  model.Level
	}{
		{slog.LevelDebug, model.LevelDebug},
		{slog.LevelDebug - 4, model.LevelDebug},
		{slog.LevelInfo, model.LevelInfo},
		{slog.LevelInfo + 2, model.LevelInfo},
		{slog.LevelWarn, model.LevelWarn},
		{slog.LevelError, model.LevelError},
		{slog.LevelError + 4, model.LevelFatal},
	}

	for _, tt := range tests {
		if got := FromSlog(tt.input); got != tt.want {
			t.Errorf("FromSlog(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOTELSeverityNumber(t *testing.T) {
	want := map[model.Level]int32{
		model.LevelDebug: 5,
		model.LevelInfo:  9,
		model.LevelWarn:  13,
		model.LevelError: 17,
		model.LevelFatal: 21,
	}
	for _, level := range model.Levels() {
		if got := OTELSeverityNumber(level); got != want[level] {
			t.Errorf("OTELSeverityNumber(%v) = %d, want %d", level, got, want[level])
		}
	}
}
