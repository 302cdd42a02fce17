package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/man4korea/kdv-erp/internal/alerting"
	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/gate"
	"github.com/man4korea/kdv-erp/internal/logstore"
	"github.com/man4korea/kdv-erp/internal/model"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	c       *Capture
	store   *logstore.Store
	gate    *gate.Gate
	tracker *alerting.Tracker
	clock   *clock.FakeClock
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	clk := clock.Fake(epoch)

	scfg := logstore.DefaultConfig()
	scfg.MinLevel = model.LevelDebug
	scfg.Clock = clk
	scfg.Logger = discard()
	store := logstore.New(scfg)
	t.Cleanup(store.Close)

	gcfg := gate.DefaultConfig()
	gcfg.Clock = clk
	gcfg.Logger = discard()
	g := gate.New(gcfg)
	t.Cleanup(g.Close)

	tcfg := alerting.DefaultConfig()
	tcfg.Clock = clk
	tcfg.Logger = discard()
	tr := alerting.New(tcfg)
	t.Cleanup(tr.Close)

	cfg := Config{Store: store, Gate: g, Tracker: tr, Clock: clk, Logger: discard()}
	if mutate != nil {
		mutate(&cfg)
	}
	return &harness{c: New(cfg), store: store, gate: g, tracker: tr, clock: clk}
}

func (h *harness) entries() []model.LogEntry {
	return logstore.Collect(h.store.Query(model.LogFilter{}), 0)
}

func (h *harness) newest(t *testing.T) model.LogEntry {
	t.Helper()
	all := h.entries()
	if len(all) == 0 {
		t.Fatal("store is empty")
	}
	return all[0]
}

func TestNewRequiresComponents(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New without a store should panic")
		}
	}()
	New(Config{})
}

func TestDuplicateDebugReports(t *testing.T) {
	h := newHarness(t, nil)
	r := Report{Type: model.ReportManual, Level: model.LevelDebug, Message: "cache miss", Source: "employees.go:12"}

	for range 3 {
		h.c.Submit(r)
	}

	if n := h.store.Len(); n != 1 {
		t.Errorf("stored %d entries, want 1", n)
	}
	if n := h.gate.Count(string(r.Type), r.Message, r.Source); n != 3 {
		t.Errorf("gate count = %d, want 3", n)
	}
	st := h.tracker.Snapshot()
	if st.TotalErrors != 0 || st.SessionErrors != 0 || st.ConsecutiveErrors != 0 {
		t.Errorf("DEBUG reports moved the error counters: %+v", st)
	}
}

func TestSessionCap(t *testing.T) {
	h := newHarness(t, nil)

	for i := range 120 {
		h.c.Submit(NewReport(model.ReportManual, fmt.Sprintf("distinct failure %d", i)))
	}

	if n := h.store.Len(); n != model.DefaultMaxErrorsPerSession {
		t.Errorf("stored %d entries, want %d", n, model.DefaultMaxErrorsPerSession)
	}
	if n := h.tracker.SessionErrors(); n != model.DefaultMaxErrorsPerSession {
		t.Errorf("session errors = %d", n)
	}
}

func TestBelowMinLevelIsNotCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.store.UpdateConfig(logstore.Limits{MinLevel: model.LevelFatal})
	h.tracker.UpdateConfig(alerting.Limits{AlertThreshold: 1})

	if _, ok := h.c.ReportError("rejected by min-level", nil); ok {
		t.Fatal("ERROR report stored with min-level FATAL")
	}
	st := h.tracker.Snapshot()
	if st.SessionErrors != 0 || st.TotalErrors != 0 || len(st.ErrorTypes) != 0 {
		t.Errorf("rejected report was counted: %+v", st)
	}

	r := NewReport(model.ReportUncaughtFault, "fatal still counts")
	r.Level = model.LevelFatal
	if _, ok := h.c.Submit(r); !ok {
		t.Fatal("FATAL report rejected")
	}
	if n := h.tracker.SessionErrors(); n != 1 {
		t.Errorf("SessionErrors = %d, want 1", n)
	}
}

func TestSampledReportIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.UpdateConfig(gate.Limits{SampleRate: gate.Rate(0)})

	if _, ok := h.c.Submit(NewReport(model.ReportManual, "never seen")); ok {
		t.Error("sampled report was stored")
	}
	if h.store.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.store.Len())
	}
}

func TestReportErrorAttachesContext(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Users = model.UserFunc(func() string { return "kim" })
	})
	for i := range 7 {
		h.c.TrackInteraction("click", fmt.Sprintf("button#%d", i))
	}

	e, ok := h.c.ReportError("payroll export failed", map[string]any{"month": "2026-02"})
	if !ok {
		t.Fatal("ReportError was not stored")
	}
	if e.Level != model.LevelError {
		t.Errorf("Level = %v, want ERROR", e.Level)
	}
	checks := map[string]any{
		"type":      "manual_report",
		"month":     "2026-02",
		"userId":    "kim",
		"sessionId": h.c.SessionID(),
	}
	for k, want := range checks {
		if got := e.Metadata[k]; got != want {
			t.Errorf("metadata[%q] = %v, want %v", k, got, want)
		}
	}
	if src, _ := e.Metadata["source"].(string); !strings.Contains(src, "capture_test.go") {
		t.Errorf("source = %q, want the calling file", src)
	}
	trail, _ := e.Metadata["recentInteractions"].([]model.Interaction)
	if len(trail) != reportedTrail || trail[0].Target != "button#6" {
		t.Errorf("recentInteractions = %+v", trail)
	}
	if _, ok := e.Metadata["deviceInfo"].(model.DeviceInfo); !ok {
		t.Errorf("deviceInfo missing: %v", e.Metadata["deviceInfo"])
	}
	if e.Error == nil || e.Error.Stack == "" {
		t.Errorf("manual report should carry a stack: %+v", e.Error)
	}
}

func TestEnrichmentDegrades(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Users = model.UserFunc(func() string { panic("session store down") })
		c.ReadMem = func() (model.MemoryStats, bool) { return model.MemoryStats{}, false }
	})

	e, ok := h.c.Submit(NewReport(model.ReportManual, "still recorded"))
	if !ok {
		t.Fatal("report dropped when enrichment failed")
	}
	if _, present := e.Metadata["userId"]; present {
		t.Errorf("userId should be omitted, got %v", e.Metadata["userId"])
	}
	perf, ok := e.Metadata["performance"].(model.PerformanceSnapshot)
	if !ok {
		t.Fatalf("performance missing: %v", e.Metadata["performance"])
	}
	if perf.Memory != nil {
		t.Errorf("Memory = %+v, want nil when unreadable", perf.Memory)
	}
}

func TestAnonymousUser(t *testing.T) {
	h := newHarness(t, nil)
	e, _ := h.c.Submit(NewReport(model.ReportManual, "no one signed in"))
	if e.Metadata["userId"] != model.Anonymous {
		t.Errorf("userId = %v, want %s", e.Metadata["userId"], model.Anonymous)
	}
}

func TestWrapReturnsSameError(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("boom")

	got := h.c.Wrap("saveEmployee", func() error { return boom })()
	if got != boom {
		t.Fatalf("Wrap returned %v, want the original error value", got)
	}

	e := h.newest(t)
	if e.Message != "function saveEmployee failed: boom" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Metadata["type"] != string(model.ReportWrappedFunction) || e.Metadata["functionName"] != "saveEmployee" {
		t.Errorf("metadata = %v", e.Metadata)
	}
	if e.Error == nil || e.Error.Name != "errors.errorString" || e.Error.Message != "boom" {
		t.Errorf("Error = %+v", e.Error)
	}
	if h.store.Len() != 1 {
		t.Errorf("Len = %d, want 1", h.store.Len())
	}
}

func TestWrapRepanics(t *testing.T) {
	h := newHarness(t, nil)

	func() {
		defer func() {
			if rec := recover(); rec != "index out of range" {
				t.Errorf("recovered %v, want the original panic value", rec)
			}
		}()
		h.c.Wrap("loadPayroll", func() error { panic("index out of range") })()
	}()

	if h.store.Len() != 1 {
		t.Fatalf("Len = %d, want exactly one report", h.store.Len())
	}
	e := h.newest(t)
	if e.Error == nil || e.Error.Name != "capture.PanicError" {
		t.Errorf("Error = %+v", e.Error)
	}
}

func TestCallReturnsResult(t *testing.T) {
	h := newHarness(t, nil)
	n, err := Call(h.c, "count", func() (int, error) { return 42, nil })
	if err != nil || n != 42 {
		t.Errorf("Call = %d, %v", n, err)
	}
	if h.store.Len() != 0 {
		t.Errorf("successful fast call stored %d entries", h.store.Len())
	}
}

func TestWrapContext(t *testing.T) {
	h := newHarness(t, nil)
	sentinel := context.DeadlineExceeded

	err := h.c.WrapContext("syncLedger", func(ctx context.Context) error { return sentinel })(context.Background())
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v", err)
	}
	if got := h.newest(t).Metadata["type"]; got != string(model.ReportWrappedAsync) {
		t.Errorf("type = %v", got)
	}
}

func TestSlowFunction(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Wrap("fast", func() error {
		h.clock.Advance(50 * time.Millisecond)
		return nil
	})()
	if h.store.Len() != 0 {
		t.Fatalf("fast call stored %d entries", h.store.Len())
	}

	h.c.Wrap("generateReport", func() error {
		h.clock.Advance(250 * time.Millisecond)
		return nil
	})()

	e := h.newest(t)
	if e.Level != model.LevelWarn {
		t.Errorf("Level = %v, want WARN", e.Level)
	}
	if e.Metadata["type"] != "slow_function" || e.Metadata["functionName"] != "generateReport" {
		t.Errorf("metadata = %v", e.Metadata)
	}
	if e.Metadata["durationMs"] != int64(250) {
		t.Errorf("durationMs = %v", e.Metadata["durationMs"])
	}
	if st := h.c.ErrorStats(); st.PerformanceIssues != 1 || st.SessionErrors != 0 {
		t.Errorf("stats = %+v", st)
	}

	h.c.SetSlowFunctionThreshold(time.Second)
	h.c.Wrap("generateReport", func() error {
		h.clock.Advance(250 * time.Millisecond)
		return nil
	})()
	if h.store.Len() != 1 {
		t.Errorf("raised threshold still flagged the call")
	}
}

func TestErrorStatsIncludesCacheSize(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Submit(NewReport(model.ReportManual, "a"))
	h.c.Submit(NewReport(model.ReportManual, "b"))

	st := h.c.ErrorStats()
	if st.CacheSize != 2 || st.TotalErrors != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.ErrorTypes[string(model.ReportManual)] != 2 {
		t.Errorf("ErrorTypes = %v", st.ErrorTypes)
	}
}

func TestTrailKeepsTen(t *testing.T) {
	tr := newTrail(clock.Fake(epoch))
	for i := range 12 {
		tr.Add("click", fmt.Sprint(i))
	}
	got := tr.Recent(20)
	if len(got) != trailSize {
		t.Fatalf("len = %d, want %d", len(got), trailSize)
	}
	if got[0].Target != "11" || got[trailSize-1].Target != "2" {
		t.Errorf("trail = %v ... %v", got[0].Target, got[trailSize-1].Target)
	}
	if n := len(tr.Recent(3)); n != 3 {
		t.Errorf("Recent(3) returned %d", n)
	}
}
