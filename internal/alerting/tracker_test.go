package alerting

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []model.AlertEvent
}

func (r *recordingNotifier) Notify(a model.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) kinds() []model.AlertKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AlertKind
	for _, a := range r.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func newTestTracker(t *testing.T, notifiers ...Notifier) (*Tracker, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.Notifiers = notifiers
	tr := New(cfg)
	t.Cleanup(tr.Close)
	return tr, clk
}

func countKind(alerts []model.AlertEvent, kind model.AlertKind) int {
	n := 0
	for _, a := range alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func TestCountersOnRecord(t *testing.T) {
	tr, clk := newTestTracker(t)

	tr.Record(model.ReportManual, model.LevelError)
	clk.Advance(2 * time.Second)
	tr.Record(model.ReportUncaughtFault, model.LevelError)
	clk.Advance(2 * time.Second)
	tr.Record(model.ReportManual, model.LevelFatal)

	st := tr.Snapshot()
	if st.TotalErrors != 3 || st.SessionErrors != 3 {
		t.Errorf("total=%d session=%d, want 3/3", st.TotalErrors, st.SessionErrors)
	}
	if st.ConsecutiveErrors != 3 {
		t.Errorf("ConsecutiveErrors = %d, want 3", st.ConsecutiveErrors)
	}
	if st.ErrorTypes["manual_report"] != 2 || st.ErrorTypes["uncaught_fault"] != 1 {
		t.Errorf("ErrorTypes = %v", st.ErrorTypes)
	}
	if !st.LastErrorAt.Equal(epoch.Add(4 * time.Second)) {
		t.Errorf("LastErrorAt = %v", st.LastErrorAt)
	}
	if st.Uptime != 4*time.Second {
		t.Errorf("Uptime = %v", st.Uptime)
	}
}

func TestBelowErrorLeavesCountersAlone(t *testing.T) {
	tr, _ := newTestTracker(t)
	for _, lvl := range []model.Level{model.LevelDebug, model.LevelInfo, model.LevelWarn} {
		if alerts := tr.Record(model.ReportConsoleWarn, lvl); alerts != nil {
			t.Errorf("Record(%v) raised %v", lvl, alerts)
		}
	}
	st := tr.Snapshot()
	if st.TotalErrors != 0 || st.SessionErrors != 0 || len(st.ErrorTypes) != 0 {
		t.Errorf("counters changed: %+v", st)
	}
}

func TestQuietPeriodResetsStreak(t *testing.T) {
	tr, clk := newTestTracker(t)
	tr.Record(model.ReportManual, model.LevelError)
	clk.Advance(9 * time.Second)
	tr.Record(model.ReportManual, model.LevelError)
	if got := tr.Snapshot().ConsecutiveErrors; got != 2 {
		t.Fatalf("ConsecutiveErrors = %d, want 2", got)
	}
	clk.Advance(10 * time.Second)
	tr.Record(model.ReportManual, model.LevelError)
	if got := tr.Snapshot().ConsecutiveErrors; got != 1 {
		t.Errorf("ConsecutiveErrors after quiet gap = %d, want 1", got)
	}
}

func TestConsecutiveAlertFiresOnceAtThreshold(t *testing.T) {
	n := &recordingNotifier{}
	tr, clk := newTestTracker(t, n)

	var perReport []int
	for range 7 {
		alerts := tr.Record(model.ReportManual, model.LevelError)
		perReport = append(perReport, countKind(alerts, model.AlertConsecutiveErrors))
		clk.Advance(time.Second)
	}
	want := []int{0, 0, 0, 0, 1, 0, 0}
	for i := range want {
		if perReport[i] != want[i] {
			t.Errorf("report %d raised %d consecutive alerts, want %d", i+1, perReport[i], want[i])
		}
	}
	if got := countKind(n.alerts, model.AlertConsecutiveErrors); got != 1 {
		t.Errorf("notifier saw %d consecutive alerts, want 1", got)
	}
}

func TestConsecutiveAlertRearmsAfterStreakResets(t *testing.T) {
	tr, clk := newTestTracker(t)
	fired := 0
	burst := func() {
		for range 5 {
			fired += countKind(tr.Record(model.ReportManual, model.LevelError), model.AlertConsecutiveErrors)
			clk.Advance(time.Second)
		}
	}
	burst()
	clk.Advance(time.Minute)
	burst()
	if fired != 2 {
		t.Errorf("fired = %d, want 2 (one per streak)", fired)
	}
}

func TestPeriodicResetRearms(t *testing.T) {
	tr, _ := newTestTracker(t)
	for range 5 {
		tr.Record(model.ReportManual, model.LevelError)
	}
	tr.ResetStreak()
	if got := tr.Snapshot().ConsecutiveErrors; got != 0 {
		t.Errorf("ConsecutiveErrors after reset = %d", got)
	}
	var fired int
	for range 5 {
		fired += countKind(tr.Record(model.ReportManual, model.LevelError), model.AlertConsecutiveErrors)
	}
	if fired != 1 {
		t.Errorf("fired after reset = %d, want 1", fired)
	}
}

func TestResetLoop(t *testing.T) {
	tr, clk := newTestTracker(t)
	tr.Record(model.ReportManual, model.LevelError)
	clk.Advance(model.DefaultConsecutiveReset)

	deadline := time.Now().Add(2 * time.Second)
	for tr.Snapshot().ConsecutiveErrors != 0 {
		if time.Now().After(deadline) {
			t.Fatal("reset loop did not clear the streak")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHighErrorRate(t *testing.T) {
	tests := []struct {
		name string
		// advance is applied before each report.
		advance []time.Duration
		want    []int
	}{
		{
			name:    "error at start",
			advance: []time.Duration{0},
			want:    []int{1},
		},
		{
			name:    "one error in the first half minute",
			advance: []time.Duration{30 * time.Second},
			want:    []int{1},
		},
		{
			name:    "one error after two minutes",
			advance: []time.Duration{2 * time.Minute},
			want:    []int{0},
		},
		{
			name:    "exactly one per minute",
			advance: []time.Duration{time.Minute, time.Minute},
			want:    []int{0, 0},
		},
		{
			name:    "drops below then climbs back over",
			advance: []time.Duration{10 * time.Second, 5 * time.Minute, 0, 0, 0, 0, 0},
			want:    []int{1, 0, 0, 0, 0, 1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, clk := newTestTracker(t)
			for i, d := range tt.advance {
				clk.Advance(d)
				got := countKind(tr.Record(model.ReportManual, model.LevelError), model.AlertHighErrorRate)
				if got != tt.want[i] {
					t.Errorf("report %d at %v: %d rate alerts, want %d", i+1, clk.Now().Sub(epoch), got, tt.want[i])
				}
			}
		})
	}
}

func TestHighErrorRateFiresOnEveryReportAboveThreshold(t *testing.T) {
	n := &recordingNotifier{}
	tr, clk := newTestTracker(t, n)

	for range 10 {
		clk.Advance(11 * time.Second)
		tr.Record(model.ReportManual, model.LevelError)
	}
	if got := countKind(n.alerts, model.AlertHighErrorRate); got != 10 {
		t.Errorf("notifier saw %d rate alerts, want 10", got)
	}
	a := n.alerts[len(n.alerts)-1]
	if rate, _ := a.Payload["errorRate"].(float64); rate < 5 || rate > 6 {
		t.Errorf("errorRate = %v, want about 5.45", a.Payload["errorRate"])
	}
}

func TestBothAlertsOnSameReport(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.UpdateConfig(Limits{AlertThreshold: 2})

	tr.Record(model.ReportManual, model.LevelError)
	alerts := tr.Record(model.ReportManual, model.LevelError)
	if countKind(alerts, model.AlertConsecutiveErrors) != 1 || countKind(alerts, model.AlertHighErrorRate) != 1 {
		t.Errorf("alerts = %+v, want one of each kind", alerts)
	}
}

func TestNotifierFailureIsContained(t *testing.T) {
	good := &recordingNotifier{}
	tr, _ := newTestTracker(t,
		NotifierFunc(func(model.AlertEvent) error { return errors.New("no permission") }),
		NotifierFunc(func(model.AlertEvent) error { panic("broken") }),
		good,
	)
	tr.UpdateConfig(Limits{AlertThreshold: 1})
	tr.Record(model.ReportManual, model.LevelError)

	if len(good.kinds()) == 0 {
		t.Error("later notifier did not receive the alert")
	}
}

func TestPerformanceIssues(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.RecordPerformanceIssue()
	tr.RecordPerformanceIssue()
	if got := tr.Snapshot().PerformanceIssues; got != 2 {
		t.Errorf("PerformanceIssues = %d, want 2", got)
	}
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleNotifier(&buf, nil)
	err := c.Notify(model.AlertEvent{
		Kind:    model.AlertConsecutiveErrors,
		Message: "5 consecutive errors",
		Payload: map[string]any{"threshold": 5, "consecutiveErrors": 5},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ALERT consecutive_errors", "5 consecutive errors", "consecutiveErrors=5 threshold=5"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestDesktopNotifier(t *testing.T) {
	var calls [][]string
	d := &DesktopNotifier{path: "/usr/bin/notify-send", run: func(name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return errors.New("no display")
	}}
	if err := d.Notify(model.AlertEvent{Message: "high error rate"}); err != nil {
		t.Errorf("Notify = %v, want silent fallback", err)
	}
	if len(calls) != 1 || calls[0][len(calls[0])-1] != "high error rate" {
		t.Errorf("calls = %v", calls)
	}

	absent := &DesktopNotifier{}
	if absent.Available() {
		t.Error("notifier without a command reports available")
	}
	if err := absent.Notify(model.AlertEvent{}); err != nil {
		t.Errorf("absent Notify = %v", err)
	}
}
