package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/man4korea/kdv-erp/internal/alerting"
	"github.com/man4korea/kdv-erp/internal/capture"
	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/duckdb"
	"github.com/man4korea/kdv-erp/internal/gate"
	"github.com/man4korea/kdv-erp/internal/inspect"
	"github.com/man4korea/kdv-erp/internal/logstore"
	"github.com/man4korea/kdv-erp/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	handler http.Handler
	store   *logstore.Store
	kv      *duckdb.Store
	capture *capture.Capture
	clock   *clock.FakeClock
}

func newTestServer(t *testing.T, staticDir string) *testEnv {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	kv, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	scfg := logstore.DefaultConfig()
	scfg.MinLevel = model.LevelDebug
	scfg.KV = kv
	scfg.Clock = clk
	scfg.Logger = logger
	store := logstore.New(scfg)
	t.Cleanup(store.Close)

	gcfg := gate.DefaultConfig()
	gcfg.Clock = clk
	gcfg.Logger = logger
	g := gate.New(gcfg)
	t.Cleanup(g.Close)

	tcfg := alerting.DefaultConfig()
	tcfg.Clock = clk
	tcfg.Logger = logger
	tr := alerting.New(tcfg)
	t.Cleanup(tr.Close)

	c := capture.New(capture.Config{Store: store, Gate: g, Tracker: tr, Clock: clk, Logger: logger})
	hub := capture.NewHub(logger)
	c.Install(hub)

	srv := NewServer(Config{
		Reader:    inspect.New(store, c),
		Capture:   c,
		Hub:       hub,
		StaticDir: staticDir,
		Storage:   kv,
		Clock:     clk,
		Logger:    logger,
	})
	return &testEnv{handler: srv.Handler(), store: store, kv: kv, capture: c, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t, "")
	env.store.Append(model.LevelInfo, "boot", nil, nil)
	env.clock.Advance(90 * time.Second)

	w := env.do(t, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["log_count"] != 1.0 || body["uptime"] != "1m30s" {
		t.Errorf("health = %v", body)
	}

	storage, ok := body["storage"].(map[string]any)
	if !ok {
		t.Fatalf("health has no storage footprint: %v", body)
	}
	if used, _ := storage["used_bytes"].(float64); used <= 0 {
		t.Errorf("used_bytes = %v, want the persisted snapshot size", storage["used_bytes"])
	}
	if storage["max_value_bytes"] != float64(duckdb.DefaultMaxValueBytes) {
		t.Errorf("max_value_bytes = %v", storage["max_value_bytes"])
	}
	keys, _ := storage["keys"].([]any)
	if len(keys) != 1 || keys[0] != model.StorageKey {
		t.Errorf("keys = %v, want [%s]", storage["keys"], model.StorageKey)
	}
}

func TestHealthIgnoresForeignKeys(t *testing.T) {
	env := newTestServer(t, "")
	if err := env.kv.Set("employees", []byte(`{"owner":"host"}`)); err != nil {
		t.Fatal(err)
	}

	body := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/health", nil))
	storage := body["storage"].(map[string]any)
	if keys, _ := storage["keys"].([]any); len(keys) != 0 {
		t.Errorf("keys = %v, want only this service's keys", keys)
	}
}

func TestInteractionsEndpoint(t *testing.T) {
	env := newTestServer(t, "")
	for _, target := range []string{"button#save", "a#payroll", "button#export"} {
		env.do(t, http.MethodPost, "/api/interactions", map[string]any{"kind": "click", "target": target})
		env.clock.Advance(time.Second)
	}

	w := env.do(t, http.MethodGet, "/api/interactions?count=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[[]model.Interaction](t, w)
	if len(got) != 2 || got[0].Target != "button#export" || got[1].Target != "a#payroll" {
		t.Errorf("interactions = %+v, want the two most recent, newest first", got)
	}

	if w := env.do(t, http.MethodGet, "/api/interactions?count=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("negative count status = %d", w.Code)
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	env := newTestServer(t, "")
	w := env.do(t, http.MethodPost, "/api/health", nil)
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestLogsEndpoint(t *testing.T) {
	env := newTestServer(t, "")
	env.store.Append(model.LevelInfo, "payroll loaded", nil, nil)
	env.clock.Advance(time.Minute)
	env.store.Append(model.LevelError, "payroll save failed", nil, nil)
	env.clock.Advance(time.Minute)
	env.store.Append(model.LevelWarn, "slow employees query", nil, nil)

	tests := []struct {
		query string
		code  int
		want  []string
	}{
		{"", http.StatusOK, []string{"slow employees query", "payroll save failed", "payroll loaded"}},
		{"?level=warn", http.StatusOK, []string{"slow employees query", "payroll save failed"}},
		{"?keyword=PAYROLL", http.StatusOK, []string{"payroll save failed", "payroll loaded"}},
		{"?limit=1", http.StatusOK, []string{"slow employees query"}},
		{"?start=2026-03-02T09:01:00Z&end=2026-03-02T09:01:30Z", http.StatusOK, []string{"payroll save failed"}},
		{"?level=loud", http.StatusBadRequest, nil},
		{"?start=yesterday", http.StatusBadRequest, nil},
		{"?limit=-3", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/logs"+tt.query, nil)
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.code, w.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			body := decode[struct {
				Logs  []model.LogEntry `json:"logs"`
				Count int              `json:"count"`
			}](t, w)
			var got []string
			for _, e := range body.Logs {
				got = append(got, e.Message)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || body.Count != len(tt.want) {
				t.Errorf("logs = %q (count %d), want %q", got, body.Count, tt.want)
			}
		})
	}
}

func TestRecentErrorsEndpoint(t *testing.T) {
	env := newTestServer(t, "")
	for _, lvl := range []model.Level{model.LevelError, model.LevelInfo, model.LevelFatal, model.LevelError} {
		env.store.Append(lvl, lvl.String(), nil, nil)
	}

	w := env.do(t, http.MethodGet, "/api/errors/recent?count=2", nil)
	body := decode[struct {
		Errors []model.LogEntry `json:"errors"`
	}](t, w)
	if len(body.Errors) != 2 || body.Errors[0].Level != model.LevelError || body.Errors[1].Level != model.LevelFatal {
		t.Errorf("errors = %+v", body.Errors)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestServer(t, "")
	env.capture.Submit(capture.NewReport(model.ReportManual, "a"))
	env.capture.Submit(capture.NewReport(model.ReportManual, "a"))

	w := env.do(t, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[struct {
		Logs        model.StoreStats          `json:"logs"`
		Errors      model.ErrorStats          `json:"errors"`
		Performance model.PerformanceSnapshot `json:"performance"`
	}](t, w)
	if body.Logs.TotalCount != 1 || body.Errors.TotalErrors != 1 || body.Errors.CacheSize != 1 {
		t.Errorf("stats = %+v", body)
	}
	if body.Performance.At.IsZero() {
		t.Errorf("performance = %+v", body.Performance)
	}
}

func TestExportEndpoint(t *testing.T) {
	env := newTestServer(t, "")
	env.store.Append(model.LevelError, "export me", nil, nil)
	env.store.Append(model.LevelDebug, "not me", nil, nil)

	w := env.do(t, http.MethodGet, "/api/export?level=error", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="kdv-logs-20260302-090000.json"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	doc, err := logstore.DecodeExport(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 1 || doc.Logs[0].Message != "export me" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestClearRequiresConfirm(t *testing.T) {
	env := newTestServer(t, "")
	env.store.Append(model.LevelError, "x", nil, nil)

	if w := env.do(t, http.MethodDelete, "/api/logs", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unconfirmed clear = %d, want 400", w.Code)
	}
	if env.store.Len() != 1 {
		t.Fatal("unconfirmed clear removed entries")
	}

	if w := env.do(t, http.MethodDelete, "/api/logs?confirm=true", nil); w.Code != http.StatusNoContent {
		t.Errorf("confirmed clear = %d, want 204", w.Code)
	}
	if env.store.Len() != 0 {
		t.Errorf("Len = %d after clear", env.store.Len())
	}
	if _, err := env.kv.Get(model.StorageKey); !errors.Is(err, duckdb.ErrNotFound) {
		t.Errorf("persisted snapshot after clear: %v", err)
	}
}

func TestReportEndpoint(t *testing.T) {
	env := newTestServer(t, "")

	env.do(t, http.MethodPost, "/api/interactions", map[string]any{"kind": "click", "target": "button#save"})
	w := env.do(t, http.MethodPost, "/api/report", map[string]any{
		"message":  "TypeError: cannot read id",
		"source":   "app.js:42",
		"metadata": map[string]any{"route": "/employees"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}

	e := logstore.Collect(env.store.Query(model.LogFilter{}), 1)[0]
	if e.Message != "TypeError: cannot read id" || e.Metadata["route"] != "/employees" || e.Metadata["source"] != "app.js:42" {
		t.Errorf("entry = %+v", e)
	}
	trail, _ := e.Metadata["recentInteractions"].([]model.Interaction)
	if len(trail) != 1 || trail[0].Target != "button#save" {
		t.Errorf("trail = %+v", trail)
	}

	// The duplicate is accepted but not stored.
	w = env.do(t, http.MethodPost, "/api/report", map[string]any{"message": "TypeError: cannot read id", "source": "app.js:42"})
	if w.Code != http.StatusAccepted {
		t.Errorf("duplicate status = %d", w.Code)
	}

	if w := env.do(t, http.MethodPost, "/api/report", map[string]any{"metadata": map[string]any{}}); w.Code != http.StatusBadRequest {
		t.Errorf("missing message status = %d", w.Code)
	}
}

func TestStaticResourceFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := newTestServer(t, dir)

	if w := env.do(t, http.MethodGet, "/static/app.css", nil); w.Code != http.StatusOK {
		t.Fatalf("present asset = %d", w.Code)
	}
	if env.store.Len() != 0 {
		t.Fatal("served asset produced a report")
	}

	if w := env.do(t, http.MethodGet, "/static/app.js", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing asset = %d", w.Code)
	}
	e := logstore.Collect(env.store.Query(model.LogFilter{}), 1)
	if len(e) != 1 || e[0].Message != "resource load failed: SCRIPT" {
		t.Errorf("entries = %+v", e)
	}
}
