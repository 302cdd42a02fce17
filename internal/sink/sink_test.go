package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/man4korea/kdv-erp/internal/model"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

func testEntry() model.LogEntry {
	return model.LogEntry{
		ID:        "0b6f1c1e-6a4d-4a53-9a43-5a7f1b2a9c11",
		Timestamp: time.Date(2026, 3, 2, 9, 15, 30, 250_000_000, time.UTC),
		Level:     model.LevelError,
		Message:   "employee save failed",
		Metadata:  map[string]any{"route": "/employees", "attempt": 2, "retry": false},
		Error:     &model.ErrorDetail{Name: "TypeError", Message: "id is undefined", Stack: "at save (employees.js:42)"},
	}
}

type fakeSink struct {
	mu      sync.Mutex
	entries []model.LogEntry
	err     error
	block   chan struct{}
	closed  bool
}

func (f *fakeSink) WriteEntry(_ context.Context, e model.LogEntry) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return f.err
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestConsoleRender(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	if err := c.WriteEntry(context.Background(), testEntry()); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"09:15:30.250",
		"ERROR",
		"employee save failed",
		"attempt=2",
		"route=/employees",
		"TypeError: id is undefined",
		"at save (employees.js:42)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Metadata keys are sorted.
	if strings.Index(out, "attempt=") > strings.Index(out, "route=") {
		t.Errorf("metadata not in key order:\n%s", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("line not newline terminated")
	}
}

func TestMultiContinuesAfterFailure(t *testing.T) {
	bad := &fakeSink{err: errors.New("down")}
	good := &fakeSink{}
	m := NewMulti(bad, nil, good)

	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2 (nil skipped)", m.Len())
	}
	err := m.WriteEntry(context.Background(), testEntry())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("err = %v, want joined failure", err)
	}
	if good.count() != 1 {
		t.Error("second sink did not receive the entry")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !bad.closed || !good.closed {
		t.Error("Close not propagated")
	}
}

func TestAsyncDeliversAndDrains(t *testing.T) {
	inner := &fakeSink{}
	a := NewAsync(inner, WithQueueSize(16))

	for range 10 {
		if err := a.WriteEntry(context.Background(), testEntry()); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if inner.count() != 10 {
		t.Errorf("delivered %d, want 10", inner.count())
	}
	if !inner.closed {
		t.Error("inner sink not closed")
	}
	if delivered, failed, dropped := a.Counts(); delivered != 10 || failed != 0 || dropped != 0 {
		t.Errorf("Counts = %d/%d/%d", delivered, failed, dropped)
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	inner := &fakeSink{block: make(chan struct{})}
	a := NewAsync(inner, WithQueueSize(2), WithDrainTimeout(time.Second))

	// One entry is held by the blocked worker, two fill the queue.
	var dropped int
	for range 10 {
		done := make(chan error, 1)
		go func() { done <- a.WriteEntry(context.Background(), testEntry()) }()
		select {
		case err := <-done:
			if errors.Is(err, ErrQueueFull) {
				dropped++
			}
		case <-time.After(time.Second):
			t.Fatal("WriteEntry blocked")
		}
	}
	if dropped < 7 {
		t.Errorf("dropped = %d, want at least 7", dropped)
	}

	close(inner.block)
	a.Close()
	if err := a.WriteEntry(context.Background(), testEntry()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("WriteEntry after Close = %v, want ErrQueueFull", err)
	}
}

func TestAsyncFailureIsNotRetried(t *testing.T) {
	inner := &fakeSink{err: errors.New("503")}
	a := NewAsync(inner)
	a.WriteEntry(context.Background(), testEntry())
	a.Close()

	if inner.count() != 1 {
		t.Errorf("inner saw %d attempts, want 1", inner.count())
	}
	if _, failed, _ := a.Counts(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var got map[string]any
	var contentType, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithHeaders(map[string]string{"Authorization": "Bearer t"}))
	if err := w.WriteEntry(context.Background(), testEntry()); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if contentType != "application/json" || auth != "Bearer t" {
		t.Errorf("headers = %q, %q", contentType, auth)
	}
	if got["message"] != "employee save failed" || got["level"] != "ERROR" {
		t.Errorf("body = %v", got)
	}
}

func TestWebhookReportsHTTPError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).WriteEntry(context.Background(), testEntry())
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want HTTP 503", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestLogRecord(t *testing.T) {
	rec := LogRecord(testEntry())

	if rec.GetSeverityNumber() != logspb.SeverityNumber_SEVERITY_NUMBER_ERROR {
		t.Errorf("SeverityNumber = %v", rec.GetSeverityNumber())
	}
	if rec.GetSeverityText() != "ERROR" {
		t.Errorf("SeverityText = %q", rec.GetSeverityText())
	}
	if rec.GetBody().GetStringValue() != "employee save failed" {
		t.Errorf("Body = %v", rec.GetBody())
	}
	if rec.GetTimeUnixNano() != uint64(testEntry().Timestamp.UnixNano()) {
		t.Errorf("TimeUnixNano = %d", rec.GetTimeUnixNano())
	}

	attrs := map[string]string{}
	var order []string
	for _, kv := range rec.GetAttributes() {
		order = append(order, kv.GetKey())
		if v := kv.GetValue().GetStringValue(); v != "" {
			attrs[kv.GetKey()] = v
		}
	}
	if attrs["exception.type"] != "TypeError" || attrs["exception.stacktrace"] == "" {
		t.Errorf("exception attributes = %v", attrs)
	}
	if attrs["log.record.uid"] != testEntry().ID {
		t.Errorf("log.record.uid = %q", attrs["log.record.uid"])
	}
	want := []string{"log.record.uid", "attempt", "retry", "route", "exception.type", "exception.message", "exception.stacktrace"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("attribute order = %v, want %v", order, want)
	}
	for _, kv := range rec.GetAttributes() {
		if kv.GetKey() == "attempt" && kv.GetValue().GetIntValue() != 2 {
			t.Errorf("attempt = %v, want int 2", kv.GetValue())
		}
	}
}

func TestOTLPHTTPExport(t *testing.T) {
	var req collogspb.ExportLogsServiceRequest
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := proto.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exp := NewOTLPHTTP(srv.URL+"/v1/logs", Resource{ServiceName: "kdv-erp", PID: 42})
	if err := exp.WriteEntry(context.Background(), testEntry()); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if contentType != protobufType {
		t.Errorf("Content-Type = %q", contentType)
	}
	rl := req.GetResourceLogs()
	if len(rl) != 1 || len(rl[0].GetScopeLogs()) != 1 || len(rl[0].GetScopeLogs()[0].GetLogRecords()) != 1 {
		t.Fatalf("unexpected request shape: %v", &req)
	}
	attrs := rl[0].GetResource().GetAttributes()
	if len(attrs) != 2 || attrs[0].GetKey() != "service.name" || attrs[1].GetValue().GetIntValue() != 42 {
		t.Errorf("resource attributes = %v", attrs)
	}
}

type logsServer struct {
	collogspb.UnimplementedLogsServiceServer
	mu       sync.Mutex
	received []*collogspb.ExportLogsServiceRequest
}

func (s *logsServer) Export(_ context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, req)
	return &collogspb.ExportLogsServiceResponse{}, nil
}

func TestOTLPGRPCExport(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	impl := &logsServer{}
	collogspb.RegisterLogsServiceServer(srv, impl)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	exp, err := NewOTLPGRPC(lis.Addr().String(), Resource{ServiceName: "kdv-erp"}, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOTLPGRPC: %v", err)
	}
	defer exp.Close()

	if err := exp.WriteEntry(context.Background(), testEntry()); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	impl.mu.Lock()
	defer impl.mu.Unlock()
	if len(impl.received) != 1 {
		t.Fatalf("server received %d requests, want 1", len(impl.received))
	}
	rec := impl.received[0].GetResourceLogs()[0].GetScopeLogs()[0].GetLogRecords()[0]
	if rec.GetBody().GetStringValue() != "employee save failed" {
		t.Errorf("body = %v", rec.GetBody())
	}
}

func TestNewRemote(t *testing.T) {
	tests := []struct {
		cfg     RemoteConfig
		wantNil bool
		wantErr bool
	}{
		{cfg: RemoteConfig{}, wantNil: true},
		{cfg: RemoteConfig{Endpoint: "http://x/logs"}},
		{cfg: RemoteConfig{Endpoint: "http://x/logs", Protocol: ProtocolJSON}},
		{cfg: RemoteConfig{Endpoint: "http://x/v1/logs", Protocol: ProtocolOTLPHTTP}},
		{cfg: RemoteConfig{Endpoint: "localhost:4317", Protocol: ProtocolOTLPGRPC}},
		{cfg: RemoteConfig{Endpoint: " , "}, wantNil: true},
		{cfg: RemoteConfig{Endpoint: "x", Protocol: "carrier-pigeon"}, wantNil: true, wantErr: true},
		{cfg: RemoteConfig{Endpoint: "x,y", Protocol: "carrier-pigeon"}, wantNil: true, wantErr: true},
	}
	for _, tt := range tests {
		s, err := NewRemote(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewRemote(%+v) err = %v", tt.cfg, err)
		}
		if (s == nil) != tt.wantNil {
			t.Errorf("NewRemote(%+v) sink = %v", tt.cfg, s)
		}
		if s != nil {
			s.Close()
		}
	}
}

func TestNewRemoteFansOutEndpoints(t *testing.T) {
	s, err := NewRemote(RemoteConfig{Endpoint: "http://a/logs, http://b/logs,,"})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m, ok := s.(*Multi)
	if !ok {
		t.Fatalf("sink = %T, want *Multi", s)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}

	single, err := NewRemote(RemoteConfig{Endpoint: "http://a/logs"})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	t.Cleanup(func() { single.Close() })
	if _, ok := single.(*Webhook); !ok {
		t.Errorf("single endpoint sink = %T, want *Webhook", single)
	}
}

func TestSplitEndpoints(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"http://a", []string{"http://a"}},
		{" http://a , http://b ,", []string{"http://a", "http://b"}},
	}
	for _, tt := range tests {
		if got := SplitEndpoints(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("SplitEndpoints(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
