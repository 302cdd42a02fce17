package sink

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/man4korea/kdv-erp/internal/logparse"
	"github.com/man4korea/kdv-erp/internal/model"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

const (
	scopeName    = "github.com/man4korea/kdv-erp/internal/capture"
	serviceName  = "kdv-erp"
	protobufType = "application/x-protobuf"
)

// Resource describes the process the exported records come from.
type Resource struct {
	ServiceName    string
	ServiceVersion string
	HostName       string
	PID            int
}

// DefaultResource describes the current process.
func DefaultResource(version string) Resource {
	host, _ := os.Hostname()
	return Resource{
		ServiceName:    serviceName,
		ServiceVersion: version,
		HostName:       host,
		PID:            os.Getpid(),
	}
}

// NewExportRequest wraps entries into an OTLP logs export request.
func NewExportRequest(res Resource, entries ...model.LogEntry) *collogspb.ExportLogsServiceRequest {
	records := make([]*logspb.LogRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, LogRecord(e))
	}

	var attrs []*commonpb.KeyValue
	if res.ServiceName != "" {
		attrs = append(attrs, stringAttr("service.name", res.ServiceName))
	}
	if res.ServiceVersion != "" {
		attrs = append(attrs, stringAttr("service.version", res.ServiceVersion))
	}
	if res.HostName != "" {
		attrs = append(attrs, stringAttr("host.name", res.HostName))
	}
	if res.PID > 0 {
		attrs = append(attrs, &commonpb.KeyValue{Key: "process.pid", Value: anyValue(res.PID)})
	}

	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{Attributes: attrs},
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope:      &commonpb.InstrumentationScope{Name: scopeName, Version: res.ServiceVersion},
				LogRecords: records,
			}},
		}},
	}
}

// LogRecord converts one entry into an OTLP log record. Metadata becomes
// attributes in key order; the error detail uses the exception.* names.
func LogRecord(e model.LogEntry) *logspb.LogRecord {
	ts := uint64(e.Timestamp.UnixNano())
	rec := &logspb.LogRecord{
		TimeUnixNano:         ts,
		ObservedTimeUnixNano: ts,
		SeverityNumber:       logspb.SeverityNumber(logparse.OTELSeverityNumber(e.Level)),
		SeverityText:         e.Level.String(),
		Body:                 anyValue(e.Message),
	}
	rec.Attributes = append(rec.Attributes, stringAttr("log.record.uid", e.ID))

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		rec.Attributes = append(rec.Attributes, &commonpb.KeyValue{Key: k, Value: anyValue(e.Metadata[k])})
	}

	if e.Error != nil {
		rec.Attributes = append(rec.Attributes,
			stringAttr("exception.type", e.Error.Name),
			stringAttr("exception.message", e.Error.Message),
		)
		if e.Error.Stack != "" {
			rec.Attributes = append(rec.Attributes, stringAttr("exception.stacktrace", e.Error.Stack))
		}
	}
	return rec
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: anyValue(value)}
}

func anyValue(v any) *commonpb.AnyValue {
	switch x := v.(type) {
	case string:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: x}}
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: x}}
	case int:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(x)}}
	case int32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(x)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: x}}
	case uint64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(x)}}
	case float64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: x}}
	case nil:
		return &commonpb.AnyValue{}
	default:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: fmt.Sprint(x)}}
	}
}

// OTLPHTTP exports each entry as an OTLP/HTTP protobuf request.
type OTLPHTTP struct {
	client   *http.Client
	endpoint string
	resource Resource
	headers  map[string]string
}

// NewOTLPHTTP creates an exporter posting to endpoint, normally
// http://collector:4318/v1/logs.
func NewOTLPHTTP(endpoint string, res Resource, opts ...WebhookOption) *OTLPHTTP {
	// The webhook options carry the shared HTTP settings.
	w := NewWebhook(endpoint, opts...)
	return &OTLPHTTP{client: w.client, endpoint: endpoint, resource: res, headers: w.headers}
}

func (o *OTLPHTTP) WriteEntry(ctx context.Context, entry model.LogEntry) error {
	body, err := proto.Marshal(NewExportRequest(o.resource, entry))
	if err != nil {
		return fmt.Errorf("otlp: marshal: %w", err)
	}
	return post(ctx, o.client, o.endpoint, protobufType, body, o.headers)
}

func (o *OTLPHTTP) Close() error { return nil }

// OTLPGRPC exports each entry through the OTLP logs gRPC service.
type OTLPGRPC struct {
	conn     *grpc.ClientConn
	client   collogspb.LogsServiceClient
	resource Resource
	timeout  time.Duration
}

// NewOTLPGRPC dials target (host:port) without TLS. The connection is
// established lazily on the first export.
func NewOTLPGRPC(target string, res Resource, timeout time.Duration) (*OTLPGRPC, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("otlp: dial %s: %w", target, err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OTLPGRPC{
		conn:     conn,
		client:   collogspb.NewLogsServiceClient(conn),
		resource: res,
		timeout:  timeout,
	}, nil
}

func (o *OTLPGRPC) WriteEntry(ctx context.Context, entry model.LogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.client.Export(ctx, NewExportRequest(o.resource, entry))
	if err != nil {
		return fmt.Errorf("otlp: export: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedLogRecords() > 0 {
		return fmt.Errorf("otlp: collector rejected %d records: %s", ps.GetRejectedLogRecords(), ps.GetErrorMessage())
	}
	return nil
}

func (o *OTLPGRPC) Close() error { return o.conn.Close() }
