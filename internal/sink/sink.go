// Package sink holds the destinations a stored log entry is mirrored to:
// the human-readable console, and the remote collectors.
package sink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/man4korea/kdv-erp/internal/model"
)

// ErrQueueFull is returned by Async.WriteEntry when the entry was dropped.
var ErrQueueFull = errors.New("sink: delivery queue full")

// Sink is a destination for stored entries.
type Sink interface {
	model.EntryWriter
	Close() error
}

// Remote protocols accepted by NewRemote.
const (
	ProtocolJSON     = "json"
	ProtocolOTLPHTTP = "otlp-http"
	ProtocolOTLPGRPC = "otlp-grpc"
)

// RemoteConfig selects and configures the remote collector sink.
type RemoteConfig struct {
	Endpoint string
	Protocol string
	Timeout  time.Duration
	Headers  map[string]string
	Resource Resource
}

// NewRemote builds the sink for cfg.Protocol. Endpoint may list several
// collectors separated by commas; they share the protocol and are fed through
// a Multi. An empty endpoint yields a nil sink and no error.
func NewRemote(cfg RemoteConfig) (Sink, error) {
	endpoints := SplitEndpoints(cfg.Endpoint)
	if len(endpoints) == 0 {
		return nil, nil
	}

	sinks := make([]Sink, 0, len(endpoints))
	for _, endpoint := range endpoints {
		s, err := newRemoteOne(endpoint, cfg)
		if err != nil {
			_ = NewMulti(sinks...).Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMulti(sinks...), nil
}

// SplitEndpoints splits a comma-separated endpoint list, dropping blanks.
func SplitEndpoints(list string) []string {
	var out []string
	for _, e := range strings.Split(list, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func newRemoteOne(endpoint string, cfg RemoteConfig) (Sink, error) {
	switch cfg.Protocol {
	case "", ProtocolJSON:
		return NewWebhook(endpoint, WithTimeout(cfg.Timeout), WithHeaders(cfg.Headers)), nil
	case ProtocolOTLPHTTP:
		return NewOTLPHTTP(endpoint, cfg.Resource, WithTimeout(cfg.Timeout), WithHeaders(cfg.Headers)), nil
	case ProtocolOTLPGRPC:
		exp, err := NewOTLPGRPC(endpoint, cfg.Resource, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("sink: unknown remote protocol %q", cfg.Protocol)
	}
}
