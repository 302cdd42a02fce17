package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/man4korea/kdv-erp/internal/model"
)

// Methods. Each maps 1:1 onto model.DashboardReader; results are the JSON
// encoding of the reader's return value, except Export which embeds the
// export document as-is.
const (
	MethodQueryLogs    = "QueryLogs"
	MethodRecentErrors = "RecentErrors"
	MethodLogStats     = "LogStats"
	MethodErrorStats   = "ErrorStats"
	MethodPerformance  = "Performance"
	MethodExport       = "Export"
	MethodClearLogs    = "ClearLogs"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

// QueryLogsParams may be omitted; the zero filter matches everything and a
// zero limit returns every match.
type QueryLogsParams struct {
	Filter model.LogFilter `json:"filter"`
	Limit  int             `json:"limit,omitempty"`
}

type RecentErrorsParams struct {
	Count int `json:"count,omitempty"`
}

type ExportParams struct {
	Filter model.LogFilter `json:"filter"`
}

// ClearLogsParams must carry Confirm: true; anything else is rejected as
// invalid params.
type ClearLogsParams struct {
	Confirm bool `json:"confirm"`
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/kdvwatch/kdvwatch.sock, falling back to
// ~/.local/state/kdvwatch/kdvwatch.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "kdvwatch", "kdvwatch.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/kdvwatch.sock"
	}
	return filepath.Join(home, ".local", "state", "kdvwatch", "kdvwatch.sock")
}
