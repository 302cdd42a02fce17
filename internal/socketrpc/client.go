package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/man4korea/kdv-erp/internal/model"
)

const callTimeout = 30 * time.Second

// Client implements model.DashboardReader over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

var _ model.DashboardReader = (*Client)(nil)

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	var paramsData json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("socketrpc: marshal params: %w", err)
		}
		paramsData = data
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(callTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) QueryLogs(filter model.LogFilter, limit int) ([]model.LogEntry, error) {
	var result []model.LogEntry
	err := c.call(MethodQueryLogs, QueryLogsParams{Filter: filter, Limit: limit}, &result)
	return result, err
}

func (c *Client) RecentErrors(count int) ([]model.LogEntry, error) {
	var result []model.LogEntry
	err := c.call(MethodRecentErrors, RecentErrorsParams{Count: count}, &result)
	return result, err
}

func (c *Client) LogStats() (model.StoreStats, error) {
	var result model.StoreStats
	err := c.call(MethodLogStats, nil, &result)
	return result, err
}

func (c *Client) ErrorStats() (model.ErrorStats, error) {
	var result model.ErrorStats
	err := c.call(MethodErrorStats, nil, &result)
	return result, err
}

func (c *Client) Performance() (model.PerformanceSnapshot, error) {
	var result model.PerformanceSnapshot
	err := c.call(MethodPerformance, nil, &result)
	return result, err
}

// Export returns the export document exactly as the server encoded it.
func (c *Client) Export(filter model.LogFilter) ([]byte, error) {
	var result json.RawMessage
	err := c.call(MethodExport, ExportParams{Filter: filter}, &result)
	return result, err
}

// ClearLogs sends the confirmation the server requires. Callers confirm with
// the operator first.
func (c *Client) ClearLogs() error {
	return c.call(MethodClearLogs, ClearLogsParams{Confirm: true}, nil)
}
