package model

import (
	"context"
	"errors"
)

// EntryWriter receives a copy of every stored entry.
type EntryWriter interface {
	WriteEntry(ctx context.Context, entry LogEntry) error
}

// DashboardReader is the read contract shared by the dashboard, the HTTP API
// and the socket RPC server. ClearLogs is the only mutating call and is
// always gated behind an explicit confirmation by the caller.
type DashboardReader interface {
	QueryLogs(filter LogFilter, limit int) ([]LogEntry, error)
	RecentErrors(count int) ([]LogEntry, error)
	LogStats() (StoreStats, error)
	ErrorStats() (ErrorStats, error)
	Performance() (PerformanceSnapshot, error)
	Export(filter LogFilter) ([]byte, error)
	ClearLogs() error
}

// UserIdentifier is provided by the authentication layer.
type UserIdentifier interface {
	CurrentUserID() string
}

// Anonymous is the identifier used when no user is signed in.
const Anonymous = "anonymous"

// UserFunc adapts a function to UserIdentifier.
type UserFunc func() string

func (f UserFunc) CurrentUserID() string {
	if f == nil {
		return Anonymous
	}
	if id := f(); id != "" {
		return id
	}
	return Anonymous
}

var (
	// ErrKeyNotFound is returned by KVStore.Get when the key has no value.
	ErrKeyNotFound = errors.New("kv: key not found")
	// ErrQuotaExceeded is returned by KVStore.Set when the value is larger
	// than the medium accepts.
	ErrQuotaExceeded = errors.New("kv: value exceeds storage quota")
)

// KVStore is a persistent key/value medium shared with the rest of the
// host application. Users must namespace their keys.
type KVStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
}
