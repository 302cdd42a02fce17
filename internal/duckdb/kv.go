package duckdb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/man4korea/kdv-erp/internal/model"
)

// Sentinel errors shared with other model.KVStore implementations.
var (
	ErrNotFound      = model.ErrKeyNotFound
	ErrQuotaExceeded = model.ErrQuotaExceeded
)

var _ model.KVStore = (*Store)(nil)

// Get returns the value stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("duckdb: get %s: %w", key, err)
	}
	return []byte(value), nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(value) > s.maxValueBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrQuotaExceeded, len(value), s.maxValueBytes)
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO kv (key, value, size_bytes, updated_at) VALUES (?, ?, ?, current_timestamp)",
		key, string(value), len(value),
	)
	if err != nil {
		return fmt.Errorf("duckdb: set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("duckdb: remove %s: %w", key, err)
	}
	return nil
}

// Keys lists keys that start with prefix, sorted.
func (s *Store) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv WHERE starts_with(key, ?) ORDER BY key", prefix)
	if err != nil {
		return nil, fmt.Errorf("duckdb: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UsedBytes returns the total size of all stored values.
func (s *Store) UsedBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	// SUM over BIGINT widens to HUGEINT; cast back so it scans into int64.
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT CAST(COALESCE(SUM(size_bytes), 0) AS BIGINT) FROM kv").Scan(&total); err != nil {
		return 0, fmt.Errorf("duckdb: used bytes: %w", err)
	}
	return total, nil
}
