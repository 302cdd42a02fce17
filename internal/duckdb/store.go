package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/man4korea/kdv-erp/internal/duckdb/migrate"
)

// DefaultMaxValueBytes is the size ceiling applied to a single value.
const DefaultMaxValueBytes = 4 << 20

const defaultQueryTimeout = 30 * time.Second

// Store is a key/value document store backed by DuckDB. The table is shared
// with the rest of the host application; callers namespace their keys.
type Store struct {
	db            *sql.DB
	mu            sync.RWMutex
	maxValueBytes int
	QueryTimeout  time.Duration
}

// NewStore opens or creates a DuckDB database and brings its schema up to
// date. If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("duckdb: create directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open %q: %w", dbPath, err)
	}

	qt := defaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}
	s := &Store{db: db, maxValueBytes: DefaultMaxValueBytes, QueryTimeout: qt}

	migs, err := migrate.Embedded()
	if err == nil {
		ctx, cancel := s.queryCtx()
		_, err = migrate.Apply(ctx, db, migs, nil)
		cancel()
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetMaxValueBytes changes the per-value size ceiling. Values <= 0 restore the default.
func (s *Store) SetMaxValueBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		n = DefaultMaxValueBytes
	}
	s.maxValueBytes = n
}

// MaxValueBytes returns the per-value size ceiling.
func (s *Store) MaxValueBytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxValueBytes
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}
