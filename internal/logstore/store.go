// Package logstore holds the bounded, in-memory history of log entries with
// FIFO eviction, an age-based sweep and a persisted snapshot.
package logstore

import (
	"context"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
)

// Limits are the tunables that may change while the store is running.
type Limits struct {
	// MinLevel is the lowest level Append accepts. The zero value (DEBUG)
	// accepts everything.
	MinLevel   model.Level
	MaxEntries int
	Retention  time.Duration
}

// Config configures a Store.
type Config struct {
	Limits

	// SweepInterval is how often entries older than Retention are evicted.
	SweepInterval time.Duration

	// KV receives the persisted snapshot under StorageKey. Nil disables
	// persistence.
	KV         model.KVStore
	StorageKey string
	// PersistInterval batches snapshot writes. Zero writes synchronously
	// after every mutation.
	PersistInterval time.Duration

	// Console mirrors every stored entry in human-readable form.
	Console model.EntryWriter
	// Remote receives every stored entry for delivery to a collector. It
	// must not block.
	Remote model.EntryWriter

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the stock configuration without persistence or sinks.
func DefaultConfig() Config {
	return Config{
		Limits: Limits{
			MinLevel:   model.DefaultMinLevel,
			MaxEntries: model.DefaultMaxEntries,
			Retention:  model.DefaultRetention,
		},
		SweepInterval: model.DefaultSweepInterval,
		StorageKey:    model.StorageKey,
	}
}

// Store is the capacity-bounded log history.
type Store struct {
	mu          sync.RWMutex
	limits      Limits
	entries     []model.LogEntry // oldest first
	version     uint64
	startedAt   time.Time
	lastCleanup time.Time

	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	flushMu          sync.Mutex
	persistedVersion uint64
	persistFailing   bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a store, restores the persisted snapshot when one exists, runs
// a startup sweep and starts the background sweep and flush loops.
func New(cfg Config) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = model.DefaultMaxEntries
	}
	if cfg.Retention <= 0 {
		cfg.Retention = model.DefaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = model.DefaultSweepInterval
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = model.StorageKey
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Store{
		limits:    cfg.Limits,
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		startedAt: cfg.Clock.Now(),
		done:      make(chan struct{}),
	}

	s.restore()
	// Startup sweep to drop entries that expired while the process was down.
	s.Sweep()

	// Tickers exist before New returns.
	s.wg.Add(1)
	go s.sweepLoop(s.clock.NewTicker(cfg.SweepInterval))
	if cfg.KV != nil && cfg.PersistInterval > 0 {
		s.wg.Add(1)
		go s.flushLoop(s.clock.NewTicker(cfg.PersistInterval))
	}
	return s
}

// Append stores a new entry. It returns false without storing anything when
// level is below the configured minimum.
func (s *Store) Append(level model.Level, message string, metadata map[string]any, detail *model.ErrorDetail) (model.LogEntry, bool) {
	s.mu.Lock()
	if level < s.limits.MinLevel {
		s.mu.Unlock()
		return model.LogEntry{}, false
	}

	entry := model.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: s.clock.Now(),
		Level:     level,
		Message:   message,
		Metadata:  cloneMetadata(metadata),
	}
	if detail != nil {
		d := *detail
		entry.Error = &d
	}

	if over := len(s.entries) - s.limits.MaxEntries + 1; over > 0 {
		s.evictOldestLocked(over)
	}
	s.entries = append(s.entries, entry)
	s.version++
	s.mu.Unlock()

	if s.cfg.KV != nil && s.cfg.PersistInterval <= 0 {
		s.Flush()
	}
	s.mirror(entry)
	return entry, true
}

func (s *Store) evictOldestLocked(n int) {
	if n >= len(s.entries) {
		clear(s.entries)
		s.entries = s.entries[:0]
		return
	}
	kept := copy(s.entries, s.entries[n:])
	clear(s.entries[kept:])
	s.entries = s.entries[:kept]
}

// mirror sends entry to the console sink, then to the remote sink. Neither
// may fail or block the append.
func (s *Store) mirror(entry model.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("logstore: sink panicked", "panic", r)
		}
	}()
	ctx := context.Background()
	if s.cfg.Console != nil {
		_ = s.cfg.Console.WriteEntry(ctx, entry)
	}
	if s.cfg.Remote != nil {
		if err := s.cfg.Remote.WriteEntry(ctx, entry); err != nil {
			s.logger.Debug("logstore: remote delivery not queued", "id", entry.ID, "error", err)
		}
	}
}

// Query returns the entries matching every set predicate of filter, most
// recent first. Each range over the sequence re-reads the current contents.
func (s *Store) Query(filter model.LogFilter) iter.Seq[model.LogEntry] {
	keyword := strings.ToLower(filter.Keyword)
	return func(yield func(model.LogEntry) bool) {
		s.mu.RLock()
		snapshot := slices.Clone(s.entries)
		s.mu.RUnlock()

		for i := len(snapshot) - 1; i >= 0; i-- {
			e := snapshot[i]
			if !matches(e, filter, keyword) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

func matches(e model.LogEntry, f model.LogFilter, lowerKeyword string) bool {
	if e.Level < f.MinLevel {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if lowerKeyword != "" && !strings.Contains(strings.ToLower(e.Message), lowerKeyword) {
		return false
	}
	return true
}

// Collect drains seq into a slice, stopping after limit items when limit > 0.
func Collect(seq iter.Seq[model.LogEntry], limit int) []model.LogEntry {
	out := []model.LogEntry{}
	for e := range seq {
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats summarizes the store contents relative to the current time.
func (s *Store) Stats() model.StoreStats {
	now := s.clock.Now()
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := model.StoreStats{
		TotalCount:  len(s.entries),
		StartedAt:   s.startedAt,
		LastCleanup: s.lastCleanup,
	}
	for _, e := range s.entries {
		switch {
		case e.Level >= model.LevelError:
			st.ErrorCount++
		case e.Level == model.LevelWarn:
			st.WarnCount++
		}
		if e.Timestamp.After(hourAgo) {
			st.RecentCount++
		}
		if e.Timestamp.After(dayAgo) {
			st.DailyCount++
		}
	}
	return st
}

// Clear removes every entry and the persisted snapshot.
func (s *Store) Clear() {
	// flushMu is taken first so a concurrent flush cannot rewrite the
	// snapshot between the reset and the removal.
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	clear(s.entries)
	s.entries = s.entries[:0]
	s.version++
	cleared := s.version
	s.mu.Unlock()

	if s.cfg.KV == nil {
		return
	}
	if err := s.cfg.KV.Remove(s.cfg.StorageKey); err != nil {
		s.logger.Warn("logstore: removing persisted snapshot failed", "error", err)
		return
	}
	s.persistedVersion = cleared
}

// Limits returns the active limits.
func (s *Store) Limits() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// UpdateConfig replaces the active limits. A smaller MaxEntries evicts the
// oldest entries immediately. Non-positive values keep the current setting.
func (s *Store) UpdateConfig(l Limits) {
	s.mu.Lock()
	if l.MaxEntries <= 0 {
		l.MaxEntries = s.limits.MaxEntries
	}
	if l.Retention <= 0 {
		l.Retention = s.limits.Retention
	}
	s.limits = l
	if over := len(s.entries) - l.MaxEntries; over > 0 {
		s.evictOldestLocked(over)
		s.version++
	}
	s.mu.Unlock()
}

// Close stops the background loops and writes a final snapshot. It is safe
// to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		if s.cfg.KV != nil {
			s.Flush()
		}
	})
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
