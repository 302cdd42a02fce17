package logstore

import (
	"encoding/json"
	"errors"
	"slices"

	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
)

func (s *Store) flushLoop(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.done:
			return
		}
	}
}

// Flush writes the current contents to the key/value store when they changed
// since the last successful write. A failed write keeps the in-memory entries
// and is reported once per failure streak.
func (s *Store) Flush() error {
	if s.cfg.KV == nil {
		return nil
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	version := s.version
	if version == s.persistedVersion {
		s.mu.RUnlock()
		return nil
	}
	snapshot := slices.Clone(s.entries)
	s.mu.RUnlock()

	// Persisted newest first.
	slices.Reverse(snapshot)
	data, err := json.Marshal(snapshot)
	if err == nil {
		err = s.cfg.KV.Set(s.cfg.StorageKey, data)
	}
	if err != nil {
		if !s.persistFailing {
			s.logger.Warn("logstore: persisting snapshot failed, keeping entries in memory",
				"key", s.cfg.StorageKey, "entries", len(snapshot), "error", err)
		}
		s.persistFailing = true
		return err
	}
	if s.persistFailing {
		s.logger.Info("logstore: persisting snapshot recovered", "key", s.cfg.StorageKey)
	}
	s.persistFailing = false
	s.persistedVersion = version
	return nil
}

// restore loads the persisted snapshot. A missing or unreadable snapshot
// leaves the store empty.
func (s *Store) restore() {
	if s.cfg.KV == nil {
		return
	}
	data, err := s.cfg.KV.Get(s.cfg.StorageKey)
	if errors.Is(err, model.ErrKeyNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("logstore: reading persisted snapshot failed", "key", s.cfg.StorageKey, "error", err)
		return
	}

	var entries []model.LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("logstore: discarding unreadable snapshot", "key", s.cfg.StorageKey, "error", err)
		return
	}
	slices.Reverse(entries)
	if over := len(entries) - s.limits.MaxEntries; over > 0 {
		entries = entries[over:]
	}
	for i := range entries {
		if entries[i].Metadata == nil {
			entries[i].Metadata = map[string]any{}
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	s.logger.Debug("logstore: restored persisted snapshot", "entries", len(entries))
}
