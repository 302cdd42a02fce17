package logstore

import "github.com/man4korea/kdv-erp/internal/clock"

func (s *Store) sweepLoop(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.done:
			return
		}
	}
}

// Sweep evicts entries older than the retention horizon and returns how
// many were removed.
func (s *Store) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	cutoff := now.Add(-s.limits.Retention)
	// Entries are in write order, so expired ones form a prefix unless the
	// wall clock was adjusted; scan all of them to be safe.
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(s.entries) - len(kept)
	clear(s.entries[len(kept):])
	s.entries = kept
	s.lastCleanup = now
	if removed > 0 {
		s.version++
	}
	retention := s.limits.Retention
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("logstore: retention sweep removed expired entries", "removed", removed, "retention", retention)
		if s.cfg.KV != nil && s.cfg.PersistInterval <= 0 {
			s.Flush()
		}
	}
	return removed
}
