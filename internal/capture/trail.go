package capture

import (
	"sync"

	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
)

const (
	trailSize     = 10
	reportedTrail = 5
)

// Trail keeps the most recent user interactions.
type Trail struct {
	mu    sync.Mutex
	items []model.Interaction // most recent first
	clock clock.Clock
}

func newTrail(clk clock.Clock) *Trail {
	return &Trail{clock: clk}
}

// Add records an interaction, evicting the oldest beyond ten.
func (t *Trail) Add(kind, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it := model.Interaction{Kind: kind, Target: target, At: t.clock.Now()}
	t.items = append([]model.Interaction{it}, t.items...)
	if len(t.items) > trailSize {
		t.items = t.items[:trailSize]
	}
}

// Recent returns up to n interactions, most recent first.
func (t *Trail) Recent(n int) []model.Interaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > len(t.items) {
		n = len(t.items)
	}
	out := make([]model.Interaction, n)
	copy(out, t.items)
	return out
}
