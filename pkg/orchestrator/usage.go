package orchestrator

import (
	"sync"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
)

// usageTracker accumulates token usage per unit id plus a session total.
// Hooks fire from the runner goroutine, but the tracker is shared with
// whichever goroutine assembles the result, so it stays guarded.
type usageTracker struct {
	mu     sync.Mutex
	byUnit map[string]provider.Usage
	total  provider.Usage
}

func newUsageTracker() *usageTracker {
	return &usageTracker{byUnit: map[string]provider.Usage{}}
}

func (t *usageTracker) record(unitID string, usage provider.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	unit := t.byUnit[unitID]
	unit.Add(usage)
	t.byUnit[unitID] = unit
	t.total.Add(usage)
}

func (t *usageTracker) snapshot() provider.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *usageTracker) unitUsage(unitID string) provider.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byUnit[unitID]
}
