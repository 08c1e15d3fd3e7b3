package fifo

import (
	"context"
	"sync"
	"time"
)

// DedupIndex tracks dedup ids over a bounded recent window. Remember
// returns true the first time an id is seen inside the window.
type DedupIndex interface {
	Remember(ctx context.Context, id string) (bool, error)
}

const defaultDedupWindow = 5 * time.Minute

// MemoryDedupIndex is the single-process index. Expired entries are
// evicted lazily on access.
type MemoryDedupIndex struct {
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryDedupIndex(window time.Duration) *MemoryDedupIndex {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &MemoryDedupIndex{window: window, seen: map[string]time.Time{}}
}

func (m *MemoryDedupIndex) Remember(_ context.Context, id string) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.seen) > 4096 {
		for k, t := range m.seen {
			if now.Sub(t) >= m.window {
				delete(m.seen, k)
			}
		}
	}

	if t, ok := m.seen[id]; ok && now.Sub(t) < m.window {
		return false, nil
	}
	m.seen[id] = now
	return true, nil
}
