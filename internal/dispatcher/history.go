package dispatcher

import (
	"sync"

	"github.com/breakaway-robotics/executive/api/schemas"
)

// historyRing retains the most recent command results for diagnostics.
// Results in here are historical records: read-only, bounded retention.
type historyRing struct {
	mu    sync.Mutex
	buf   []schemas.CommandResult
	next  int
	count int
}

func newHistoryRing(size int) *historyRing {
	return &historyRing{buf: make([]schemas.CommandResult, size)}
}

func (h *historyRing) Add(result schemas.CommandResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = result
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Snapshot returns retained results oldest first.
func (h *historyRing) Snapshot() []schemas.CommandResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schemas.CommandResult, 0, h.count)
	start := h.next - h.count
	if start < 0 {
		start += len(h.buf)
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}
