package pipette

import (
	"sync"
	"time"
)

// DefaultLogCapacity bounds the UI-facing log ring.
const DefaultLogCapacity = 100

// LogRing is a bounded ring of timestamped log lines: append-only from the
// worker, snapshot-read from any thread.
type LogRing struct {
	mu      sync.Mutex
	entries []string
	cap     int
}

func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRing{cap: capacity}
}

func (r *LogRing) Append(ts time.Time, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, "["+ts.Format("15:04:05")+"] "+msg)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

// Last returns a copy of the newest n entries, oldest first.
func (r *LogRing) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]string, n)
	copy(out, r.entries[len(r.entries)-n:])
	return out
}

func (r *LogRing) Clear() {
	r.mu.Lock()
	r.entries = r.entries[:0]
	r.mu.Unlock()
}
