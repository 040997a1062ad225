package pipette

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogRingTrimsAtCapacity(t *testing.T) {
	r := NewLogRing(3)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		r.Append(ts, fmt.Sprintf("line %d", i))
	}

	got := r.Last(0)
	assert.Equal(t, []string{
		"[09:30:00] line 3",
		"[09:30:00] line 4",
		"[09:30:00] line 5",
	}, got)
}

func TestLogRingLastN(t *testing.T) {
	r := NewLogRing(10)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	r.Append(ts, "first")
	r.Append(ts, "second")
	r.Append(ts, "third")

	assert.Equal(t, []string{"[09:30:00] second", "[09:30:00] third"}, r.Last(2))
	assert.Len(t, r.Last(100), 3, "asking for more than stored returns all")
}

func TestLogRingClear(t *testing.T) {
	r := NewLogRing(10)
	r.Append(time.Now(), "x")
	r.Clear()
	assert.Empty(t, r.Last(0))
}
