// Package drift measures travel-distance asymmetry of an axis over
// repeated limit-to-limit round trips, discovering the direction-to-limit
// wiring empirically first.
package drift

import (
	"sync"
	"time"

	"github.com/jt05610/sampler/motor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CycleRecord is one measured round trip. Field names match the log files
// the analysis tooling consumes.
type CycleRecord struct {
	Cycle          int     `json:"cycle_number"`
	ForwardSteps   int64   `json:"forward_steps"`
	BackwardSteps  int64   `json:"backward_steps"`
	ForwardTime    float64 `json:"forward_time"`
	BackwardTime   float64 `json:"backward_time"`
	TotalCycleTime float64 `json:"total_cycle_time"`
	StepDifference int64   `json:"step_difference"`
	DriftMM        float64 `json:"drift_mm"`
}

// NewCycleRecord computes the derived drift fields.
func NewCycleRecord(n int, fwd, back int64, fwdTime, backTime, total time.Duration, stepsPerMM int64) CycleRecord {
	diff := fwd - back
	if diff < 0 {
		diff = -diff
	}
	return CycleRecord{
		Cycle:          n,
		ForwardSteps:   fwd,
		BackwardSteps:  back,
		ForwardTime:    fwdTime.Seconds(),
		BackwardTime:   backTime.Seconds(),
		TotalCycleTime: total.Seconds(),
		StepDifference: diff,
		DriftMM:        float64(diff) / float64(stepsPerMM),
	}
}

// Mapping is the discovered electrical-direction-to-limit assignment.
type Mapping struct {
	ToMax motor.Direction `json:"-"`
	ToMin motor.Direction `json:"-"`
}

// Result is the incrementally updated state of a drift run, safe to
// snapshot from another goroutine while the run progresses.
type Result struct {
	RunID     string        `json:"run_id"`
	Axis      string        `json:"axis"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Running   bool          `json:"running"`
	Stopped   bool          `json:"stopped"`
	Error     string        `json:"error,omitempty"`
	Mapping   Mapping       `json:"-"`
	ToMax     string        `json:"dir_to_max,omitempty"`
	ToMin     string        `json:"dir_to_min,omitempty"`
	// Calibrated is false when the axis has no switches and the run
	// degraded to a fixed-step sanity check with no position truth.
	Calibrated bool          `json:"calibrated"`
	Cycles     []CycleRecord `json:"cycles"`
}

// Summary aggregates the completed cycles.
type Summary struct {
	CyclesCompleted   int     `json:"cycles_completed"`
	MeanDriftMM       float64 `json:"mean_drift_mm"`
	MinDriftMM        float64 `json:"min_drift_mm"`
	MaxDriftMM        float64 `json:"max_drift_mm"`
	MeanForwardSteps  float64 `json:"mean_forward_steps"`
	MeanBackwardSteps float64 `json:"mean_backward_steps"`
}

func (r *Result) Summary() Summary {
	if len(r.Cycles) == 0 {
		return Summary{}
	}
	drifts := make([]float64, len(r.Cycles))
	fwd := make([]float64, len(r.Cycles))
	back := make([]float64, len(r.Cycles))
	for i, c := range r.Cycles {
		drifts[i] = c.DriftMM
		fwd[i] = float64(c.ForwardSteps)
		back[i] = float64(c.BackwardSteps)
	}
	return Summary{
		CyclesCompleted:   len(r.Cycles),
		MeanDriftMM:       stat.Mean(drifts, nil),
		MinDriftMM:        floats.Min(drifts),
		MaxDriftMM:        floats.Max(drifts),
		MeanForwardSteps:  stat.Mean(fwd, nil),
		MeanBackwardSteps: stat.Mean(back, nil),
	}
}

// resultBox guards the shared result so status queries observe partial
// progress without torn reads.
type resultBox struct {
	mu sync.Mutex
	r  Result
}

func (b *resultBox) update(f func(*Result)) {
	b.mu.Lock()
	f(&b.r)
	b.mu.Unlock()
}

func (b *resultBox) snapshot() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.r
	out.Cycles = make([]CycleRecord, len(b.r.Cycles))
	copy(out.Cycles, b.r.Cycles)
	return out
}
