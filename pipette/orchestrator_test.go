package pipette

import (
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/jt05610/sampler/grid"
	"github.com/jt05610/sampler/motor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{
		Geometry:          grid.Geometry{WellSpacing: 4, WellDiameter: 8, WellHeight: 14},
		StepsPerMM:        grid.StepsPerMM{X: 100, Y: 100, Z: 100},
		PipetteStepsPerML: 1000,
		PickupDepthMM:     10,
		DropoffDepthMM:    5,
		SafeHeightMM:      20,
		RinseCycles:       3,
		RinseVolumeML:     0.5,
		SettleTime:        500 * time.Millisecond,
	}
}

// sleepLog replaces real sleeping: every requested duration is recorded and
// optionally gated so a test can hold the worker at a known point.
type sleepLog struct {
	mu    sync.Mutex
	slept []time.Duration
	gate  chan struct{} // when set, sleeps of gateAt block until closed
	at    time.Duration
}

func (s *sleepLog) sleep(d time.Duration) {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	gate := s.gate
	gated := gate != nil && d == s.at
	s.mu.Unlock()
	if gated {
		<-gate
	}
}

func (s *sleepLog) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, got := range s.slept {
		if got == d {
			n++
		}
	}
	return n
}

type rig struct {
	orch  *Orchestrator
	sims  map[motor.AxisID]*motor.Sim
	fs    afero.Fs
	store *Store
	slept *sleepLog
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := zaptest.NewLogger(t)
	stop := motor.NewStopToken()
	sims := make(map[motor.AxisID]*motor.Sim, len(motor.AxisIDs))
	axes := make(map[motor.AxisID]*motor.Axis, len(motor.AxisIDs))
	for _, id := range motor.AxisIDs {
		cfg := motor.SimConfig{Travel: 1 << 20, HasMin: true, HasMax: true, Start: 1 << 19}
		axCfg := motor.AxisConfig{HasMin: true, HasMax: true}
		if id == motor.AxisPipette {
			cfg = motor.SimConfig{Travel: 1 << 20, HasMax: true}
			axCfg = motor.AxisConfig{HasMax: true}
		}
		sim := motor.NewSim(cfg)
		sims[id] = sim
		axes[id] = motor.NewAxis(id, sim, axCfg, stop, logger)
	}
	ctrl, err := motor.NewController(axes, stop, logger)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/var/lib/sampler/position.json", logger)
	orch, err := New(ctrl, testConfig(), store, logger)
	require.NoError(t, err)

	slept := &sleepLog{}
	orch.sleep = slept.sleep
	return &rig{orch: orch, sims: sims, fs: fs, store: store, slept: slept}
}

func (r *rig) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.orch.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("sequence did not finish")
		}
		time.Sleep(time.Millisecond)
	}
}

func basicStep() Step {
	return Step{
		PickupWell:   "A1",
		DropoffWell:  "A2",
		VolumeML:     1,
		Cycles:       1,
		Repetition:   Repetition{Mode: RepeatQuantity, Quantity: 1},
		PipetteCount: 1,
	}
}

func TestExecuteSingleTransfer(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.orch.Execute([]Step{basicStep()}))
	r.waitIdle(t)

	st := r.orch.Status()
	assert.False(t, st.IsExecuting)
	assert.Equal(t, OutcomeCompleted, st.LastOutcome)
	assert.Empty(t, st.LastError)
	assert.Equal(t, "A2", st.CurrentWell)
	assert.Equal(t, OpIdle, st.Operation)
	assert.NotEmpty(t, st.RunID)

	// A1 and A2 share a row, so only X moves: one pitch of 12 mm
	assert.Equal(t, int64(1200), r.orch.ctrl.Axis(motor.AxisX).Position())
	assert.Equal(t, int64(0), r.orch.ctrl.Axis(motor.AxisY).Position())
	assert.Equal(t, int64(0), r.orch.ctrl.Axis(motor.AxisZ).Position())

	// one aspirate and one dispense of 1 mL, 1000 pulses each
	assert.Equal(t, int64(2000), r.sims[motor.AxisPipette].Pulses())
	assert.Equal(t, int64(0), r.sims[motor.AxisPipette].Pos())

	// settle after each plunger move
	assert.Equal(t, 2, r.slept.count(500*time.Millisecond))
}

func TestExecutePersistsArrivedWell(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.orch.Execute([]Step{basicStep()}))
	r.waitIdle(t)

	rec, ok := r.store.Load()
	require.True(t, ok)
	assert.Equal(t, "A2", rec.Well)
	assert.Equal(t, 12.0, rec.X)
	assert.Equal(t, 0.0, rec.Y)
	assert.Equal(t, 0.0, rec.Z)
}

func TestExecuteRejectsInvalidSteps(t *testing.T) {
	r := newRig(t)

	tests := []struct {
		name string
		muck func(*Step)
	}{
		{"bad pickup well", func(s *Step) { s.PickupWell = "Z9" }},
		{"bad dropoff well", func(s *Step) { s.DropoffWell = "A13" }},
		{"bad rinse well", func(s *Step) { s.RinseWell = "Q1" }},
		{"zero volume", func(s *Step) { s.VolumeML = 0 }},
		{"volume too large", func(s *Step) { s.VolumeML = 11 }},
		{"zero cycles", func(s *Step) { s.Cycles = 0 }},
		{"bad pipette count", func(s *Step) { s.PipetteCount = 2 }},
		{"zero quantity", func(s *Step) { s.Repetition.Quantity = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := basicStep()
			tt.muck(&s)
			err := r.orch.Execute([]Step{s})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "step 1")
		})
	}

	assert.Error(t, r.orch.Execute(nil), "empty sequence")
	// nothing moved
	assert.Equal(t, int64(0), r.sims[motor.AxisX].Pulses())
}

func TestExecuteRejectsWhileBusy(t *testing.T) {
	r := newRig(t)
	gate := make(chan struct{})
	r.slept.gate = gate
	r.slept.at = 500 * time.Millisecond // hold at the first settle

	require.NoError(t, r.orch.Execute([]Step{basicStep()}))

	deadline := time.Now().Add(5 * time.Second)
	for !r.orch.Status().IsExecuting || r.slept.count(500*time.Millisecond) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never reached the settle pause")
		}
		time.Sleep(time.Millisecond)
	}
	assert.ErrorIs(t, r.orch.Execute([]Step{basicStep()}), ErrBusy)
	assert.ErrorIs(t, r.orch.Home(), ErrBusy)
	assert.ErrorIs(t, r.orch.MoveToWell("B2", 0), ErrBusy)

	close(gate)
	r.waitIdle(t)
	assert.Equal(t, OutcomeCompleted, r.orch.Status().LastOutcome)
}

func TestQuantityRepetitionWaitsBetweenNotAfter(t *testing.T) {
	r := newRig(t)
	s := basicStep()
	s.Repetition = Repetition{Mode: RepeatQuantity, Quantity: 3}
	s.WaitSeconds = 2

	require.NoError(t, r.orch.Execute([]Step{s}))
	r.waitIdle(t)

	assert.Equal(t, OutcomeCompleted, r.orch.Status().LastOutcome)
	// three transfers, each one aspirate plus one dispense
	assert.Equal(t, int64(6000), r.sims[motor.AxisPipette].Pulses())
	// two waits between three repetitions, none after the last
	assert.Equal(t, 2, r.slept.count(2*time.Second))
}

func TestTimeFrequencyFollowsAbsoluteSchedule(t *testing.T) {
	r := newRig(t)

	// fake clock advanced by the injected sleep
	var mu sync.Mutex
	clock := time.Unix(1000, 0)
	r.orch.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	prev := r.orch.sleep
	r.orch.sleep = func(d time.Duration) {
		mu.Lock()
		clock = clock.Add(d)
		mu.Unlock()
		prev(d)
	}

	s := basicStep()
	s.Repetition = Repetition{Mode: RepeatTimeFrequency, IntervalSeconds: 10, DurationSeconds: 30}

	require.NoError(t, r.orch.Execute([]Step{s}))
	r.waitIdle(t)

	assert.Equal(t, OutcomeCompleted, r.orch.Status().LastOutcome)
	// fire times 0s, 10s, 20s within a 30s window
	assert.Equal(t, int64(6000), r.sims[motor.AxisPipette].Pulses())
	// each transfer settles for 1s total, so each wait compensates to 9s
	assert.Equal(t, 3, r.slept.count(9*time.Second))
}

func TestTimeFrequencyWithoutIntervalRunsOnce(t *testing.T) {
	r := newRig(t)
	s := basicStep()
	s.Repetition = Repetition{Mode: RepeatTimeFrequency}

	require.NoError(t, r.orch.Execute([]Step{s}))
	r.waitIdle(t)

	assert.Equal(t, int64(2000), r.sims[motor.AxisPipette].Pulses())
	assert.Contains(t, lastLogs(r), "without interval/duration")
}

func TestUnknownRepetitionModeRunsOnce(t *testing.T) {
	r := newRig(t)
	s := basicStep()
	s.Repetition = Repetition{Mode: "bogus"}

	require.NoError(t, r.orch.Execute([]Step{s}))
	r.waitIdle(t)

	assert.Equal(t, OutcomeCompleted, r.orch.Status().LastOutcome)
	assert.Equal(t, int64(2000), r.sims[motor.AxisPipette].Pulses())
	assert.Contains(t, lastLogs(r), "unknown repetition mode")
}

func lastLogs(r *rig) string {
	out := ""
	for _, line := range r.orch.Logs(0) {
		out += line + "\n"
	}
	return out
}

func TestRinseCyclesZeroNetVolume(t *testing.T) {
	r := newRig(t)
	s := basicStep()
	s.RinseWell = "H12"

	require.NoError(t, r.orch.Execute([]Step{s}))
	r.waitIdle(t)

	require.Equal(t, OutcomeCompleted, r.orch.Status().LastOutcome)
	// transfer: 2 x 1000 pulses; rinse: 3 cycles x 2 x 500 pulses
	assert.Equal(t, int64(5000), r.sims[motor.AxisPipette].Pulses())
	assert.Equal(t, int64(0), r.sims[motor.AxisPipette].Pos(), "rinse must not change net plunger position")
	assert.Equal(t, "H12", r.orch.Status().CurrentWell)
}

func TestStopDuringSequence(t *testing.T) {
	r := newRig(t)
	gate := make(chan struct{})
	r.slept.gate = gate
	r.slept.at = 2 * time.Second // hold at the wait between repetitions

	s := basicStep()
	s.Repetition = Repetition{Mode: RepeatQuantity, Quantity: 5}
	s.WaitSeconds = 2

	require.NoError(t, r.orch.Execute([]Step{s}))
	deadline := time.Now().Add(5 * time.Second)
	for r.slept.count(2*time.Second) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never reached the repetition wait")
		}
		time.Sleep(time.Millisecond)
	}

	r.orch.Stop()
	close(gate)
	r.waitIdle(t)

	st := r.orch.Status()
	assert.Equal(t, OutcomeStopped, st.LastOutcome)
	assert.Empty(t, st.LastError, "a user stop is not an error")
	// only the first repetition ran
	assert.Equal(t, int64(2000), r.sims[motor.AxisPipette].Pulses())
	for id, sim := range r.sims {
		assert.True(t, sim.Released(), "%s motor should be de-energized", id)
	}
}

func TestExecuteAfterStopRearms(t *testing.T) {
	r := newRig(t)
	r.orch.Stop()

	require.NoError(t, r.orch.Execute([]Step{basicStep()}))
	r.waitIdle(t)
	assert.Equal(t, OutcomeCompleted, r.orch.Status().LastOutcome)
}

func TestMotionErrorAbortsSequence(t *testing.T) {
	r := newRig(t)
	r.sims[motor.AxisZ].FailWith(assert.AnError)

	require.NoError(t, r.orch.Execute([]Step{basicStep()}))
	r.waitIdle(t)

	st := r.orch.Status()
	assert.Equal(t, OutcomeError, st.LastOutcome)
	assert.Contains(t, st.LastError, "step 1/1")
}

func TestHomeReturnsToA1(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.orch.MoveToWell("C4", -10))
	st := r.orch.Status()
	assert.Equal(t, grid.Coordinates{X: 36, Y: 24, Z: -10}, st.Position)

	require.NoError(t, r.orch.Home())

	st = r.orch.Status()
	assert.Equal(t, grid.Coordinates{}, st.Position)
	assert.Equal(t, "A1", st.CurrentWell)

	rec, ok := r.store.Load()
	require.True(t, ok)
	assert.Equal(t, "A1", rec.Well)
}

func TestSetPipetteCount(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.orch.SetPipetteCount(3))
	assert.Equal(t, 3, r.orch.Status().PipetteCount)

	assert.ErrorIs(t, r.orch.SetPipetteCount(2), ErrInvalidPipetteCount)
	assert.Equal(t, 3, r.orch.Status().PipetteCount)

	rec, ok := r.store.Load()
	require.True(t, ok)
	assert.Equal(t, 3, rec.PipetteCount)
}

func TestNewRestoresPersistedPosition(t *testing.T) {
	logger := zaptest.NewLogger(t)
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/position.json", logger)
	require.NoError(t, store.Save(Record{X: 24, Y: 12, Well: "B3", PipetteCount: 3}))

	stop := motor.NewStopToken()
	axes := make(map[motor.AxisID]*motor.Axis, len(motor.AxisIDs))
	for _, id := range motor.AxisIDs {
		axes[id] = motor.NewAxis(id, motor.NewSim(motor.SimConfig{}), motor.AxisConfig{}, stop, logger)
	}
	ctrl, err := motor.NewController(axes, stop, logger)
	require.NoError(t, err)

	orch, err := New(ctrl, testConfig(), store, logger)
	require.NoError(t, err)

	st := orch.Status()
	assert.Equal(t, grid.Coordinates{X: 24, Y: 12}, st.Position)
	assert.Equal(t, "B3", st.CurrentWell)
	assert.Equal(t, 3, st.PipetteCount)
}

func TestReconfigureRejectsInvalid(t *testing.T) {
	r := newRig(t)

	bad := testConfig()
	bad.PipetteStepsPerML = 0
	assert.ErrorIs(t, r.orch.Reconfigure(bad), ErrInvalidConfig)

	good := testConfig()
	good.RinseCycles = 5
	require.NoError(t, r.orch.Reconfigure(good))
}
