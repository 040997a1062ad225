package motor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestAxis(t *testing.T, sim *Sim, cfg AxisConfig) (*Axis, *StopToken) {
	t.Helper()
	stop := NewStopToken()
	return NewAxis(AxisX, sim, cfg, stop, zaptest.NewLogger(t)), stop
}

func TestStepCountsExecutedPulses(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 1000, HasMin: true, HasMax: true, Start: 500})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	executed, state, err := a.Step(Clockwise, 100, 0, true)
	require.NoError(t, err)
	assert.Equal(t, int64(100), executed)
	assert.Equal(t, NoLimit, state)
	assert.Equal(t, int64(100), a.Position())

	executed, state, err = a.Step(CounterClockwise, 40, 0, true)
	require.NoError(t, err)
	assert.Equal(t, int64(40), executed)
	assert.Equal(t, NoLimit, state)
	assert.Equal(t, int64(60), a.Position())
}

func TestStepRespectsPreTriggeredLimit(t *testing.T) {
	// resting on the max switch
	sim := NewSim(SimConfig{Travel: 1000, HasMin: true, HasMax: true, Start: 1000})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	executed, state, err := a.Step(Clockwise, 50, 0, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), executed, "must not drive past a triggered switch")
	assert.Equal(t, AtMax, state)
	assert.Equal(t, int64(0), a.Position())

	// moving away from the triggered switch is allowed
	executed, state, err = a.Step(CounterClockwise, 50, 0, true)
	require.NoError(t, err)
	assert.Equal(t, int64(50), executed)
	assert.Equal(t, NoLimit, state)
}

func TestStepStopsAtLimitMidMove(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 100, HasMin: true, HasMax: true, Start: 80})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	executed, state, err := a.Step(Clockwise, 500, 0, true)
	require.NoError(t, err)
	assert.Equal(t, int64(20), executed)
	assert.Equal(t, AtMax, state)
}

func TestStepIgnoresLimitWhenUnchecked(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 100, HasMin: true, HasMax: true, Start: 100})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	executed, _, err := a.Step(Clockwise, 10, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), executed)
}

func TestCooperativeCancelBoundsOverrun(t *testing.T) {
	sim := NewSim(SimConfig{Travel: DefaultMaxSteps * 2, HasMin: true, HasMax: true, Start: DefaultMaxSteps, HonorDelay: true})
	a, stop := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	var wg sync.WaitGroup
	wg.Add(1)
	var executed int64
	go func() {
		defer wg.Done()
		executed, _, _ = a.Step(Clockwise, 1_000_000, 100*time.Microsecond, true)
	}()
	time.Sleep(5 * time.Millisecond)
	stop.Request()
	atStop := sim.Pulses()
	wg.Wait()

	assert.LessOrEqual(t, sim.Pulses()-atStop, int64(1), "at most the in-flight pulse after stop")
	assert.Less(t, executed, int64(1_000_000))
}

func TestMoveUntilLimitSafetyCeiling(t *testing.T) {
	// switches exist in config but never trigger
	sim := NewSim(SimConfig{Travel: 1 << 40, HasMin: true, HasMax: true, Start: 1 << 20})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	steps, reached, err := a.MoveUntilLimit(Clockwise, 0, 300)
	require.NoError(t, err)
	assert.False(t, reached)
	assert.Equal(t, int64(300), steps)
}

func TestMoveUntilLimitReaches(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 150, HasMin: true, HasMax: true, Start: 50})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	steps, reached, err := a.MoveUntilLimit(Clockwise, 0, DefaultMaxSteps)
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, int64(100), steps)
}

func TestMoveUntilLimitWithoutSwitch(t *testing.T) {
	sim := NewSim(SimConfig{})
	a, _ := newTestAxis(t, sim, AxisConfig{})

	_, _, err := a.MoveUntilLimit(Clockwise, 0, 100)
	assert.ErrorIs(t, err, ErrNoSwitch)
}

func TestMoveUntilAnyLimitReportsWhichFired(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 100, HasMin: true, HasMax: true, Start: 30})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	steps, state, err := a.MoveUntilAnyLimit(CounterClockwise, 0, DefaultMaxSteps)
	require.NoError(t, err)
	assert.Equal(t, AtMin, state)
	assert.Equal(t, int64(30), steps)
}

func TestHomeResetsPosition(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 500, HasMin: true, HasMax: true, Start: 200})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	_, _, err := a.Step(Clockwise, 100, 0, true)
	require.NoError(t, err)
	require.NoError(t, a.Home(0, DefaultMaxSteps))
	assert.Equal(t, int64(0), a.Position())
	assert.True(t, a.Homed())
}

func TestHomeWithoutMinSwitch(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 500, HasMax: true, Start: 200})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMax: true})

	err := a.Home(0, DefaultMaxSteps)
	assert.ErrorIs(t, err, ErrNoSwitch)
}

func TestHomeCeiling(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 500, HasMin: true, HasMax: true, Start: 400})
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	err := a.Home(0, 10)
	assert.ErrorIs(t, err, ErrLimitNotReached)
}

func TestStepSurfacesDriverError(t *testing.T) {
	sim := NewSim(SimConfig{Travel: 100, HasMin: true, HasMax: true, Start: 50})
	boom := errors.New("link down")
	sim.FailWith(boom)
	a, _ := newTestAxis(t, sim, AxisConfig{HasMin: true, HasMax: true})

	executed, _, err := a.Step(Clockwise, 5, 0, true)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), executed)
}
