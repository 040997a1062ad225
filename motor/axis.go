package motor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AxisConfig describes which switches an axis has and how fast it travels.
type AxisConfig struct {
	HasMin    bool
	HasMax    bool
	StepDelay time.Duration
}

// Axis is a single motor with its position counter and limit switches.
// Position is relative to an arbitrary zero set at construction or by
// homing, and only changes for pulses that actually executed.
type Axis struct {
	id     AxisID
	drv    Driver
	cfg    AxisConfig
	stop   *StopToken
	logger *zap.Logger

	mu       sync.Mutex
	position int64
	homed    bool
}

func NewAxis(id AxisID, drv Driver, cfg AxisConfig, stop *StopToken, logger *zap.Logger) *Axis {
	return &Axis{
		id:     id,
		drv:    drv,
		cfg:    cfg,
		stop:   stop,
		logger: logger.With(zap.String("axis", id.String())),
	}
}

func (a *Axis) ID() AxisID { return a.id }

func (a *Axis) StepDelay() time.Duration { return a.cfg.StepDelay }

func (a *Axis) Position() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

func (a *Axis) Homed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.homed
}

// ResetPosition re-zeroes the counter at the current physical position.
func (a *Axis) ResetPosition() {
	a.mu.Lock()
	a.position = 0
	a.mu.Unlock()
}

func (a *Axis) record(dir Direction) {
	a.mu.Lock()
	a.position += dir.delta()
	a.mu.Unlock()
}

// limitAhead returns the switch in the direction of travel, if the axis has
// one.
func (a *Axis) limitAhead(dir Direction) (Limit, bool) {
	if dir == Clockwise {
		return LimitMax, a.cfg.HasMax
	}
	return LimitMin, a.cfg.HasMin
}

// Triggered reads one switch. Absent switches read as not triggered so
// status snapshots stay total.
func (a *Axis) Triggered(l Limit) (bool, error) {
	if l == LimitMin && !a.cfg.HasMin {
		return false, nil
	}
	if l == LimitMax && !a.cfg.HasMax {
		return false, nil
	}
	return a.drv.Triggered(l)
}

// Step emits up to count pulses in dir, stopping early when the shared stop
// token is raised or, with checkLimit, when the switch ahead triggers. The
// switch is read before each pulse so the motor never drives past a
// triggered switch. Returns the pulses executed and the condition that
// terminated the call.
func (a *Axis) Step(dir Direction, count int64, delay time.Duration, checkLimit bool) (int64, LimitState, error) {
	lim, hasLim := a.limitAhead(dir)
	var executed int64
	for ; executed < count; executed++ {
		if a.stop.Stopped() {
			return executed, NoLimit, nil
		}
		if checkLimit && hasLim {
			hit, err := a.drv.Triggered(lim)
			if err != nil {
				return executed, NoLimit, fmt.Errorf("%s axis: read %s switch: %w", a.id, lim, err)
			}
			if hit {
				return executed, stateOf(lim), nil
			}
		}
		if err := a.drv.Step(dir, delay); err != nil {
			return executed, NoLimit, fmt.Errorf("%s axis: pulse: %w", a.id, err)
		}
		a.record(dir)
	}
	return executed, NoLimit, nil
}

// MoveUntilLimit drives toward the switch in dir until it triggers,
// bounded by maxSteps so a dead switch cannot cause a runaway. reached is
// false when the ceiling or a stop request terminated the move first.
func (a *Axis) MoveUntilLimit(dir Direction, delay time.Duration, maxSteps int64) (int64, bool, error) {
	lim, ok := a.limitAhead(dir)
	if !ok {
		return 0, false, fmt.Errorf("%s axis: %w", a.id, ErrNoSwitch)
	}
	var steps int64
	for ; steps < maxSteps; steps++ {
		if a.stop.Stopped() {
			return steps, false, nil
		}
		hit, err := a.drv.Triggered(lim)
		if err != nil {
			return steps, false, fmt.Errorf("%s axis: read %s switch: %w", a.id, lim, err)
		}
		if hit {
			return steps, true, nil
		}
		if err := a.drv.Step(dir, delay); err != nil {
			return steps, false, fmt.Errorf("%s axis: pulse: %w", a.id, err)
		}
		a.record(dir)
	}
	return steps, false, nil
}

// MoveUntilAnyLimit drives in dir until either switch triggers, reporting
// which one fired. Used by direction discovery, which cannot assume the
// wiring convention.
func (a *Axis) MoveUntilAnyLimit(dir Direction, delay time.Duration, maxSteps int64) (int64, LimitState, error) {
	if !a.cfg.HasMin && !a.cfg.HasMax {
		return 0, NoLimit, fmt.Errorf("%s axis: %w", a.id, ErrNoSwitch)
	}
	var steps int64
	for ; steps < maxSteps; steps++ {
		if a.stop.Stopped() {
			return steps, NoLimit, nil
		}
		state, err := a.anyTriggered()
		if err != nil {
			return steps, NoLimit, err
		}
		if state != NoLimit {
			return steps, state, nil
		}
		if err := a.drv.Step(dir, delay); err != nil {
			return steps, NoLimit, fmt.Errorf("%s axis: pulse: %w", a.id, err)
		}
		a.record(dir)
	}
	return steps, NoLimit, nil
}

func (a *Axis) anyTriggered() (LimitState, error) {
	if a.cfg.HasMin {
		hit, err := a.drv.Triggered(LimitMin)
		if err != nil {
			return NoLimit, fmt.Errorf("%s axis: read min switch: %w", a.id, err)
		}
		if hit {
			return AtMin, nil
		}
	}
	if a.cfg.HasMax {
		hit, err := a.drv.Triggered(LimitMax)
		if err != nil {
			return NoLimit, fmt.Errorf("%s axis: read max switch: %w", a.id, err)
		}
		if hit {
			return AtMax, nil
		}
	}
	return NoLimit, nil
}

// Home drives to the minimum switch and re-zeroes the position counter.
// An axis without a minimum switch cannot home; that is reported, not
// fatal.
func (a *Axis) Home(delay time.Duration, maxSteps int64) error {
	if !a.cfg.HasMin {
		return fmt.Errorf("%s axis: cannot home: %w", a.id, ErrNoSwitch)
	}
	steps, reached, err := a.MoveUntilLimit(CounterClockwise, delay, maxSteps)
	if err != nil {
		return err
	}
	if !reached {
		return fmt.Errorf("%s axis: homing after %d steps: %w", a.id, steps, ErrLimitNotReached)
	}
	a.mu.Lock()
	a.position = 0
	a.homed = true
	a.mu.Unlock()
	a.logger.Info("homed", zap.Int64("steps", steps))
	return nil
}

// Release de-energizes the motor.
func (a *Axis) Release() error {
	return a.drv.Release()
}
