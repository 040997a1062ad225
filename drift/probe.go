package drift

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jt05610/sampler/motor"
	"go.uber.org/zap"
)

var (
	// ErrWiringInconsistent indicates direction discovery found both
	// electrical directions reaching the same switch. The run aborts
	// rather than guessing.
	ErrWiringInconsistent = errors.New("limit switch wiring inconsistent")

	// ErrBusy rejects starting a probe while one is running.
	ErrBusy = errors.New("a drift test is already running")
)

// Config parameterizes a drift run.
type Config struct {
	Cycles     int
	StepDelay  time.Duration
	StepsPerMM int64
	// MaxSteps bounds every limit-seeking move. Defaults to
	// motor.DefaultMaxSteps.
	MaxSteps int64
	// Pause at each end of travel before reversing.
	Pause time.Duration
	// FixedSteps is the round-trip length used when the axis has no
	// switches at all.
	FixedSteps int64
	// HasSwitches tells the probe whether discovery is possible; an axis
	// without switches degrades to a fixed-step sanity check.
	HasSwitches bool
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = motor.DefaultMaxSteps
	}
	if c.Pause <= 0 {
		c.Pause = 500 * time.Millisecond
	}
	if c.FixedSteps <= 0 {
		c.FixedSteps = 2000
	}
	return c
}

// backoffSteps releases a pressed switch before probing away from it.
const backoffSteps = 25

// Probe runs drift measurement on one axis. It operates in raw step space
// and never consults the well grid.
type Probe struct {
	axis   *motor.Axis
	cfg    Config
	stop   *motor.StopToken
	logger *zap.Logger

	running atomic.Bool
	box     resultBox

	sleep func(time.Duration)
	now   func() time.Time
}

func NewProbe(axis *motor.Axis, cfg Config, stop *motor.StopToken, logger *zap.Logger) (*Probe, error) {
	if cfg.Cycles < 1 {
		return nil, fmt.Errorf("cycles must be at least 1, got %d", cfg.Cycles)
	}
	if cfg.StepsPerMM <= 0 {
		return nil, fmt.Errorf("steps per mm must be positive, got %d", cfg.StepsPerMM)
	}
	return &Probe{
		axis:   axis,
		cfg:    cfg.withDefaults(),
		stop:   stop,
		logger: logger.With(zap.String("axis", axis.ID().String())),
		sleep:  time.Sleep,
		now:    time.Now,
	}, nil
}

// Start launches the run on a background goroutine, rejecting with ErrBusy
// when one is already in flight.
func (p *Probe) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	p.stop.Clear()
	p.box.update(func(r *Result) {
		*r = Result{
			RunID:      uuid.NewString(),
			Axis:       p.axis.ID().String(),
			StartTime:  p.now(),
			Running:    true,
			Calibrated: p.cfg.HasSwitches,
		}
	})
	go p.run()
	return nil
}

// Status snapshots the run, including partial progress of a live run.
func (p *Probe) Status() Result {
	return p.box.snapshot()
}

// RequestStop cancels the run cooperatively. The cycle in flight winds
// down at the next pulse boundary and is not recorded.
func (p *Probe) RequestStop() {
	p.stop.Request()
}

// Wait blocks until the run finishes. Intended for the CLI; the daemon
// polls Status instead.
func (p *Probe) Wait() {
	for p.running.Load() {
		p.sleep(50 * time.Millisecond)
	}
}

func (p *Probe) run() {
	defer p.running.Store(false)
	err := p.measure()
	if errors.Is(err, motor.ErrStopped) {
		// user stop is a normal terminal state
		err = nil
	}
	end := p.now()
	p.box.update(func(r *Result) {
		r.Running = false
		r.EndTime = &end
		if p.stop.Stopped() {
			r.Stopped = true
		}
		if err != nil {
			r.Error = err.Error()
		}
	})
	if relErr := p.axis.Release(); relErr != nil {
		p.logger.Error("release failed", zap.Error(relErr))
	}
	if err != nil {
		p.logger.Error("drift run failed", zap.Error(err))
	}
}

func (p *Probe) measure() error {
	if !p.cfg.HasSwitches {
		p.logger.Warn("axis has no limit switches; running fixed-step sanity check")
		return p.fixedCycles()
	}
	mapping, err := p.discover()
	if err != nil {
		return err
	}
	p.box.update(func(r *Result) {
		r.Mapping = mapping
		r.ToMax = mapping.ToMax.String()
		r.ToMin = mapping.ToMin.String()
	})
	// reference-zero the counter at the min limit before cycling
	if _, err := p.seek(mapping.ToMin, motor.AtMin); err != nil {
		return err
	}
	p.axis.ResetPosition()
	p.sleep(p.cfg.Pause)
	return p.limitCycles(mapping)
}

// discover finds which electrical direction reaches which switch, with no
// a-priori mapping. See the wiring note on ErrWiringInconsistent.
func (p *Probe) discover() (Mapping, error) {
	state, err := p.resting()
	if err != nil {
		return Mapping{}, err
	}

	first := state
	probeDir := motor.Clockwise
	knownDir := false
	if first == motor.NoLimit {
		// not on a switch: drive one way until something fires, then the
		// other way if nothing did
		for _, dir := range []motor.Direction{motor.Clockwise, motor.CounterClockwise} {
			steps, st, err := p.axis.MoveUntilAnyLimit(dir, p.cfg.StepDelay, p.cfg.MaxSteps)
			if err != nil {
				return Mapping{}, err
			}
			if p.stop.Stopped() {
				return Mapping{}, motor.ErrStopped
			}
			if st != motor.NoLimit {
				first = st
				probeDir = dir.Opposite()
				knownDir = true
				p.logger.Info("reached first limit",
					zap.String("dir", dir.String()), zap.String("limit", st.String()), zap.Int64("steps", steps))
				break
			}
		}
		if first == motor.NoLimit {
			return Mapping{}, fmt.Errorf("no switch fired in either direction: %w", motor.ErrLimitNotReached)
		}
	}

	// From the first limit, the other direction must reach the remaining
	// switch. When we started resting on a switch the away direction is
	// unknown, so a probe that loops back to the same switch gets one
	// retry the other way.
	want := other(first)
	st, err := p.probeAway(probeDir)
	if err != nil {
		return Mapping{}, err
	}
	if st == first && !knownDir {
		probeDir = probeDir.Opposite()
		st, err = p.probeAway(probeDir)
		if err != nil {
			return Mapping{}, err
		}
	}
	if p.stop.Stopped() {
		return Mapping{}, motor.ErrStopped
	}
	if st != want {
		return Mapping{}, fmt.Errorf("driving %s from %s limit reached %s, expected %s: %w",
			probeDir, first, st, want, ErrWiringInconsistent)
	}

	var m Mapping
	if want == motor.AtMax {
		m.ToMax = probeDir
		m.ToMin = probeDir.Opposite()
	} else {
		m.ToMin = probeDir
		m.ToMax = probeDir.Opposite()
	}
	p.logger.Info("direction mapping discovered",
		zap.String("to_max", m.ToMax.String()), zap.String("to_min", m.ToMin.String()))
	return m, nil
}

// probeAway backs off the currently pressed switch, then drives dir until
// a switch fires.
func (p *Probe) probeAway(dir motor.Direction) (motor.LimitState, error) {
	state, err := p.resting()
	if err != nil {
		return motor.NoLimit, err
	}
	if state != motor.NoLimit {
		moved, released, err := p.backOff(dir, limitOf(state))
		if err != nil {
			return motor.NoLimit, err
		}
		if !released {
			// dir drives deeper onto the switch. Undo the probing
			// pulses and report the switch as re-reached so the caller
			// can try the other way.
			if _, _, err := p.axis.Step(dir.Opposite(), moved, p.cfg.StepDelay, false); err != nil {
				return motor.NoLimit, err
			}
			return state, nil
		}
	}
	_, st, err := p.axis.MoveUntilAnyLimit(dir, p.cfg.StepDelay, p.cfg.MaxSteps)
	if err != nil {
		return motor.NoLimit, err
	}
	if st == motor.NoLimit && !p.stop.Stopped() {
		return motor.NoLimit, motor.ErrLimitNotReached
	}
	return st, nil
}

// backOff steps in dir until the pressed switch releases, then a few more
// for clearance, so the next search cannot re-read the switch being left.
// The release budget is small on purpose: a healthy switch releases
// within a few steps, so exhausting the budget means dir is wrong or the
// switch is stuck, and pushing further would only drive deeper onto it.
func (p *Probe) backOff(dir motor.Direction, pressed motor.Limit) (int64, bool, error) {
	var steps int64
	for ; steps < 4*backoffSteps; steps++ {
		if p.stop.Stopped() {
			return steps, false, motor.ErrStopped
		}
		hit, err := p.axis.Triggered(pressed)
		if err != nil {
			return steps, false, err
		}
		if !hit {
			n, _, err := p.axis.Step(dir, backoffSteps, p.cfg.StepDelay, false)
			return steps + n, true, err
		}
		if _, _, err := p.axis.Step(dir, 1, p.cfg.StepDelay, false); err != nil {
			return steps, false, err
		}
	}
	return steps, false, nil
}

func limitOf(s motor.LimitState) motor.Limit {
	if s == motor.AtMax {
		return motor.LimitMax
	}
	return motor.LimitMin
}

func (p *Probe) resting() (motor.LimitState, error) {
	min, err := p.axis.Triggered(motor.LimitMin)
	if err != nil {
		return motor.NoLimit, err
	}
	if min {
		return motor.AtMin, nil
	}
	max, err := p.axis.Triggered(motor.LimitMax)
	if err != nil {
		return motor.NoLimit, err
	}
	if max {
		return motor.AtMax, nil
	}
	return motor.NoLimit, nil
}

func other(s motor.LimitState) motor.LimitState {
	if s == motor.AtMin {
		return motor.AtMax
	}
	return motor.AtMin
}

// limitCycles runs the measured round trips between the two switches.
func (p *Probe) limitCycles(m Mapping) error {
	for n := 1; n <= p.cfg.Cycles; n++ {
		if p.stop.Stopped() {
			return nil
		}
		cycleStart := p.now()

		fwdSteps, fwdTime, err := p.leg(m.ToMax, motor.AtMax)
		if err != nil {
			return fmt.Errorf("cycle %d forward: %w", n, err)
		}
		if p.stop.Stopped() {
			return nil
		}
		p.sleep(p.cfg.Pause)

		backSteps, backTime, err := p.leg(m.ToMin, motor.AtMin)
		if err != nil {
			return fmt.Errorf("cycle %d backward: %w", n, err)
		}
		if p.stop.Stopped() {
			return nil
		}
		p.sleep(p.cfg.Pause)

		rec := NewCycleRecord(n, fwdSteps, backSteps, fwdTime, backTime, p.now().Sub(cycleStart), p.cfg.StepsPerMM)
		p.box.update(func(r *Result) { r.Cycles = append(r.Cycles, rec) })
		p.logger.Info("cycle complete",
			zap.Int("cycle", n),
			zap.Int64("forward_steps", fwdSteps),
			zap.Int64("backward_steps", backSteps),
			zap.Float64("drift_mm", rec.DriftMM))
	}
	return nil
}

func (p *Probe) leg(dir motor.Direction, want motor.LimitState) (int64, time.Duration, error) {
	start := p.now()
	steps, err := p.seek(dir, want)
	return steps, p.now().Sub(start), err
}

// seek drives toward the wanted switch. When resting on the other switch
// it backs off a few unchecked steps first; without that, the pressed
// switch would satisfy the search before the motor moved at all. The
// backoff pulses count toward the returned total so a leg measures the
// full switch-to-switch distance.
func (p *Probe) seek(dir motor.Direction, want motor.LimitState) (int64, error) {
	state, err := p.resting()
	if err != nil {
		return 0, err
	}
	if state == want {
		return 0, nil
	}
	var steps int64
	if state != motor.NoLimit {
		// If the switch never releases, the search below re-reads it
		// and the mismatch is reported there.
		n, _, err := p.backOff(dir, limitOf(state))
		steps += n
		if err != nil {
			return steps, err
		}
	}
	moved, st, err := p.axis.MoveUntilAnyLimit(dir, p.cfg.StepDelay, p.cfg.MaxSteps)
	steps += moved
	if err != nil {
		return steps, err
	}
	if st == motor.NoLimit {
		if p.stop.Stopped() {
			return steps, motor.ErrStopped
		}
		return steps, motor.ErrLimitNotReached
	}
	if st != want {
		return steps, fmt.Errorf("reached %s, expected %s: %w", st, want, ErrWiringInconsistent)
	}
	return steps, nil
}

// fixedCycles is the degraded mode for a switchless axis: a fixed-length
// round trip with no position truth, a step-count sanity check rather than
// a real drift measurement.
func (p *Probe) fixedCycles() error {
	for n := 1; n <= p.cfg.Cycles; n++ {
		if p.stop.Stopped() {
			return nil
		}
		cycleStart := p.now()

		fwdStart := p.now()
		fwd, _, err := p.axis.Step(motor.Clockwise, p.cfg.FixedSteps, p.cfg.StepDelay, false)
		fwdTime := p.now().Sub(fwdStart)
		if err != nil {
			return err
		}
		if p.stop.Stopped() {
			return nil
		}
		p.sleep(p.cfg.Pause)

		backStart := p.now()
		back, _, err := p.axis.Step(motor.CounterClockwise, p.cfg.FixedSteps, p.cfg.StepDelay, false)
		backTime := p.now().Sub(backStart)
		if err != nil {
			return err
		}
		if p.stop.Stopped() {
			return nil
		}
		p.sleep(p.cfg.Pause)

		rec := NewCycleRecord(n, fwd, back, fwdTime, backTime, p.now().Sub(cycleStart), p.cfg.StepsPerMM)
		p.box.update(func(r *Result) { r.Cycles = append(r.Cycles, rec) })
	}
	return nil
}
