package pipette

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jt05610/sampler/grid"
	"github.com/jt05610/sampler/motor"
	"go.uber.org/zap"
)

// Orchestrator is the single state machine driving pipetting work. One
// sequence runs at a time on a background goroutine; the control surface
// starts, stops, and queries it without blocking on motion.
type Orchestrator struct {
	ctrl   *motor.Controller
	store  *Store
	logger *zap.Logger
	logs   *LogRing
	stop   *motor.StopToken

	running atomic.Bool

	mu           sync.Mutex // coarse lock over all shared state below
	cfg          Config
	mapper       *grid.Mapper
	pos          grid.Coordinates
	pipetteCount int
	op           Operation
	opWell       string
	runID        string
	lastOutcome  Outcome
	lastErr      error

	// injectable for tests
	sleep func(time.Duration)
	now   func() time.Time
}

func New(ctrl *motor.Controller, cfg Config, store *Store, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mapper, err := grid.NewMapper(cfg.Geometry)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		ctrl:   ctrl,
		store:  store,
		logger: logger,
		logs:   NewLogRing(DefaultLogCapacity),
		stop:   ctrl.Stop(),
		cfg:    cfg,
		mapper: mapper,
		op:     OpIdle,
		sleep:  time.Sleep,
		now:    time.Now,
	}
	rec, loaded := store.Load()
	o.pos = grid.Coordinates{X: rec.X, Y: rec.Y, Z: rec.Z}
	o.pipetteCount = rec.PipetteCount
	if loaded {
		o.logf("restored position from file: %s", rec.Well)
	}
	o.logf("pipetting controller initialized at %s, %d pipette(s)", o.wellName(), o.pipetteCount)
	return o, nil
}

// logf appends to the UI log ring and mirrors to the structured log.
func (o *Orchestrator) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	o.logs.Append(o.now(), msg)
	o.logger.Info(msg)
}

func (o *Orchestrator) config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Reconfigure swaps the derived geometry and speed constants, e.g. after
// the configuration provider signals a change. Invalid values are rejected
// without touching the current configuration.
func (o *Orchestrator) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	mapper, err := grid.NewMapper(cfg.Geometry)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.cfg = cfg
	o.mapper = mapper
	o.mu.Unlock()
	o.logf("configuration reloaded")
	return nil
}

// Execute validates the sequence synchronously, then runs it on a worker
// goroutine. A sequence already in flight rejects the call with ErrBusy and
// is left untouched.
func (o *Orchestrator) Execute(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("empty sequence")
	}
	for i, s := range steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	if !o.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	o.stop.Clear()
	o.mu.Lock()
	o.runID = uuid.NewString()
	o.lastOutcome = OutcomeNone
	o.lastErr = nil
	o.mu.Unlock()
	go o.run(steps)
	return nil
}

func (o *Orchestrator) run(steps []Step) {
	defer o.running.Store(false)
	o.logf("executing pipetting sequence (%d steps)", len(steps))

	for i, step := range steps {
		if o.stop.Stopped() {
			o.finish(OutcomeStopped, nil, i, len(steps))
			return
		}
		o.logf("step %d/%d, %d pipette(s)", i+1, len(steps), step.PipetteCount)
		o.mu.Lock()
		o.pipetteCount = step.PipetteCount
		o.mu.Unlock()

		if err := o.applyRepetition(step); err != nil {
			if errors.Is(err, motor.ErrStopped) {
				o.finish(OutcomeStopped, nil, i, len(steps))
				return
			}
			o.finish(OutcomeError, fmt.Errorf("step %d/%d: %w", i+1, len(steps), err), i, len(steps))
			return
		}
		if o.stop.Stopped() {
			o.finish(OutcomeStopped, nil, i+1, len(steps))
			return
		}
		if step.WaitSeconds > 0 && i < len(steps)-1 {
			o.logf("waiting %d seconds before next step", step.WaitSeconds)
			o.sleep(time.Duration(step.WaitSeconds) * time.Second)
		}
	}
	o.finish(OutcomeCompleted, nil, len(steps), len(steps))
}

func (o *Orchestrator) finish(outcome Outcome, err error, done, total int) {
	o.mu.Lock()
	o.lastOutcome = outcome
	o.lastErr = err
	o.op = OpIdle
	o.opWell = ""
	o.mu.Unlock()
	switch outcome {
	case OutcomeStopped:
		o.logf("execution stopped by user, completed %d of %d steps", done, total)
	case OutcomeError:
		o.logf("sequence aborted: %v (completed %d of %d steps)", err, done, total)
	default:
		o.logf("sequence complete")
	}
}

// applyRepetition runs one step under its repetition policy. Cancellation
// is honored before each repetition and, within one, before each cycle.
func (o *Orchestrator) applyRepetition(step Step) error {
	rep := step.Repetition
	switch rep.Mode {
	case RepeatQuantity:
		o.logf("repetition: %d time(s)", rep.Quantity)
		for n := uint32(0); n < rep.Quantity; n++ {
			if o.stop.Stopped() {
				return motor.ErrStopped
			}
			if rep.Quantity > 1 {
				o.logf("repetition %d/%d", n+1, rep.Quantity)
			}
			if err := o.runCycles(step); err != nil {
				return err
			}
			// no wait after the last repetition
			if n < rep.Quantity-1 && step.WaitSeconds > 0 {
				o.logf("waiting %d seconds before next repetition", step.WaitSeconds)
				o.sleep(time.Duration(step.WaitSeconds) * time.Second)
			}
		}
		return nil

	case RepeatTimeFrequency:
		if rep.IntervalSeconds == 0 || rep.DurationSeconds == 0 {
			o.logf("warning: time frequency mode without interval/duration, executing once")
			return o.runCycles(step)
		}
		interval := time.Duration(rep.IntervalSeconds) * time.Second
		duration := time.Duration(rep.DurationSeconds) * time.Second
		// The estimate is advisory; the compensating schedule below may
		// execute a different count.
		o.logf("repetition: every %ds for %ds (~%d times)",
			rep.IntervalSeconds, rep.DurationSeconds, rep.DurationSeconds/rep.IntervalSeconds)
		start := o.now()
		n := 0
		for o.now().Sub(start) < duration {
			if o.stop.Stopped() {
				return motor.ErrStopped
			}
			n++
			o.logf("repetition %d", n)
			if err := o.runCycles(step); err != nil {
				return err
			}
			// Fire times are start + n*interval. Scheduling against the
			// absolute start keeps one slow repetition from delaying all
			// later ones.
			elapsed := o.now().Sub(start)
			wait := time.Duration(n)*interval - elapsed
			if wait > 0 && elapsed < duration {
				if rest := duration - elapsed; wait > rest {
					wait = rest
				}
				o.logf("waiting %.1f seconds until next repetition", wait.Seconds())
				o.sleep(wait)
			}
		}
		return nil

	default:
		o.logf("warning: unknown repetition mode %q, executing once", rep.Mode)
		return o.runCycles(step)
	}
}

func (o *Orchestrator) runCycles(step Step) error {
	for cycle := uint32(0); cycle < step.Cycles; cycle++ {
		if o.stop.Stopped() {
			return motor.ErrStopped
		}
		if step.Cycles > 1 {
			o.logf("cycle %d/%d", cycle+1, step.Cycles)
		}
		if err := o.transfer(step); err != nil {
			return err
		}
		if cycle < step.Cycles-1 && step.WaitSeconds > 0 {
			o.logf("waiting %d seconds between cycles", step.WaitSeconds)
			o.sleep(time.Duration(step.WaitSeconds) * time.Second)
		}
	}
	return nil
}

// transfer is one pickup -> aspirate -> raise -> dropoff -> dispense ->
// raise pass, plus the optional rinse.
func (o *Orchestrator) transfer(step Step) error {
	cfg := o.config()
	o.logf("transfer: %s -> %s (%g mL)", step.PickupWell, step.DropoffWell, step.VolumeML)

	if err := o.moveToWell(step.PickupWell, -cfg.PickupDepthMM); err != nil {
		return err
	}
	if err := o.aspirate(step.VolumeML); err != nil {
		return err
	}
	if err := o.moveToWell(step.PickupWell, 0); err != nil {
		return err
	}
	if err := o.moveToWell(step.DropoffWell, -cfg.DropoffDepthMM); err != nil {
		return err
	}
	if err := o.dispense(step.VolumeML); err != nil {
		return err
	}
	if err := o.moveToWell(step.DropoffWell, 0); err != nil {
		return err
	}
	if step.RinseWell != "" {
		return o.rinse(step.RinseWell)
	}
	return nil
}

// rinse cycles the configured rinse volume in and out of the rinse well,
// zero net volume change, then raises back to well top.
func (o *Orchestrator) rinse(well string) error {
	cfg := o.config()
	o.logf("rinsing in well %s", well)
	for i := 0; i < cfg.RinseCycles; i++ {
		if err := o.moveToWell(well, -cfg.PickupDepthMM); err != nil {
			return err
		}
		if err := o.aspirate(cfg.RinseVolumeML); err != nil {
			return err
		}
		if err := o.dispense(cfg.RinseVolumeML); err != nil {
			return err
		}
	}
	return o.moveToWell(well, 0)
}

func (o *Orchestrator) setOp(op Operation, well string) {
	o.mu.Lock()
	o.op = op
	o.opWell = well
	o.mu.Unlock()
}

// moveToWell drives the head to a well center plus a Z offset, then
// persists the arrived position for restart recovery.
func (o *Orchestrator) moveToWell(id string, zOffset float64) error {
	well, err := grid.ParseWell(id)
	if err != nil {
		return err
	}
	o.setOp(OpMoving, id)
	defer o.setOp(OpIdle, "")

	o.mu.Lock()
	cfg := o.cfg
	current := o.pos
	target := o.mapper.Coordinates(well)
	o.mu.Unlock()
	target.Z += zOffset

	if err := o.ctrl.MoveTo(target, current, cfg.StepsPerMM, cfg.SafeHeightMM); err != nil {
		return err
	}
	o.mu.Lock()
	o.pos = target
	o.mu.Unlock()
	o.persist()
	return nil
}

func (o *Orchestrator) aspirate(volumeML float64) error {
	return o.plunge(OpAspirating, volumeML, 1)
}

func (o *Orchestrator) dispense(volumeML float64) error {
	return o.plunge(OpDispensing, volumeML, -1)
}

func (o *Orchestrator) plunge(op Operation, volumeML float64, sign int64) error {
	cfg := o.config()
	o.setOp(op, o.wellName())
	defer o.setOp(OpIdle, "")
	o.logf("%s %g mL", op, volumeML)
	steps := int64(volumeML * float64(cfg.PipetteStepsPerML))
	if err := o.ctrl.MoveLinear(motor.AxisPipette, sign*steps); err != nil {
		return err
	}
	// let the liquid settle
	o.sleep(cfg.SettleTime)
	return nil
}

// Stop raises the shared stop token and de-energizes the motors
// immediately, without waiting for the worker loop to observe the flag.
// Stopping an idle orchestrator is a no-op.
func (o *Orchestrator) Stop() {
	o.logf("stop requested")
	o.stop.Request()
	o.ctrl.StopAll()
}

// Home raises Z above well top if needed and moves to A1, the canonical
// zero for well tracking.
func (o *Orchestrator) Home() error {
	if o.running.Load() {
		return ErrBusy
	}
	o.stop.Clear()
	o.logf("returning to home position (A1)")

	o.mu.Lock()
	cfg := o.cfg
	z := o.pos.Z
	o.mu.Unlock()
	if z < 0 {
		if err := o.ctrl.MoveLinear(motor.AxisZ, int64(-z*float64(cfg.StepsPerMM.Z))); err != nil {
			return err
		}
		o.mu.Lock()
		o.pos.Z = 0
		o.mu.Unlock()
	}
	if err := o.moveToWell("A1", 0); err != nil {
		return err
	}
	o.mu.Lock()
	o.pos = grid.Coordinates{}
	o.mu.Unlock()
	o.persist()
	o.logf("home position reached (A1)")
	return nil
}

// MoveToWell is the manual move entry point for the control surface.
func (o *Orchestrator) MoveToWell(id string, zOffset float64) error {
	if o.running.Load() {
		return ErrBusy
	}
	o.stop.Clear()
	return o.moveToWell(id, zOffset)
}

// SetPipetteCount changes how downstream tooling interprets volumes. It
// never moves hardware.
func (o *Orchestrator) SetPipetteCount(n int) error {
	if n != 1 && n != 3 {
		return fmt.Errorf("%w: %d", ErrInvalidPipetteCount, n)
	}
	o.mu.Lock()
	o.pipetteCount = n
	o.mu.Unlock()
	o.logf("pipette configuration changed to %d pipette(s)", n)
	o.persist()
	return nil
}

func (o *Orchestrator) persist() {
	o.mu.Lock()
	rec := Record{
		X:            o.pos.X,
		Y:            o.pos.Y,
		Z:            o.pos.Z,
		Well:         o.currentWellLocked(),
		PipetteCount: o.pipetteCount,
	}
	o.mu.Unlock()
	if err := o.store.Save(rec); err != nil {
		o.logger.Warn("could not save position", zap.Error(err))
	}
}

func (o *Orchestrator) currentWellLocked() string {
	if w, ok := o.mapper.Well(o.pos); ok {
		return w.String()
	}
	return ""
}

// CurrentWell reports the well the head is over, if it is over one.
func (o *Orchestrator) CurrentWell() (grid.Well, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mapper.Well(o.pos)
}

func (o *Orchestrator) wellName() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if w := o.currentWellLocked(); w != "" {
		return w
	}
	return "unknown"
}

// Status is a non-blocking, torn-read-free snapshot for the control
// surface.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		RunID:         o.runID,
		Position:      o.pos,
		CurrentWell:   o.currentWellLocked(),
		PipetteCount:  o.pipetteCount,
		IsExecuting:   o.running.Load(),
		Operation:     o.op,
		OperationWell: o.opWell,
		LastOutcome:   o.lastOutcome,
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	return st
}

// Logs returns the newest n UI log lines.
func (o *Orchestrator) Logs(n int) []string {
	return o.logs.Last(n)
}

func (o *Orchestrator) ClearLogs() {
	o.logs.Clear()
}
