package motor

import (
	"errors"
	"fmt"

	"github.com/jt05610/sampler/grid"
	"go.uber.org/zap"
)

// ErrStopped reports that a motion call ended early because the shared stop
// token was raised. A user-requested stop is a normal terminal state, not a
// hardware failure; callers translate it rather than logging it as an
// error.
var ErrStopped = errors.New("stop requested")

// Controller aggregates the four axes. Moves are sequential per axis; there
// is no synchronized multi-axis motion.
type Controller struct {
	axes   map[AxisID]*Axis
	stop   *StopToken
	logger *zap.Logger
}

// LimitSnapshot is the switch state of one axis. Absent switches read as
// not triggered.
type LimitSnapshot struct {
	MinTriggered bool `json:"minTriggered"`
	MaxTriggered bool `json:"maxTriggered"`
}

func NewController(axes map[AxisID]*Axis, stop *StopToken, logger *zap.Logger) (*Controller, error) {
	for _, id := range AxisIDs {
		if axes[id] == nil {
			return nil, fmt.Errorf("missing %s axis", id)
		}
	}
	return &Controller{axes: axes, stop: stop, logger: logger}, nil
}

func (c *Controller) Axis(id AxisID) *Axis { return c.axes[id] }

func (c *Controller) Stop() *StopToken { return c.stop }

// MoveLinear moves one axis by a signed step delta at its configured speed,
// respecting the limit switch ahead. A short move is an error: either the
// limit interrupted it or a stop was requested.
func (c *Controller) MoveLinear(id AxisID, delta int64) error {
	if delta == 0 {
		return nil
	}
	a := c.axes[id]
	dir := Clockwise
	if delta < 0 {
		dir = CounterClockwise
		delta = -delta
	}
	executed, state, err := a.Step(dir, delta, a.StepDelay(), true)
	if err != nil {
		return err
	}
	if executed < delta {
		if c.stop.Stopped() {
			return ErrStopped
		}
		return fmt.Errorf("%s axis: hit %s limit after %d of %d steps", id, state, executed, delta)
	}
	return nil
}

// Jog is the manual move entry point. It bypasses the orchestrator but
// still respects limits, and re-arms the stop token like any other
// top-level motion call.
func (c *Controller) Jog(id AxisID, steps int64, dir Direction) (int64, LimitState, error) {
	c.stop.Clear()
	a := c.axes[id]
	c.logger.Info("jog", zap.String("axis", id.String()), zap.Int64("steps", steps), zap.String("dir", dir.String()))
	return a.Step(dir, steps, a.StepDelay(), true)
}

// MoveTo moves from current to target coordinates. Whenever Z would
// descend, Z is first raised to the safe height, XY travels, and only then
// does Z lower to the target. This ordering keeps the tip clear of well
// walls and plate edges and is a hard invariant.
func (c *Controller) MoveTo(target, current grid.Coordinates, per grid.StepsPerMM, safeHeightMM float64) error {
	tx, ty, tz := steps(target, per)
	cx, cy, cz := steps(current, per)
	dx, dy, dz := tx-cx, ty-cy, tz-cz

	safe := int64(safeHeightMM * float64(per.Z))
	if dz < 0 {
		if err := c.MoveLinear(AxisZ, safe); err != nil {
			return err
		}
	}
	if err := c.MoveLinear(AxisX, dx); err != nil {
		return err
	}
	if err := c.MoveLinear(AxisY, dy); err != nil {
		return err
	}
	if dz < 0 {
		return c.MoveLinear(AxisZ, dz-safe)
	}
	return c.MoveLinear(AxisZ, dz)
}

func steps(c grid.Coordinates, per grid.StepsPerMM) (x, y, z int64) {
	return int64(c.X * float64(per.X)), int64(c.Y * float64(per.Y)), int64(c.Z * float64(per.Z))
}

// StopAll raises the stop token and de-energizes every motor. Physical
// motion halts even if a running loop has not yet observed the token.
func (c *Controller) StopAll() {
	c.stop.Request()
	for _, id := range AxisIDs {
		if err := c.axes[id].Release(); err != nil {
			c.logger.Error("release failed", zap.String("axis", id.String()), zap.Error(err))
		}
	}
	c.logger.Info("all motors stopped")
}

// Positions is a non-blocking snapshot of every axis counter.
func (c *Controller) Positions() map[AxisID]int64 {
	out := make(map[AxisID]int64, len(c.axes))
	for id, a := range c.axes {
		out[id] = a.Position()
	}
	return out
}

// Limits is a non-blocking snapshot of every switch.
func (c *Controller) Limits() map[AxisID]LimitSnapshot {
	out := make(map[AxisID]LimitSnapshot, len(c.axes))
	for id, a := range c.axes {
		var snap LimitSnapshot
		snap.MinTriggered, _ = a.Triggered(LimitMin)
		snap.MaxTriggered, _ = a.Triggered(LimitMax)
		out[id] = snap
	}
	return out
}
