// Package motor drives the four stepper axes of the sampler. Each axis owns
// a signed step counter and is moved one pulse at a time through a Driver,
// the hardware primitive shared by every backend (simulated, remote MCU).
package motor

import (
	"errors"
	"sync/atomic"
	"time"
)

// Direction is the electrical rotation direction of a motor. By wiring
// convention Clockwise increments the position counter and travels toward
// the MAX switch; the drift probe verifies that convention empirically
// rather than trusting it.
type Direction int

const (
	CounterClockwise Direction = iota
	Clockwise
)

func (d Direction) String() string {
	if d == Clockwise {
		return "cw"
	}
	return "ccw"
}

func (d Direction) Opposite() Direction {
	if d == Clockwise {
		return CounterClockwise
	}
	return Clockwise
}

// delta is the position change of one pulse in this direction.
func (d Direction) delta() int64 {
	if d == Clockwise {
		return 1
	}
	return -1
}

// Limit names one physical travel extreme of an axis.
type Limit int

const (
	LimitMin Limit = iota
	LimitMax
)

func (l Limit) String() string {
	if l == LimitMax {
		return "max"
	}
	return "min"
}

// LimitState reports which condition terminated a motion call.
type LimitState int

const (
	NoLimit LimitState = iota
	AtMin
	AtMax
)

func (s LimitState) String() string {
	switch s {
	case AtMin:
		return "min"
	case AtMax:
		return "max"
	}
	return "none"
}

func stateOf(l Limit) LimitState {
	if l == LimitMax {
		return AtMax
	}
	return AtMin
}

// AxisID identifies one of the four motors.
type AxisID int

const (
	AxisX AxisID = iota
	AxisY
	AxisZ
	AxisPipette
)

var AxisIDs = []AxisID{AxisX, AxisY, AxisZ, AxisPipette}

func (id AxisID) String() string {
	switch id {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	case AxisPipette:
		return "pipette"
	}
	return "unknown"
}

// ParseAxisID accepts the names used on the wire and the CLI.
func ParseAxisID(s string) (AxisID, error) {
	for _, id := range AxisIDs {
		if id.String() == s {
			return id, nil
		}
	}
	return 0, errors.New("unknown axis: " + s)
}

// Driver is the hardware pulse primitive for a single motor: set a
// direction and emit one pulse, read a limit switch, de-energize. How the
// pulse is physically realized is the backend's business; callers never
// branch on backend identity.
type Driver interface {
	// Step emits one pulse in the given direction, blocking for the pulse
	// delay. Position accounting is the caller's responsibility.
	Step(dir Direction, delay time.Duration) error

	// Triggered reports whether the given limit switch is pressed.
	// Returns ErrNoSwitch when the axis has no switch on that side.
	Triggered(l Limit) (bool, error)

	// Release de-energizes the motor coils.
	Release() error
}

var (
	// ErrNoSwitch indicates an operation needed a limit switch the axis
	// does not have.
	ErrNoSwitch = errors.New("no limit switch configured")

	// ErrLimitNotReached indicates a limit-seeking move hit its safety
	// step ceiling before the switch triggered.
	ErrLimitNotReached = errors.New("limit not reached within safety ceiling")
)

// DefaultMaxSteps bounds every limit-seeking move so a disconnected or
// failed switch cannot cause a runaway.
const DefaultMaxSteps = 50000

// StopToken is the single cooperative cancellation flag shared by the
// controller, the orchestrator, and the drift probe. It is observed at
// pulse, cycle, repetition, and step boundaries; an in-flight pulse always
// completes.
type StopToken struct {
	flag atomic.Bool
}

func NewStopToken() *StopToken { return &StopToken{} }

// Request is idempotent.
func (t *StopToken) Request() { t.flag.Store(true) }

// Clear re-arms the token at the start of a new run.
func (t *StopToken) Clear() { t.flag.Store(false) }

func (t *StopToken) Stopped() bool { return t.flag.Load() }
