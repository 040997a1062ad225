// Package pipette sequences well-to-well liquid transfers on top of the
// motion controller: move, aspirate, dispense, rinse, with repetition
// policies, cooperative cancellation, and position persistence.
package pipette

import (
	"errors"
	"fmt"
	"time"

	"github.com/jt05610/sampler/grid"
)

var (
	// ErrBusy rejects a new run while one is executing. Runs are never
	// queued.
	ErrBusy = errors.New("a sequence is already executing")

	ErrInvalidVolume       = errors.New("volume must be greater than 0 and at most 10 mL")
	ErrInvalidPipetteCount = errors.New("pipette count must be 1 or 3")
	ErrInvalidConfig       = errors.New("configuration invalid")
)

// RepetitionMode selects how a step repeats. The wire names match the
// frontend payloads.
type RepetitionMode string

const (
	RepeatQuantity      RepetitionMode = "quantity"
	RepeatTimeFrequency RepetitionMode = "timeFrequency"
)

// Repetition is the step's repetition policy. Exactly one mode should be
// active; a step with an unknown mode executes once with a logged warning
// rather than failing the sequence.
type Repetition struct {
	Mode            RepetitionMode `json:"mode"`
	Quantity        uint32         `json:"quantity,omitempty"`
	IntervalSeconds uint32         `json:"interval,omitempty"`
	DurationSeconds uint32         `json:"duration,omitempty"`
}

// Step is one entry in a pipetting sequence.
type Step struct {
	PickupWell   string     `json:"pickupWell"`
	DropoffWell  string     `json:"dropoffWell"`
	RinseWell    string     `json:"rinseWell,omitempty"`
	VolumeML     float64    `json:"volumeMl"`
	WaitSeconds  uint32     `json:"waitTime"`
	Cycles       uint32     `json:"cycles"`
	Repetition   Repetition `json:"repetition"`
	PipetteCount int        `json:"pipetteCount"`
}

// Validate rejects a malformed step before any motion is attempted.
func (s Step) Validate() error {
	if _, err := grid.ParseWell(s.PickupWell); err != nil {
		return fmt.Errorf("pickup well: %w", err)
	}
	if _, err := grid.ParseWell(s.DropoffWell); err != nil {
		return fmt.Errorf("dropoff well: %w", err)
	}
	if s.RinseWell != "" {
		if _, err := grid.ParseWell(s.RinseWell); err != nil {
			return fmt.Errorf("rinse well: %w", err)
		}
	}
	if s.VolumeML <= 0 || s.VolumeML > 10 {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, s.VolumeML)
	}
	if s.Cycles < 1 {
		return fmt.Errorf("cycles must be at least 1, got %d", s.Cycles)
	}
	if s.PipetteCount != 1 && s.PipetteCount != 3 {
		return fmt.Errorf("%w: %d", ErrInvalidPipetteCount, s.PipetteCount)
	}
	if s.Repetition.Mode == RepeatQuantity && s.Repetition.Quantity < 1 {
		return fmt.Errorf("repetition quantity must be at least 1, got %d", s.Repetition.Quantity)
	}
	return nil
}

// Operation is what the worker is doing right now.
type Operation string

const (
	OpIdle       Operation = "idle"
	OpMoving     Operation = "moving"
	OpAspirating Operation = "aspirating"
	OpDispensing Operation = "dispensing"
)

// Outcome is the terminal state of the last run.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stoppedByUser"
	OutcomeError     Outcome = "error"
)

// Status is a non-blocking snapshot for the control surface. It is always
// well formed, even while an error is being processed.
type Status struct {
	RunID         string           `json:"runId,omitempty"`
	Position      grid.Coordinates `json:"position"`
	CurrentWell   string           `json:"currentWell,omitempty"`
	PipetteCount  int              `json:"pipetteCount"`
	IsExecuting   bool             `json:"isExecuting"`
	Operation     Operation        `json:"currentOperation"`
	OperationWell string           `json:"operationWell,omitempty"`
	LastOutcome   Outcome          `json:"lastOutcome,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
}

// Config carries the geometry and speed constants the orchestrator derives
// its motion from. The configuration provider may swap it at runtime via
// Reconfigure.
type Config struct {
	Geometry          grid.Geometry
	StepsPerMM        grid.StepsPerMM
	PipetteStepsPerML int64
	PickupDepthMM     float64 // descent into the well for pickup
	DropoffDepthMM    float64
	SafeHeightMM      float64 // travel clearance above well tops
	RinseCycles       int
	RinseVolumeML     float64
	SettleTime        time.Duration // pause after aspirate/dispense
}

func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if err := c.StepsPerMM.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if c.PipetteStepsPerML <= 0 {
		return fmt.Errorf("%w: pipette steps per mL must be positive", ErrInvalidConfig)
	}
	if c.PickupDepthMM <= 0 || c.DropoffDepthMM <= 0 || c.SafeHeightMM <= 0 {
		return fmt.Errorf("%w: depths and safe height must be positive", ErrInvalidConfig)
	}
	if c.RinseCycles <= 0 || c.RinseVolumeML <= 0 {
		return fmt.Errorf("%w: rinse cycles and volume must be positive", ErrInvalidConfig)
	}
	return nil
}
