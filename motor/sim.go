package motor

import (
	"sync"
	"time"
)

// SimConfig lays out a simulated axis in step space. The min switch sits at
// position 0 and the max switch at Travel.
type SimConfig struct {
	Travel int64 // steps between the switches; required when either switch is present
	HasMin bool
	HasMax bool
	Start  int64 // starting position between the switches

	// InvertDirection flips which electrical direction moves toward the
	// max switch, emulating reversed wiring.
	InvertDirection bool

	// SlipEvery drops every Nth pulse when > 0, emulating missed steps so
	// drift cycles see forward/backward asymmetry.
	SlipEvery int64

	// HonorDelay makes Step sleep for the pulse delay. Tests leave it off
	// for zero travel time.
	HonorDelay bool
}

// Sim is an in-memory Driver. It stands in for real hardware in tests and
// lets the daemon run without a connected MCU without fabricating motion
// results: position and switch state behave like a real axis.
type Sim struct {
	cfg SimConfig

	mu       sync.Mutex
	pos      int64
	pulses   int64
	released bool
	stepErr  error
}

var _ Driver = (*Sim)(nil)

func NewSim(cfg SimConfig) *Sim {
	return &Sim{cfg: cfg, pos: cfg.Start}
}

// Pos is the simulated physical position in step space.
func (s *Sim) Pos() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Pulses is the total number of pulses received, including slipped ones.
func (s *Sim) Pulses() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulses
}

// FailWith makes every subsequent Step return err.
func (s *Sim) FailWith(err error) {
	s.mu.Lock()
	s.stepErr = err
	s.mu.Unlock()
}

func (s *Sim) Step(dir Direction, delay time.Duration) error {
	s.mu.Lock()
	if s.stepErr != nil {
		err := s.stepErr
		s.mu.Unlock()
		return err
	}
	s.released = false
	s.pulses++
	slipped := s.cfg.SlipEvery > 0 && s.pulses%s.cfg.SlipEvery == 0
	if !slipped {
		d := dir.delta()
		if s.cfg.InvertDirection {
			d = -d
		}
		s.pos += d
	}
	s.mu.Unlock()
	if s.cfg.HonorDelay && delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func (s *Sim) Triggered(l Limit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch l {
	case LimitMin:
		if !s.cfg.HasMin {
			return false, ErrNoSwitch
		}
		return s.pos <= 0, nil
	case LimitMax:
		if !s.cfg.HasMax {
			return false, ErrNoSwitch
		}
		return s.pos >= s.cfg.Travel, nil
	}
	return false, ErrNoSwitch
}

func (s *Sim) Release() error {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
	return nil
}

// Released reports whether the coils are currently de-energized.
func (s *Sim) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
