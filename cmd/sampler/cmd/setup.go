package cmd

import (
	"fmt"
	"os"

	"github.com/jt05610/sampler/comm/mcu"
	"github.com/jt05610/sampler/comm/serial"
	"github.com/jt05610/sampler/env"
	"github.com/jt05610/sampler/grid"
	"github.com/jt05610/sampler/motor"
	"github.com/jt05610/sampler/pipette"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// system wires the configured backend, axes, controller, and orchestrator
// together for every subcommand.
type system struct {
	environ *env.Environment
	ctrl    *motor.Controller
	orch    *pipette.Orchestrator
	client  *mcu.Client // nil on the simulated backend
	logger  *zap.Logger
}

func buildSystem(logger *zap.Logger) (*system, error) {
	environ, err := env.Load(logger)
	if err != nil {
		return nil, err
	}

	if environ.PlateProfile != "" {
		f, err := os.Open(environ.PlateProfile)
		if err != nil {
			return nil, fmt.Errorf("open plate profile: %w", err)
		}
		profile, err := grid.LoadProfile(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		logger.Info("using plate profile", zap.String("name", profile.Name))
		environ.Geometry = profile.Geometry
	}

	s := &system{environ: environ, logger: logger}
	drivers, err := s.drivers()
	if err != nil {
		return nil, err
	}

	stop := motor.NewStopToken()
	axes := map[motor.AxisID]*motor.Axis{}
	for _, id := range motor.AxisIDs {
		cfg := motor.AxisConfig{HasMin: true, HasMax: true, StepDelay: environ.TravelDelay}
		if id == motor.AxisPipette {
			// the plunger only has a switch at full dispense
			cfg.HasMax = false
			cfg.StepDelay = environ.PipetteDelay
		}
		axes[id] = motor.NewAxis(id, drivers[id], cfg, stop, logger)
	}
	s.ctrl, err = motor.NewController(axes, stop, logger)
	if err != nil {
		return nil, err
	}

	store := pipette.NewStore(afero.NewOsFs(), environ.PositionFile, logger)
	s.orch, err = pipette.New(s.ctrl, environ.PipetteConfig(), store, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *system) drivers() (map[motor.AxisID]motor.Driver, error) {
	environ := s.environ
	out := map[motor.AxisID]motor.Driver{}
	switch environ.Backend {
	case env.BackendSim:
		s.logger.Warn("running against simulated hardware; motion results are not real")
		for _, id := range motor.AxisIDs {
			out[id] = motor.NewSim(motor.SimConfig{
				Travel:     environ.SimTravel,
				HasMin:     true,
				HasMax:     id != motor.AxisPipette,
				Start:      environ.SimTravel / 2,
				HonorDelay: true,
			})
		}
		return out, nil

	case env.BackendSerial:
		port, err := serial.Open(environ.SerialPort, environ.SerialBaud)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", environ.SerialPort, err)
		}
		s.client = mcu.NewClient(port, s.logger)

	case env.BackendSocket:
		client, err := mcu.Dial(environ.SocketPath, s.logger)
		if err != nil {
			return nil, err
		}
		s.client = client

	default:
		return nil, fmt.Errorf("unknown backend %q", environ.Backend)
	}

	if err := s.client.Ping(); err != nil {
		return nil, err
	}
	s.logger.Info("mcu connected", zap.String("backend", string(s.environ.Backend)))
	for _, id := range motor.AxisIDs {
		out[id] = s.client.Driver(id)
	}
	return out, nil
}

func (s *system) Close() {
	s.ctrl.StopAll()
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("close mcu link", zap.Error(err))
		}
	}
}
