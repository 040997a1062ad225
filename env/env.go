// Package env loads the sampler's configuration from the environment,
// with a .env file overlay. Every geometry and speed value has a
// calibrated default so a bare environment still runs.
package env

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/jt05610/sampler/grid"
	"github.com/jt05610/sampler/pipette"
	"go.uber.org/zap"
)

// Backend selects how step pulses are physically realized.
type Backend string

const (
	BackendSim    Backend = "sim"
	BackendSerial Backend = "serial"
	BackendSocket Backend = "socket"
)

type Environment struct {
	Backend    Backend
	SerialPort string
	SerialBaud int
	SocketPath string

	// Telemetry is disabled when RabbitURI is empty.
	RabbitURI string
	Exchange  string

	PositionFile string
	PlateProfile string // optional YAML plate profile path

	Geometry          grid.Geometry
	StepsPerMM        grid.StepsPerMM
	PipetteStepsPerML int64
	PickupDepthMM     float64
	DropoffDepthMM    float64
	SafeHeightMM      float64
	RinseCycles       int
	RinseVolumeML     float64

	TravelDelay  time.Duration
	PipetteDelay time.Duration

	SimTravel int64 // simulated axis length in steps
}

// Load reads the environment. A missing .env file is fine; explicit
// variables win over file entries either way.
func Load(logger *zap.Logger) (*Environment, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not read .env file", zap.Error(err))
	}

	e := &Environment{
		Backend:    Backend(str("SAMPLER_BACKEND", string(BackendSim))),
		SerialPort: str("SERIAL_PORT", ""),
		SocketPath: str("SOCKET_PATH", "/var/run/arduino-router.sock"),
		RabbitURI:  str("RABBITMQ_URI", ""),
		Exchange:   str("AMQP_EXCHANGE", "sampler"),

		PositionFile: str("POSITION_FILE", "pipette_position.json"),
		PlateProfile: str("PLATE_PROFILE", ""),
	}

	var err error
	if e.SerialBaud, err = integer("SERIAL_BAUD", 115200); err != nil {
		return nil, err
	}
	if e.Geometry.WellSpacing, err = float("WELL_SPACING", 4.0); err != nil {
		return nil, err
	}
	if e.Geometry.WellDiameter, err = float("WELL_DIAMETER", 8.0); err != nil {
		return nil, err
	}
	if e.Geometry.WellHeight, err = float("WELL_HEIGHT", 14.0); err != nil {
		return nil, err
	}
	var n int
	if n, err = integer("STEPS_PER_MM_X", 100); err != nil {
		return nil, err
	}
	e.StepsPerMM.X = int64(n)
	if n, err = integer("STEPS_PER_MM_Y", 100); err != nil {
		return nil, err
	}
	e.StepsPerMM.Y = int64(n)
	if n, err = integer("STEPS_PER_MM_Z", 100); err != nil {
		return nil, err
	}
	e.StepsPerMM.Z = int64(n)
	if n, err = integer("PIPETTE_STEPS_PER_ML", 1000); err != nil {
		return nil, err
	}
	e.PipetteStepsPerML = int64(n)
	if e.PickupDepthMM, err = float("PICKUP_DEPTH", 10.0); err != nil {
		return nil, err
	}
	if e.DropoffDepthMM, err = float("DROPOFF_DEPTH", 5.0); err != nil {
		return nil, err
	}
	if e.SafeHeightMM, err = float("SAFE_HEIGHT", 20.0); err != nil {
		return nil, err
	}
	if e.RinseCycles, err = integer("RINSE_CYCLES", 3); err != nil {
		return nil, err
	}
	if e.RinseVolumeML, err = float("RINSE_VOLUME_ML", 0.5); err != nil {
		return nil, err
	}
	if e.TravelDelay, err = delay("TRAVEL_SPEED", time.Millisecond); err != nil {
		return nil, err
	}
	if e.PipetteDelay, err = delay("PIPETTE_SPEED", 2*time.Millisecond); err != nil {
		return nil, err
	}
	if n, err = integer("SIM_TRAVEL", 20000); err != nil {
		return nil, err
	}
	e.SimTravel = int64(n)

	if e.Backend == BackendSerial && e.SerialPort == "" {
		return nil, fmt.Errorf("SERIAL_PORT must be set for the serial backend")
	}
	return e, nil
}

// PipetteConfig assembles the orchestrator's derived constants.
func (e *Environment) PipetteConfig() pipette.Config {
	return pipette.Config{
		Geometry:          e.Geometry,
		StepsPerMM:        e.StepsPerMM,
		PipetteStepsPerML: e.PipetteStepsPerML,
		PickupDepthMM:     e.PickupDepthMM,
		DropoffDepthMM:    e.DropoffDepthMM,
		SafeHeightMM:      e.SafeHeightMM,
		RinseCycles:       e.RinseCycles,
		RinseVolumeML:     e.RinseVolumeML,
		SettleTime:        500 * time.Millisecond,
	}
}

func str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func integer(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func float(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

// delay parses a per-step delay given in seconds, the unit the calibration
// sheets use.
func delay(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return time.Duration(f * float64(time.Second)), nil
}
