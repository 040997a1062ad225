// Package grid maps well-plate positions between well identifiers, physical
// coordinates, and motor steps. The plate is a fixed 8x12 grid addressed as
// A1 through H12.
package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	Rows    = 8
	Columns = 12
)

var ErrInvalidWell = fmt.Errorf("invalid well id")

// Well is one addressable position on the plate. Row 0 is A, Col 0 is 1.
type Well struct {
	Row int
	Col int
}

// ParseWell parses identifiers like "A1" or "H12". Anything outside the
// 8x12 grid is rejected before any motion is attempted.
func ParseWell(id string) (Well, error) {
	if len(id) < 2 {
		return Well{}, fmt.Errorf("%w: %q", ErrInvalidWell, id)
	}
	row := int(strings.ToUpper(id)[0] - 'A')
	if row < 0 || row >= Rows {
		return Well{}, fmt.Errorf("%w: row %q must be A-H", ErrInvalidWell, id[:1])
	}
	col, err := strconv.Atoi(id[1:])
	if err != nil {
		return Well{}, fmt.Errorf("%w: column in %q", ErrInvalidWell, id)
	}
	if col < 1 || col > Columns {
		return Well{}, fmt.Errorf("%w: column %d must be 1-12", ErrInvalidWell, col)
	}
	return Well{Row: row, Col: col - 1}, nil
}

func (w Well) String() string {
	return fmt.Sprintf("%s%d", string(rune('A'+w.Row)), w.Col+1)
}

// Coordinates is a physical position in millimeters. Z of 0 is the top of a
// well; negative Z descends into the well.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Geometry describes the physical plate.
type Geometry struct {
	WellSpacing  float64 `yaml:"wellSpacing"`  // mm between well walls
	WellDiameter float64 `yaml:"wellDiameter"` // mm
	WellHeight   float64 `yaml:"wellHeight"`   // mm
	OriginX      float64 `yaml:"originX"`      // mm, position of A1
	OriginY      float64 `yaml:"originY"`
}

// Pitch is the center-to-center distance between adjacent wells.
func (g Geometry) Pitch() float64 {
	return g.WellDiameter + g.WellSpacing
}

func (g Geometry) Validate() error {
	if g.WellSpacing <= 0 || g.WellDiameter <= 0 || g.WellHeight <= 0 {
		return fmt.Errorf("plate geometry values must be positive (spacing=%v diameter=%v height=%v)",
			g.WellSpacing, g.WellDiameter, g.WellHeight)
	}
	return nil
}

// StepsPerMM is the per-axis steps-to-millimeter calibration.
type StepsPerMM struct {
	X int64
	Y int64
	Z int64
}

func (s StepsPerMM) Validate() error {
	if s.X <= 0 || s.Y <= 0 || s.Z <= 0 {
		return fmt.Errorf("steps per mm must be positive (x=%d y=%d z=%d)", s.X, s.Y, s.Z)
	}
	return nil
}

// Mapper converts between wells, coordinates, and steps. It holds no state
// beyond the plate geometry.
type Mapper struct {
	geom Geometry
}

func NewMapper(g Geometry) (*Mapper, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Mapper{geom: g}, nil
}

func (m *Mapper) Geometry() Geometry { return m.geom }

// Coordinates returns the center of a well at well-top height.
func (m *Mapper) Coordinates(w Well) Coordinates {
	return Coordinates{
		X: m.geom.OriginX + float64(w.Col)*m.geom.Pitch(),
		Y: m.geom.OriginY + float64(w.Row)*m.geom.Pitch(),
		Z: 0,
	}
}

// Well is the inverse of Coordinates, rounding to the nearest well center.
// It reports false when the position falls outside the grid, i.e. the
// gripper is between wells or off the plate.
func (m *Mapper) Well(c Coordinates) (Well, bool) {
	col := int(math.Round((c.X - m.geom.OriginX) / m.geom.Pitch()))
	row := int(math.Round((c.Y - m.geom.OriginY) / m.geom.Pitch()))
	if row < 0 || row >= Rows || col < 0 || col >= Columns {
		return Well{}, false
	}
	return Well{Row: row, Col: col}, true
}

// Steps converts coordinates to motor steps. Conversion truncates toward
// zero rather than rounding; the hardware was calibrated against that
// behavior, so keep it.
func (m *Mapper) Steps(c Coordinates, per StepsPerMM) (x, y, z int64) {
	return int64(c.X * float64(per.X)), int64(c.Y * float64(per.Y)), int64(c.Z * float64(per.Z))
}
