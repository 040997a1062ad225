package grid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeometry() Geometry {
	return Geometry{WellSpacing: 4, WellDiameter: 8, WellHeight: 14}
}

func TestParseWell(t *testing.T) {
	cases := []struct {
		id      string
		want    Well
		wantErr bool
	}{
		{id: "A1", want: Well{0, 0}},
		{id: "a1", want: Well{0, 0}},
		{id: "H12", want: Well{7, 11}},
		{id: "B3", want: Well{1, 2}},
		{id: "I1", wantErr: true},
		{id: "A0", wantErr: true},
		{id: "A13", wantErr: true},
		{id: "A", wantErr: true},
		{id: "", wantErr: true},
		{id: "Ax", wantErr: true},
		{id: "1A", wantErr: true},
	}
	for _, c := range cases {
		t.Run(c.id, func(t *testing.T) {
			got, err := ParseWell(c.id)
			if c.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidWell)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestWellString(t *testing.T) {
	assert.Equal(t, "A1", Well{0, 0}.String())
	assert.Equal(t, "H12", Well{7, 11}.String())
}

func TestRoundTrip(t *testing.T) {
	m, err := NewMapper(testGeometry())
	require.NoError(t, err)
	for row := 0; row < Rows; row++ {
		for col := 0; col < Columns; col++ {
			w := Well{Row: row, Col: col}
			got, ok := m.Well(m.Coordinates(w))
			require.True(t, ok, "well %s", w)
			assert.Equal(t, w, got)
		}
	}
}

func TestWellOffGrid(t *testing.T) {
	m, err := NewMapper(testGeometry())
	require.NoError(t, err)
	pitch := m.Geometry().Pitch()

	// strictly between two well centers
	_, ok := m.Well(Coordinates{X: pitch / 2, Y: 0})
	assert.True(t, ok, "half pitch rounds to a neighbor")

	cases := []Coordinates{
		{X: -pitch, Y: 0},
		{X: 0, Y: -pitch},
		{X: float64(Columns) * pitch, Y: 0},
		{X: 0, Y: float64(Rows) * pitch},
	}
	for _, c := range cases {
		_, ok := m.Well(c)
		assert.False(t, ok, "%+v should be off grid", c)
	}
}

func TestStepsTruncates(t *testing.T) {
	m, err := NewMapper(testGeometry())
	require.NoError(t, err)
	per := StepsPerMM{X: 100, Y: 100, Z: 100}

	x, y, z := m.Steps(Coordinates{X: 1.009, Y: 2.999, Z: -0.5}, per)
	assert.Equal(t, int64(100), x, "floor toward zero, not round")
	assert.Equal(t, int64(299), y)
	assert.Equal(t, int64(-50), z)
}

func TestGeometryValidate(t *testing.T) {
	g := testGeometry()
	require.NoError(t, g.Validate())
	g.WellDiameter = 0
	require.Error(t, g.Validate())
}

func TestLoadProfile(t *testing.T) {
	src := `name: deep-well
geometry:
  wellSpacing: 5.0
  wellDiameter: 7.0
  wellHeight: 20.0
`
	p, err := LoadProfile(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "deep-well", p.Name)
	assert.Equal(t, 12.0, p.Geometry.Pitch())

	_, err = LoadProfile(strings.NewReader("name: bad\ngeometry: {wellSpacing: -1}\n"))
	require.Error(t, err)
}
