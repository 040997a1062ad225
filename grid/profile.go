package grid

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Profile is a named plate geometry loaded from a YAML file, so alternate
// plates of the same 8x12 footprint can be calibrated without rebuilding.
type Profile struct {
	Name     string   `yaml:"name"`
	Geometry Geometry `yaml:"geometry"`
}

func LoadProfile(r io.Reader) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode plate profile: %w", err)
	}
	if err := p.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("plate profile %q: %w", p.Name, err)
	}
	return &p, nil
}
