package pipette

import (
	"encoding/json"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Record is the persisted position state: the last completed move and
// pipette configuration, so a restart recovers the last known well instead
// of assuming home.
type Record struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Z            float64 `json:"z"`
	Well         string  `json:"well"`
	PipetteCount int     `json:"pipette_count"`
}

// DefaultRecord is home: well A1 with a single pipette.
func DefaultRecord() Record {
	return Record{Well: "A1", PipetteCount: 1}
}

// Store persists the Record through an afero filesystem so tests run
// against memory.
type Store struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger
}

func NewStore(fs afero.Fs, path string, logger *zap.Logger) *Store {
	return &Store{fs: fs, path: path, logger: logger}
}

// Load returns the saved record, or the default when the file is missing
// or corrupt. Neither case is fatal.
func (s *Store) Load() (Record, bool) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return DefaultRecord(), false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("position file corrupt, using home", zap.String("path", s.path), zap.Error(err))
		return DefaultRecord(), false
	}
	if rec.PipetteCount != 1 && rec.PipetteCount != 3 {
		rec.PipetteCount = 1
	}
	return rec, true
}

func (s *Store) Save(rec Record) error {
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path, data, 0o644)
}
