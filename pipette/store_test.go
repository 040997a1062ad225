package pipette

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStoreMissingFileDefaultsToHome(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/nope.json", zaptest.NewLogger(t))
	rec, loaded := store.Load()
	assert.False(t, loaded)
	assert.Equal(t, DefaultRecord(), rec)
	assert.Equal(t, "A1", rec.Well)
	assert.Equal(t, 1, rec.PipetteCount)
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/position.json", zaptest.NewLogger(t))
	want := Record{X: 12, Y: 24, Z: -5, Well: "C2", PipetteCount: 3}
	require.NoError(t, store.Save(want))

	got, loaded := store.Load()
	assert.True(t, loaded)
	assert.Equal(t, want, got)
}

func TestStoreCorruptFileDefaultsToHome(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/position.json", []byte("{not json"), 0o644))
	store := NewStore(fs, "/position.json", zaptest.NewLogger(t))

	rec, loaded := store.Load()
	assert.False(t, loaded)
	assert.Equal(t, DefaultRecord(), rec)
}

func TestStoreSanitizesPipetteCount(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/position.json",
		[]byte(`{"x":1,"y":2,"z":0,"well":"A2","pipette_count":7}`), 0o644))
	store := NewStore(fs, "/position.json", zaptest.NewLogger(t))

	rec, loaded := store.Load()
	assert.True(t, loaded)
	assert.Equal(t, 1, rec.PipetteCount)
	assert.Equal(t, "A2", rec.Well)
}
