package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Variables, 5)
	assert.Equal(t, "Delta_R", cfg.Cuts[1].Label)
	assert.Equal(t, "Jet_delta_R < 3.952", cfg.Cuts[1].Expr)
	assert.Equal(t, 60.0, cfg.Window.Lo)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
year: 2022
era: F
is_data: true
window: {lo: 70, hi: 110}
cuts:
  - label: Delta_R
    expr: Jet_delta_R < 3.95
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2022, cfg.Year)
	assert.True(t, cfg.IsData)
	assert.Equal(t, 70.0, cfg.Window.Lo)
	require.Len(t, cfg.Cuts, 1)
	assert.Equal(t, "Jet_delta_R < 3.95", cfg.Cuts[0].Expr)
	assert.Equal(t, 1000, cfg.Mass.Bins)
	assert.Equal(t, 100.0, cfg.Selection.TightPhotonPt)
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "run.yaml")
	require.NoError(t, Write(path, Default()))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	for name, mutate := range map[string]func(*Run){
		"duplicate cut":   func(r *Run) { r.Cuts[1].Label = r.Cuts[0].Label },
		"bad binning":     func(r *Run) { r.Variables[0].Binning.Bins = 0 },
		"inverted window": func(r *Run) { r.Window.Lo, r.Window.Hi = 120, 60 },
		"theory length":   func(r *Run) { r.Theory = r.Theory[:4] },
		"category range":  func(r *Run) { r.Categories[0] = 7 },
		"mass range":      func(r *Run) { r.MassRange.Lo = 300 },
		"no trigger":      func(r *Run) { r.Selection.Triggers = nil },
		"no final cut":    func(r *Run) { r.FinalCut.Expr = "" },
	} {
		cfg := Default()
		mutate(&cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalid, name)
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
