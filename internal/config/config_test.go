package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadDefaults tests that loading with no file and no env produces
// the documented defaults
func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 50, cfg.Imputation.Trees)
	assert.Equal(t, 10_000, cfg.Calibration.Epochs)
	assert.Equal(t, 0.05, cfg.Calibration.DropoutRate)
	assert.True(t, cfg.Imputation.Concurrent)
}

// TestLoadFromFile tests YAML values overriding defaults
func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: json
  output: stdout
imputation:
  trees: 25
  seed: 7
calibration:
  epochs: 500
  excluded_targets:
    - uk/total_income
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 25, cfg.Imputation.Trees)
	assert.Equal(t, uint64(7), cfg.Imputation.Seed)
	assert.Equal(t, 500, cfg.Calibration.Epochs)
	assert.Equal(t, []string{"uk/total_income"}, cfg.Calibration.ExcludedTargets)

	// Sparse sections fall back to defaults rather than zeroing out
	assert.Equal(t, 12, cfg.Imputation.MaxDepth)
	assert.Equal(t, 0.1, cfg.Calibration.LearningRate)
	assert.Equal(t, "data", cfg.Paths.DataDir)
}

// TestEnvOverridesFile tests env precedence over the YAML file
func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
imputation:
  trees: 25
`)
	t.Setenv("MICROFIT_IMPUTATION_TREES", "99")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Imputation.Trees)
}

// TestLoadRejectsInvalid tests validation failures
func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfigFile(t, `
imputation:
  sample_fraction: 1.5
`)
	_, err := LoadFrom(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sample fraction")

	path = writeConfigFile(t, `
calibration:
  dropout_rate: 1.0
`)
	_, err = LoadFrom(path)
	assert.Error(t, err)
}

// TestLoggingNormalization tests that off-policy logging settings are
// coerced back to JSON output
func TestLoggingNormalization(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  format: text
  output: syslog
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "both", cfg.Logging.Output)
}

// TestPathHelpers tests table and output path construction
func TestPathHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("data", "frs_person.csv"), cfg.TablePath("FRS", "person"))
	assert.Equal(t, filepath.Join("output", "weights.csv"), cfg.OutputPath("weights.csv"))
}
