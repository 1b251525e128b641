package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microfit/internal/dataset"
)

// TestLoadGroupsDefaults tests the fallback when no groups file exists
func TestLoadGroupsDefaults(t *testing.T) {
	groups, err := loadGroups(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, groups)
	assert.Equal(t, "wealth", groups[0].Name)
}

// TestLoadGroupsFromYAML tests parsing and validation of a groups file
func TestLoadGroupsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
groups:
  - name: wealth
    source_survey: was
    source_entity: household
    target_surveys: [frs]
    target_entity: household
    predictors: [total_income, num_adults]
    outputs: [net_wealth]
    non_negative: [net_wealth]
`), 0644))

	groups, err := loadGroups(path)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"frs"}, groups[0].TargetSurveys)
	assert.Equal(t, []string{"net_wealth"}, groups[0].Outputs)

	// A group missing required fields is rejected
	require.NoError(t, os.WriteFile(path, []byte(`
groups:
  - name: broken
`), 0644))
	_, err = loadGroups(path)
	assert.Error(t, err)
}

// TestLoadBandsMissingFile tests that an absent bands file disables the
// stage instead of failing
func TestLoadBandsMissingFile(t *testing.T) {
	bands, err := loadBands(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, bands)
}

// TestLoadBandsFromYAML tests band target parsing
func TestLoadBandsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bands.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bands:
  - min_total_income: 0
    max_total_income: 50000
    share_with_gains: 0.02
    percentiles:
      - {quantile: 0.5, amount: 3000}
      - {quantile: 0.9, amount: 20000}
`), 0644))

	bands, err := loadBands(path)
	require.NoError(t, err)
	require.Len(t, bands, 1)
	assert.Equal(t, 0.02, bands[0].ShareWithGains)
	assert.Len(t, bands[0].Percentiles, 2)
}

// TestPersonWeights tests household weight expansion onto persons
func TestPersonWeights(t *testing.T) {
	persons := dataset.New("person", []int64{1, 2, 3})
	require.NoError(t, persons.SetColumn("household_id", []float64{10, 10, 20}))

	weights, err := personWeights(persons, []int64{10, 20}, []float64{1.5, 2.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 1.5, 2.5}, weights)

	// Unknown household reference fails loudly
	require.NoError(t, persons.SetColumn("household_id", []float64{10, 99, 20}))
	_, err = personWeights(persons, []int64{10, 20}, []float64{1.5, 2.5})
	assert.Error(t, err)
}
