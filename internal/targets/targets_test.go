package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microfit/internal/dataset"
	"microfit/pkg/contracts/domain"
)

func buildHouseholds(t *testing.T) *dataset.Table {
	t.Helper()
	table := dataset.New("household", []int64{1, 2, 3, 4})
	require.NoError(t, table.SetColumn("total_income", []float64{100, 200, 0, 400}))
	require.NoError(t, table.SetColumn("has_children", []float64{1, 0, 1, 1}))
	require.NoError(t, table.SetColumn("constituency", []float64{101, 101, 102, 102}))
	return table
}

func buildRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry([]Metric{
		{ID: "total_income", Kind: domain.MetricSum, Variable: "total_income"},
		{ID: "earner_count", Kind: domain.MetricCount, Variable: "total_income"},
		{ID: "child_share_of_earners", Kind: domain.MetricShare, Variable: "has_children", BaseVariable: "total_income"},
	})
	require.NoError(t, err)
	return registry
}

// TestNewRegistryRejectsDuplicates tests duplicate and malformed metrics
func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Metric{
		{ID: "m", Kind: domain.MetricSum, Variable: "x"},
		{ID: "m", Kind: domain.MetricSum, Variable: "y"},
	})
	assert.Error(t, err)

	_, err = NewRegistry([]Metric{{ID: "s", Kind: domain.MetricShare, Variable: "x"}})
	assert.Error(t, err, "share without base variable must be rejected")
}

// TestBuildMatrixSumAndCount tests national sum and count columns
func TestBuildMatrixSumAndCount(t *testing.T) {
	table := buildHouseholds(t)
	registry := buildRegistry(t)

	targetList := []domain.Target{
		{MetricID: "total_income", AreaCode: domain.AreaNational, Year: 2025, Value: 700},
		{MetricID: "earner_count", AreaCode: domain.AreaNational, Year: 2025, Value: 3},
	}
	matrix, values, err := BuildMatrix(table, registry, targetList, NationalAreaIndex(table.Len()))
	require.NoError(t, err)

	rows, cols := matrix.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, []float64{700, 3}, values)

	// Sum column carries raw values, count column indicators
	assert.Equal(t, 100.0, matrix.At(0, 0))
	assert.Equal(t, 0.0, matrix.At(2, 0))
	assert.Equal(t, 1.0, matrix.At(0, 1))
	assert.Equal(t, 0.0, matrix.At(2, 1))
}

// TestBuildMatrixAreaRestriction tests that area targets zero out other
// areas' records
func TestBuildMatrixAreaRestriction(t *testing.T) {
	table := buildHouseholds(t)
	registry := buildRegistry(t)
	areas, err := AreaIndexFromColumn(table, "constituency")
	require.NoError(t, err)

	targetList := []domain.Target{
		{MetricID: "total_income", AreaCode: "101", Year: 2025, Value: 300},
	}
	matrix, _, err := BuildMatrix(table, registry, targetList, areas)
	require.NoError(t, err)

	assert.Equal(t, 100.0, matrix.At(0, 0))
	assert.Equal(t, 200.0, matrix.At(1, 0))
	assert.Equal(t, 0.0, matrix.At(2, 0))
	assert.Equal(t, 0.0, matrix.At(3, 0))
}

// TestBuildMatrixShareLinearization tests the share-to-sum rewrite: the
// fitted value becomes zero and contributions are a - value*b
func TestBuildMatrixShareLinearization(t *testing.T) {
	table := buildHouseholds(t)
	registry := buildRegistry(t)

	targetList := []domain.Target{
		{MetricID: "child_share_of_earners", AreaCode: domain.AreaNational, Year: 2025, Value: 0.5},
	}
	matrix, values, err := BuildMatrix(table, registry, targetList, NationalAreaIndex(table.Len()))
	require.NoError(t, err)

	assert.Equal(t, []float64{0}, values)
	// Record 0: has children and earns: 1 - 0.5*1 = 0.5
	assert.Equal(t, 0.5, matrix.At(0, 0))
	// Record 1: earns, no children: 0 - 0.5*1 = -0.5
	assert.Equal(t, -0.5, matrix.At(1, 0))
	// Record 2: children, no earnings: 1 - 0 = 1
	assert.Equal(t, 1.0, matrix.At(2, 0))
}

// TestBuildMatrixUnknownMetric tests the unknown-metric failure mode
func TestBuildMatrixUnknownMetric(t *testing.T) {
	table := buildHouseholds(t)
	registry := buildRegistry(t)

	_, _, err := BuildMatrix(table, registry, []domain.Target{
		{MetricID: "nope", AreaCode: domain.AreaNational, Year: 2025, Value: 1},
	}, NationalAreaIndex(table.Len()))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}
