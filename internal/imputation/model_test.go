package imputation

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microfit/internal/dataset"
	apperrors "microfit/internal/errors"
)

// buildSourceTable creates a source table where wealth depends on age with
// noise, so the conditional distribution is informative
func buildSourceTable(t *testing.T, rows int) *dataset.Table {
	t.Helper()
	ids := make([]int64, rows)
	age := make([]float64, rows)
	wealth := make([]float64, rows)
	for i := 0; i < rows; i++ {
		ids[i] = int64(i + 1)
		age[i] = 20 + float64(i%50)
		// Wealth grows with age; deterministic spread within each age cell
		wealth[i] = age[i]*1000 + float64((i*37)%500)
	}
	table := dataset.New("was", ids)
	require.NoError(t, table.SetColumn("age", age))
	require.NoError(t, table.SetColumn("wealth", wealth))
	return table
}

// seededConfig returns a small, fast, reproducible model configuration
func seededConfig() ModelConfig {
	cfg := DefaultModelConfig()
	cfg.Forest.Trees = 10
	cfg.Forest.MaxDepth = 8
	cfg.Forest.Seed = 42
	return cfg
}

// TestTrainApplyRoundTrip covers the spec scenario: 1,000 source records
// with observed age and wealth, 500 target records with only age; apply
// must fill a non-missing, non-negative wealth for every target record.
func TestTrainApplyRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := buildSourceTable(t, 1000)

	model, err := Train(ctx, "wealth", source, []string{"age"}, []string{"wealth"}, seededConfig())
	require.NoError(t, err)

	targetIDs := make([]int64, 500)
	targetAge := make([]float64, 500)
	for i := range targetIDs {
		targetIDs[i] = int64(i + 1)
		targetAge[i] = 25 + float64(i%40)
	}
	target := dataset.New("frs", targetIDs)
	require.NoError(t, target.SetColumn("age", targetAge))

	require.NoError(t, model.Apply(ctx, target, []string{"wealth"}))

	require.True(t, target.HasColumn("wealth"))
	wealth := target.MustColumn("wealth")
	assert.Len(t, wealth, 500)
	for i, v := range wealth {
		assert.False(t, dataset.IsMissing(v), "record %d missing", i)
		assert.GreaterOrEqual(t, v, 0.0, "record %d negative", i)
	}
}

// TestApplyPreservesDispersion checks that sampled values are not collapsed
// to a single point estimate across records sharing a predictor value
func TestApplyPreservesDispersion(t *testing.T) {
	ctx := context.Background()
	source := buildSourceTable(t, 1000)

	model, err := Train(ctx, "wealth", source, []string{"age"}, []string{"wealth"}, seededConfig())
	require.NoError(t, err)

	ids := make([]int64, 200)
	age := make([]float64, 200)
	for i := range ids {
		ids[i] = int64(i + 1)
		age[i] = 40 // identical predictor for every record
	}
	target := dataset.New("frs", ids)
	require.NoError(t, target.SetColumn("age", age))
	require.NoError(t, model.Apply(ctx, target, nil))

	wealth := target.MustColumn("wealth")
	distinct := make(map[float64]bool)
	for _, v := range wealth {
		distinct[v] = true
	}
	assert.Greater(t, len(distinct), 1, "conditional sampling collapsed to a point estimate")
}

// TestApplySeededReproducible checks that a fixed seed fixes the draws
func TestApplySeededReproducible(t *testing.T) {
	ctx := context.Background()
	source := buildSourceTable(t, 500)

	run := func() []float64 {
		model, err := Train(ctx, "wealth", source, []string{"age"}, []string{"wealth"}, seededConfig())
		require.NoError(t, err)
		target := dataset.New("frs", []int64{1, 2, 3, 4, 5})
		require.NoError(t, target.SetColumn("age", []float64{25, 30, 35, 40, 45}))
		require.NoError(t, model.Apply(ctx, target, nil))
		return target.MustColumn("wealth")
	}

	assert.Equal(t, run(), run())
}

// TestTrainInsufficientRows checks the minimum viable sample guard
func TestTrainInsufficientRows(t *testing.T) {
	ctx := context.Background()
	source := buildSourceTable(t, 10)

	cfg := seededConfig()
	cfg.MinTrainRows = 30
	_, err := Train(ctx, "wealth", source, []string{"age"}, []string{"wealth"}, cfg)
	require.Error(t, err)

	var tde *apperrors.TrainingDataError
	require.ErrorAs(t, err, &tde)
	assert.Equal(t, "wealth", tde.Group)
	assert.True(t, apperrors.IsConfigurationError(err))
}

// TestApplyMissingPredictor checks both predictor failure modes
func TestApplyMissingPredictor(t *testing.T) {
	ctx := context.Background()
	source := buildSourceTable(t, 500)
	model, err := Train(ctx, "wealth", source, []string{"age"}, []string{"wealth"}, seededConfig())
	require.NoError(t, err)

	t.Run("absent column", func(t *testing.T) {
		target := dataset.New("frs", []int64{1, 2})
		err := model.Apply(ctx, target, nil)
		var mpe *apperrors.MissingPredictorError
		require.ErrorAs(t, err, &mpe)
		assert.Equal(t, "age", mpe.Predictor)
		assert.Equal(t, "absent", mpe.Reason)
	})

	t.Run("incomplete column", func(t *testing.T) {
		target := dataset.New("frs", []int64{1, 2})
		require.NoError(t, target.SetColumn("age", []float64{30, dataset.Missing()}))
		err := model.Apply(ctx, target, nil)
		var mpe *apperrors.MissingPredictorError
		require.ErrorAs(t, err, &mpe)
		assert.Equal(t, "incomplete", mpe.Reason)
	})
}

// TestApplyOverwritesExistingOutput checks re-run semantics: outputs
// already present are overwritten, not skipped
func TestApplyOverwritesExistingOutput(t *testing.T) {
	ctx := context.Background()
	source := buildSourceTable(t, 500)
	model, err := Train(ctx, "wealth", source, []string{"age"}, []string{"wealth"}, seededConfig())
	require.NoError(t, err)

	target := dataset.New("frs", []int64{1, 2, 3})
	require.NoError(t, target.SetColumn("age", []float64{30, 40, 50}))
	require.NoError(t, target.SetColumn("wealth", []float64{-1, -1, -1}))

	require.NoError(t, model.Apply(ctx, target, []string{"wealth"}))
	for _, v := range target.MustColumn("wealth") {
		assert.NotEqual(t, -1.0, v)
	}
}

// TestEmpiricalQuantile tests quantile interpolation edge cases
func TestEmpiricalQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, empiricalQuantile(sorted, 0))
	assert.Equal(t, 5.0, empiricalQuantile(sorted, 1))
	assert.Equal(t, 3.0, empiricalQuantile(sorted, 0.5))
	assert.InDelta(t, 1.4, empiricalQuantile(sorted, 0.1), 1e-9)
	assert.True(t, math.IsNaN(empiricalQuantile(nil, 0.5)))
}

// TestForestConfigValidate tests forest configuration bounds
func TestForestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ForestConfig)
		ok     bool
	}{
		{"defaults", func(c *ForestConfig) {}, true},
		{"zero trees", func(c *ForestConfig) { c.Trees = 0 }, false},
		{"zero depth", func(c *ForestConfig) { c.MaxDepth = 0 }, false},
		{"zero leaf", func(c *ForestConfig) { c.MinLeafSize = 0 }, false},
		{"bad fraction", func(c *ForestConfig) { c.SampleFraction = 1.5 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultForestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
