package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microfit/internal/dataset"
	apperrors "microfit/internal/errors"
	"microfit/pkg/contracts/domain"
)

// testSurveys builds a source survey (was) with observed wealth outputs
// and a target survey (frs) carrying only the raw predictors
func testSurveys(t *testing.T, rows int) Surveys {
	t.Helper()

	wasIDs := make([]int64, rows)
	age := make([]float64, rows)
	vehicles := make([]float64, rows)
	spending := make([]float64, rows)
	for i := 0; i < rows; i++ {
		wasIDs[i] = int64(i + 1)
		age[i] = 20 + float64(i%50)
		vehicles[i] = float64(i % 3)
		spending[i] = 50*vehicles[i] + float64(i%20)
	}
	was := dataset.New("household", wasIDs)
	require.NoError(t, was.SetColumn("age", age))
	require.NoError(t, was.SetColumn("num_vehicles", vehicles))
	require.NoError(t, was.SetColumn("fuel_spending", spending))

	frsIDs := make([]int64, rows/2)
	frsAge := make([]float64, rows/2)
	for i := range frsIDs {
		frsIDs[i] = int64(i + 1)
		frsAge[i] = 25 + float64(i%40)
	}
	frs := dataset.New("household", frsIDs)
	require.NoError(t, frs.SetColumn("age", frsAge))

	return Surveys{
		"was": dataset.Tables{"household": was},
		"frs": dataset.Tables{"household": frs},
	}
}

func wealthGroup() domain.VariableGroup {
	return domain.VariableGroup{
		Name:          "wealth",
		SourceSurvey:  "was",
		SourceEntity:  "household",
		TargetSurveys: []string{"frs"},
		TargetEntity:  "household",
		Predictors:    []string{"age"},
		Outputs:       []string{"num_vehicles"},
		NonNegative:   []string{"num_vehicles"},
	}
}

func consumptionGroup() domain.VariableGroup {
	return domain.VariableGroup{
		Name:          "consumption",
		SourceSurvey:  "was",
		SourceEntity:  "household",
		TargetSurveys: []string{"frs"},
		TargetEntity:  "household",
		Predictors:    []string{"num_vehicles"},
		Outputs:       []string{"fuel_spending"},
		NonNegative:   []string{"fuel_spending"},
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Model.Forest.Trees = 5
	cfg.Model.Forest.Seed = 7
	return cfg
}

// TestValidateOrderAccepts tests a valid topological order
func TestValidateOrderAccepts(t *testing.T) {
	surveys := testSurveys(t, 200)
	err := ValidateOrder(surveys, []domain.VariableGroup{wealthGroup(), consumptionGroup()})
	assert.NoError(t, err)
}

// TestValidateOrderRejects covers the spec scenario: consumption declared
// before the wealth group that produces its num_vehicles predictor must
// fail with a DependencyOrderError naming both
func TestValidateOrderRejects(t *testing.T) {
	surveys := testSurveys(t, 200)
	err := ValidateOrder(surveys, []domain.VariableGroup{consumptionGroup(), wealthGroup()})
	require.Error(t, err)

	var doe *apperrors.DependencyOrderError
	require.ErrorAs(t, err, &doe)
	assert.Equal(t, "consumption", doe.Group)
	assert.Equal(t, "num_vehicles", doe.Predictor)
}

// TestRunFailsBeforeTraining checks that an ordering violation aborts the
// run without touching any target table
func TestRunFailsBeforeTraining(t *testing.T) {
	surveys := testSurveys(t, 200)
	runner := NewRunner(fastConfig())

	err := runner.Run(context.Background(), surveys, []domain.VariableGroup{consumptionGroup(), wealthGroup()})
	require.Error(t, err)

	var doe *apperrors.DependencyOrderError
	assert.ErrorAs(t, err, &doe)

	frs, err := surveys["frs"].Get("household")
	require.NoError(t, err)
	assert.False(t, frs.HasColumn("num_vehicles"))
	assert.False(t, frs.HasColumn("fuel_spending"))
}

// TestRunSequence tests a two-group chained run end to end
func TestRunSequence(t *testing.T) {
	surveys := testSurveys(t, 400)
	runner := NewRunner(fastConfig())

	require.NoError(t, runner.Run(context.Background(), surveys, []domain.VariableGroup{wealthGroup(), consumptionGroup()}))

	frs, err := surveys["frs"].Get("household")
	require.NoError(t, err)
	require.True(t, frs.HasColumn("num_vehicles"))
	require.True(t, frs.HasColumn("fuel_spending"))

	for _, name := range []string{"num_vehicles", "fuel_spending"} {
		for i, v := range frs.MustColumn(name) {
			assert.False(t, dataset.IsMissing(v), "%s record %d missing", name, i)
			assert.GreaterOrEqual(t, v, 0.0, "%s record %d negative", name, i)
		}
	}
}

// TestRunConcurrentMatchesSequential checks wave scheduling keeps chained
// groups ordered even with concurrency enabled
func TestRunConcurrentMatchesSequential(t *testing.T) {
	surveys := testSurveys(t, 400)
	cfg := fastConfig()
	cfg.Concurrent = true
	runner := NewRunner(cfg)

	require.NoError(t, runner.Run(context.Background(), surveys, []domain.VariableGroup{wealthGroup(), consumptionGroup()}))

	frs, err := surveys["frs"].Get("household")
	require.NoError(t, err)
	assert.True(t, frs.HasColumn("fuel_spending"))
}

// TestWavesRespectDependencies tests the wave partitioner directly
func TestWavesRespectDependencies(t *testing.T) {
	cfg := fastConfig()
	cfg.Concurrent = true
	runner := NewRunner(cfg)

	disjoint := domain.VariableGroup{
		Name:          "vat",
		SourceSurvey:  "etb",
		SourceEntity:  "household",
		TargetSurveys: []string{"frs"},
		TargetEntity:  "household",
		Predictors:    []string{"age"},
		Outputs:       []string{"vat_rate"},
	}

	waves := runner.waves([]domain.VariableGroup{wealthGroup(), disjoint, consumptionGroup()})
	require.Len(t, waves, 2)
	assert.Len(t, waves[0], 2, "wealth and vat are independent and share a wave")
	assert.Equal(t, "consumption", waves[1][0].Name)
}

// TestValidateOrderUnknownSurvey tests the unknown-survey failure mode
func TestValidateOrderUnknownSurvey(t *testing.T) {
	surveys := testSurveys(t, 100)
	group := wealthGroup()
	group.SourceSurvey = "nonexistent"
	err := ValidateOrder(surveys, []domain.VariableGroup{group})
	assert.Error(t, err)
}
