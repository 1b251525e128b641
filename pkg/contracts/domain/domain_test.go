package domain

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultVariableGroupsAreValid tests that the built-in group
// sequence passes struct validation
func TestDefaultVariableGroupsAreValid(t *testing.T) {
	validate := validator.New()
	groups := DefaultVariableGroups()
	require.NotEmpty(t, groups)

	for _, group := range groups {
		assert.NoError(t, validate.Struct(group), "group %s", group.Name)
	}

	// Later groups condition on variables produced earlier: consumption
	// uses the vehicle count imputed by the wealth group
	assert.True(t, groups[0].ProducesOutput("num_vehicles"))
	assert.Contains(t, groups[1].Predictors, "num_vehicles")
	assert.False(t, groups[0].ProducesOutput("employment_income"))
}

// TestTargetName tests the diagnostic identifier format
func TestTargetName(t *testing.T) {
	target := Target{MetricID: "total_income", AreaCode: "E14000530", Year: 2025, Value: 1e9}
	assert.Equal(t, "E14000530/total_income", target.Name())

	national := Target{MetricID: "total_income", AreaCode: AreaNational}
	assert.Equal(t, "uk/total_income", national.Name())
}
