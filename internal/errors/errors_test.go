package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestValidationError tests ValidationError formatting
func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "Epochs", Message: "must be positive", Value: -1}
	assert.Equal(t, "Epochs: must be positive", err.Error())
}

// TestMissingPredictorError tests MissingPredictorError formatting and code
func TestMissingPredictorError(t *testing.T) {
	err := &MissingPredictorError{Table: "frs", Predictor: "age", Reason: "incomplete"}
	assert.Contains(t, err.Error(), `"age"`)
	assert.Contains(t, err.Error(), `"frs"`)
	assert.Equal(t, CodeMissingPredictor, err.Code())
}

// TestDependencyOrderError tests DependencyOrderError formatting and code
func TestDependencyOrderError(t *testing.T) {
	err := &DependencyOrderError{Group: "consumption", Predictor: "num_vehicles", Table: "frs"}
	assert.Contains(t, err.Error(), `"consumption"`)
	assert.Contains(t, err.Error(), `"num_vehicles"`)
	assert.Equal(t, CodeDependencyOrder, err.Code())
}

// TestIsConfigurationError tests taxonomy classification through wrapping
func TestIsConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation error", &ValidationError{Field: "x", Message: "bad"}, true},
		{"wrapped dependency error", fmt.Errorf("run: %w", &DependencyOrderError{Group: "g", Predictor: "p", Table: "t"}), true},
		{"training data error", &TrainingDataError{Group: "wealth", Rows: 3, MinRows: 30}, true},
		{"plain error", fmt.Errorf("disk full"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfigurationError(tt.err))
		})
	}
}
