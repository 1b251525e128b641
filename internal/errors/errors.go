package errors

import (
	"errors"
	"fmt"
)

// Error codes for the enhancement pipeline error taxonomy.
// Configuration errors abort the run; data-quality errors are either
// corrected in place by the component or surfaced with one of these codes.
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeMissingPredictor  = "MISSING_PREDICTOR"
	CodeDependencyOrder   = "DEPENDENCY_ORDER_VIOLATION"
	CodeTrainingData      = "INSUFFICIENT_TRAINING_DATA"
	CodeUnknownMetric     = "UNKNOWN_METRIC"
	CodeMalformedInput    = "MALFORMED_INPUT"
)

// ValidationError represents a configuration validation failure.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MissingPredictorError indicates a predictor column required by an
// imputation model is absent or not fully populated on a target table.
type MissingPredictorError struct {
	Table     string `json:"table"`
	Predictor string `json:"predictor"`
	Reason    string `json:"reason"` // "absent" or "incomplete"
}

// Error implements the error interface
func (e *MissingPredictorError) Error() string {
	return fmt.Sprintf("predictor %q %s on table %q", e.Predictor, e.Reason, e.Table)
}

// Code returns the taxonomy code for this error
func (e *MissingPredictorError) Code() string { return CodeMissingPredictor }

// DependencyOrderError indicates a variable group was scheduled before the
// group that produces one of its predictors.
type DependencyOrderError struct {
	Group     string `json:"group"`
	Predictor string `json:"predictor"`
	Table     string `json:"table"`
}

// Error implements the error interface
func (e *DependencyOrderError) Error() string {
	return fmt.Sprintf("group %q requires predictor %q which is not present on table %q at its position in the run order", e.Group, e.Predictor, e.Table)
}

// Code returns the taxonomy code for this error
func (e *DependencyOrderError) Code() string { return CodeDependencyOrder }

// TrainingDataError indicates a source table is too small to train a
// conditional model for a variable group. This is a configuration error,
// never retried.
type TrainingDataError struct {
	Group   string `json:"group"`
	Rows    int    `json:"rows"`
	MinRows int    `json:"min_rows"`
}

// Error implements the error interface
func (e *TrainingDataError) Error() string {
	return fmt.Sprintf("group %q: %d training rows, need at least %d", e.Group, e.Rows, e.MinRows)
}

// Code returns the taxonomy code for this error
func (e *TrainingDataError) Code() string { return CodeTrainingData }

// IsConfigurationError reports whether err belongs to the fail-fast class
// of the taxonomy (bad ordering, missing predictors, degenerate training
// samples). Numerical degeneracy is guarded locally and never reaches here.
func IsConfigurationError(err error) bool {
	var ve *ValidationError
	var mp *MissingPredictorError
	var do *DependencyOrderError
	var td *TrainingDataError
	return errors.As(err, &ve) || errors.As(err, &mp) || errors.As(err, &do) || errors.As(err, &td)
}
