package targets

import (
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"microfit/internal/dataset"
	apperrors "microfit/internal/errors"
	"microfit/pkg/contracts/domain"
)

// Metric defines the weighted-aggregation formula behind one metric id:
// a weighted sum of a variable, a weighted count of records where the
// variable is non-zero, or the share of records where the variable is
// non-zero among those where the base variable is non-zero.
type Metric struct {
	ID           string            `json:"id" yaml:"id" validate:"required"`
	Kind         domain.MetricKind `json:"kind" yaml:"kind" validate:"required,oneof=sum count share"`
	Variable     string            `json:"variable" yaml:"variable" validate:"required"`
	BaseVariable string            `json:"base_variable,omitempty" yaml:"base_variable"`
}

// Registry maps metric ids to their aggregation formulas
type Registry struct {
	metrics map[string]Metric
}

// NewRegistry builds a registry, rejecting duplicate or malformed metrics
func NewRegistry(metrics []Metric) (*Registry, error) {
	r := &Registry{metrics: make(map[string]Metric, len(metrics))}
	for _, m := range metrics {
		if m.ID == "" {
			return nil, &apperrors.ValidationError{Field: "Metric.ID", Message: "must be non-empty"}
		}
		if _, exists := r.metrics[m.ID]; exists {
			return nil, &apperrors.ValidationError{Field: "Metric.ID", Message: "duplicate metric id", Value: m.ID}
		}
		if m.Kind == domain.MetricShare && m.BaseVariable == "" {
			return nil, &apperrors.ValidationError{Field: "Metric.BaseVariable", Message: "share metrics need a base variable", Value: m.ID}
		}
		r.metrics[m.ID] = m
	}
	return r, nil
}

// Get returns the metric formula for an id
func (r *Registry) Get(id string) (Metric, bool) {
	m, ok := r.metrics[id]
	return m, ok
}

// AreaIndex assigns each record of a table to one area code
type AreaIndex struct {
	codes []string
}

// NationalAreaIndex places every record in the single national area
func NationalAreaIndex(records int) *AreaIndex {
	codes := make([]string, records)
	for i := range codes {
		codes[i] = domain.AreaNational
	}
	return &AreaIndex{codes: codes}
}

// AreaIndexFromColumn derives area codes from an integer-coded column
func AreaIndexFromColumn(table *dataset.Table, column string) (*AreaIndex, error) {
	col, err := table.Column(column)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(col))
	for i, v := range col {
		if dataset.IsMissing(v) {
			return nil, fmt.Errorf("area column %q has a missing value at row %d", column, i)
		}
		codes[i] = strconv.FormatInt(int64(v), 10)
	}
	return &AreaIndex{codes: codes}, nil
}

// Area returns the area code of a record
func (a *AreaIndex) Area(record int) string { return a.codes[record] }

// Len returns the number of records covered
func (a *AreaIndex) Len() int { return len(a.codes) }

// BuildMatrix assembles the contribution matrix for one geography level:
// one row per record, one column per target, cell (i, j) holding record
// i's contribution to target j at unit weight. Records outside a target's
// area contribute zero.
//
// Share metrics are linearized so the calibrator can treat every column
// as a weighted sum: the contribution becomes indicator(variable) minus
// the published share times indicator(base), and the fitted value becomes
// zero. The returned values slice carries the per-column value to fit,
// which differs from Target.Value exactly for share columns.
func BuildMatrix(table *dataset.Table, registry *Registry, targetList []domain.Target, areas *AreaIndex) (*mat.Dense, []float64, error) {
	if len(targetList) == 0 {
		return nil, nil, &apperrors.ValidationError{Field: "targets", Message: "at least one target required"}
	}
	if areas.Len() != table.Len() {
		return nil, nil, fmt.Errorf("area index covers %d records, table %q has %d", areas.Len(), table.Name(), table.Len())
	}

	matrix := mat.NewDense(table.Len(), len(targetList), nil)
	values := make([]float64, len(targetList))

	for j, target := range targetList {
		metric, ok := registry.Get(target.MetricID)
		if !ok {
			return nil, nil, fmt.Errorf("%s: no formula registered for metric %q", apperrors.CodeUnknownMetric, target.MetricID)
		}

		variable, err := table.Column(metric.Variable)
		if err != nil {
			return nil, nil, fmt.Errorf("metric %q: %w", metric.ID, err)
		}
		var base []float64
		if metric.Kind == domain.MetricShare {
			base, err = table.Column(metric.BaseVariable)
			if err != nil {
				return nil, nil, fmt.Errorf("metric %q: %w", metric.ID, err)
			}
		}

		values[j] = target.Value
		if metric.Kind == domain.MetricShare {
			values[j] = 0
		}

		for i := 0; i < table.Len(); i++ {
			if target.AreaCode != domain.AreaNational && areas.Area(i) != target.AreaCode {
				continue
			}
			var contribution float64
			switch metric.Kind {
			case domain.MetricSum:
				if !dataset.IsMissing(variable[i]) {
					contribution = variable[i]
				}
			case domain.MetricCount:
				if !dataset.IsMissing(variable[i]) && variable[i] != 0 {
					contribution = 1
				}
			case domain.MetricShare:
				var a, b float64
				if !dataset.IsMissing(variable[i]) && variable[i] != 0 {
					a = 1
				}
				if !dataset.IsMissing(base[i]) && base[i] != 0 {
					b = 1
				}
				contribution = a - target.Value*b
			default:
				return nil, nil, fmt.Errorf("metric %q: unknown kind %q", metric.ID, metric.Kind)
			}
			matrix.Set(i, j, contribution)
		}
	}
	return matrix, values, nil
}
