package domain

// GeographyLevel is a granularity of weight calibration. Each level has
// its own independent target set and parameter vector; finer levels are
// not constrained to sum back to the national total.
type GeographyLevel string

const (
	GeographyNational       GeographyLevel = "national"
	GeographyConstituency   GeographyLevel = "constituency"
	GeographyLocalAuthority GeographyLevel = "local_authority"
)

// String returns the level name
func (g GeographyLevel) String() string { return string(g) }

// AreaNational is the area code whose targets aggregate every record
// regardless of geography
const AreaNational = "uk"

// MetricKind identifies the weighted-aggregation formula a metric uses
// over entity variables
type MetricKind string

const (
	// MetricSum is the weighted sum of a variable
	MetricSum MetricKind = "sum"
	// MetricCount is the weighted count of records where a variable is non-zero
	MetricCount MetricKind = "count"
	// MetricShare is the weighted share of records satisfying a condition
	// among those satisfying a base condition
	MetricShare MetricKind = "share"
)

// Target is one externally published aggregate statistic the calibrated
// dataset must reproduce.
type Target struct {
	MetricID   string  `json:"metric_id" yaml:"metric_id" validate:"required"`
	AreaCode   string  `json:"area_code" yaml:"area_code" validate:"required"`
	Year       int     `json:"year" yaml:"year" validate:"required"`
	Value      float64 `json:"value" yaml:"value"`
	Source     string  `json:"source,omitempty" yaml:"source"`
	IsForecast bool    `json:"is_forecast,omitempty" yaml:"is_forecast"`
}

// Name returns a stable identifier used in diagnostic logs
func (t Target) Name() string {
	return t.AreaCode + "/" + t.MetricID
}

// DiagnosticEntry is one row of the per-target calibration log. It is an
// output artifact for CI and validation tooling, not an input to any
// other component.
type DiagnosticEntry struct {
	Metric        string  `json:"metric"`
	Area          string  `json:"area"`
	Year          int     `json:"year"`
	Estimate      float64 `json:"estimate"`
	Target        float64 `json:"target"`
	AbsoluteError float64 `json:"absolute_error"`
	RelativeError float64 `json:"relative_error"`
	Epoch         int     `json:"epoch"`
	HeldOut       bool    `json:"held_out"`
}

// WeightVector is one strictly positive weight per record at a single
// geography level
type WeightVector []float64
