package targets

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"microfit/pkg/contracts/domain"
)

// MetricsSheet is the workbook sheet defining the metric registry
const MetricsSheet = "metrics"

// Workbook holds the parsed contents of a targets workbook: the metric
// registry plus a target list per geography level sheet.
type Workbook struct {
	Registry *Registry
	Levels   map[domain.GeographyLevel][]domain.Target
}

// ReadWorkbook parses a targets workbook. The "metrics" sheet defines
// the registry (id, kind, variable, base_variable); each geography level
// has its own sheet of rows (metric_id, area_code, year, value, source,
// is_forecast). Statistics teams maintain these workbooks by hand, so
// unknown sheets are ignored rather than rejected.
func ReadWorkbook(path string) (*Workbook, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets workbook %s: %w", path, err)
	}
	defer file.Close()

	metrics, err := readMetricsSheet(file)
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry(metrics)
	if err != nil {
		return nil, fmt.Errorf("targets workbook %s: %w", path, err)
	}

	levels := make(map[domain.GeographyLevel][]domain.Target)
	for _, level := range []domain.GeographyLevel{
		domain.GeographyNational,
		domain.GeographyConstituency,
		domain.GeographyLocalAuthority,
	} {
		index, err := file.GetSheetIndex(string(level))
		if err != nil || index < 0 {
			continue
		}
		targetList, err := readLevelSheet(file, string(level))
		if err != nil {
			return nil, err
		}
		levels[level] = targetList
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("targets workbook %s has no geography level sheets", path)
	}

	return &Workbook{Registry: registry, Levels: levels}, nil
}

// readMetricsSheet parses the metric registry sheet
func readMetricsSheet(file *excelize.File) ([]Metric, error) {
	rows, err := file.GetRows(MetricsSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s sheet: %w", MetricsSheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s sheet has no metric rows", MetricsSheet)
	}

	metrics := make([]Metric, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("%s sheet row %d has %d columns, need at least 3", MetricsSheet, i+2, len(row))
		}
		metric := Metric{
			ID:       strings.TrimSpace(row[0]),
			Kind:     domain.MetricKind(strings.TrimSpace(row[1])),
			Variable: strings.TrimSpace(row[2]),
		}
		if len(row) > 3 {
			metric.BaseVariable = strings.TrimSpace(row[3])
		}
		metrics = append(metrics, metric)
	}
	return metrics, nil
}

// readLevelSheet parses one geography level's target rows
func readLevelSheet(file *excelize.File, sheet string) ([]domain.Target, error) {
	rows, err := file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s sheet: %w", sheet, err)
	}

	targetList := make([]domain.Target, 0, len(rows))
	for i, row := range rows[1:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("%s sheet row %d has %d columns, need at least 4", sheet, i+2, len(row))
		}
		year, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("%s sheet row %d: bad year %q: %w", sheet, i+2, row[2], err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s sheet row %d: bad value %q: %w", sheet, i+2, row[3], err)
		}
		target := domain.Target{
			MetricID: strings.TrimSpace(row[0]),
			AreaCode: strings.TrimSpace(row[1]),
			Year:     year,
			Value:    value,
		}
		if len(row) > 4 {
			target.Source = strings.TrimSpace(row[4])
		}
		if len(row) > 5 {
			target.IsForecast = strings.EqualFold(strings.TrimSpace(row[5]), "true")
		}
		targetList = append(targetList, target)
	}
	return targetList, nil
}
