package exporter

import (
	"fmt"
	"math"
	"sort"

	"github.com/xuri/excelize/v2"

	"microfit/internal/calibration"
	"microfit/pkg/contracts/domain"
)

// WriteDiagnosticsWorkbook writes an Excel workbook with one sheet per
// geography level plus a summary sheet. Analysts review calibration fit
// in spreadsheets; the CSV log stays the machine-readable source.
func (e *Exporter) WriteDiagnosticsWorkbook(name string, results map[domain.GeographyLevel]*calibration.Result) error {
	workbook := excelize.NewFile()
	defer workbook.Close()

	levels := make([]string, 0, len(results))
	for level := range results {
		levels = append(levels, string(level))
	}
	sort.Strings(levels)

	const summarySheet = "Summary"
	if err := workbook.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename summary sheet: %w", err)
	}
	summaryHeader := []interface{}{"Level", "Targets", "Held Out", "Final Loss", "Within 10%"}
	if err := workbook.SetSheetRow(summarySheet, "A1", &summaryHeader); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}

	for i, level := range levels {
		result := results[domain.GeographyLevel(level)]

		heldOut := 0
		for _, entry := range result.Diagnostics {
			if entry.HeldOut {
				heldOut++
			}
		}
		summaryRow := []interface{}{
			level,
			len(result.Diagnostics),
			heldOut,
			result.FinalLoss,
			result.PctClose,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to build summary cell: %w", err)
		}
		if err := workbook.SetSheetRow(summarySheet, cell, &summaryRow); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}

		if err := writeLevelSheet(workbook, level, result); err != nil {
			return err
		}
	}

	path := e.Path(name)
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := workbook.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	e.logger.Info("wrote diagnostics workbook", "path", path, "levels", len(levels))
	return nil
}

// writeLevelSheet writes one geography level's per-target rows
func writeLevelSheet(workbook *excelize.File, level string, result *calibration.Result) error {
	if _, err := workbook.NewSheet(level); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", level, err)
	}

	header := []interface{}{"Metric", "Area", "Year", "Estimate", "Target", "Absolute Error", "Relative Error", "Held Out"}
	if err := workbook.SetSheetRow(level, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header on %s: %w", level, err)
	}

	// Worst fits first so reviewers see problems without sorting
	entries := make([]domain.DiagnosticEntry, len(result.Diagnostics))
	copy(entries, result.Diagnostics)
	sort.Slice(entries, func(i, j int) bool {
		return math.Abs(entries[i].RelativeError) > math.Abs(entries[j].RelativeError)
	})

	for i, entry := range entries {
		row := []interface{}{
			entry.Metric,
			entry.Area,
			entry.Year,
			entry.Estimate,
			entry.Target,
			entry.AbsoluteError,
			entry.RelativeError,
			entry.HeldOut,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to build cell on %s: %w", level, err)
		}
		if err := workbook.SetSheetRow(level, cell, &row); err != nil {
			return fmt.Errorf("failed to write row on %s: %w", level, err)
		}
	}
	return nil
}
