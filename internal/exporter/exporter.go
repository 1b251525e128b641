package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"microfit/internal/calibration"
	"microfit/internal/dataset"
	"microfit/pkg/contracts/domain"
)

// Exporter writes run artifacts under a single output directory
type Exporter struct {
	outputDir string
	logger    *slog.Logger
}

// New creates an exporter rooted at outputDir
func New(outputDir string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{outputDir: outputDir, logger: logger}
}

// Path returns the full path of a named artifact
func (e *Exporter) Path(name string) string {
	return filepath.Join(e.outputDir, name)
}

// WriteTable writes an enhanced survey table as CSV
func (e *Exporter) WriteTable(name string, table *dataset.Table) error {
	path := e.Path(name)
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := dataset.WriteCSV(table, path); err != nil {
		return fmt.Errorf("failed to write table %s: %w", name, err)
	}
	e.logger.Info("wrote table artifact",
		slog.String("path", path),
		slog.Int("records", table.Len()))
	return nil
}

// WriteWeights writes one weight column per geography level alongside
// record IDs, so downstream consumers can join weights back to records
// without positional assumptions.
func (e *Exporter) WriteWeights(name string, ids []int64, results map[domain.GeographyLevel]*calibration.Result) error {
	levels := make([]string, 0, len(results))
	for level, result := range results {
		if len(result.Weights) != len(ids) {
			return fmt.Errorf("level %s has %d weights for %d records", level, len(result.Weights), len(ids))
		}
		levels = append(levels, string(level))
	}
	sort.Strings(levels)

	path := e.Path(name)
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := append([]string{"record_id"}, levels...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write weights header: %w", err)
	}
	row := make([]string, len(header))
	for i, id := range ids {
		row[0] = strconv.FormatInt(id, 10)
		for j, level := range levels {
			w := results[domain.GeographyLevel(level)].Weights[i]
			row[j+1] = strconv.FormatFloat(w, 'g', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write weights row: %w", err)
		}
	}

	e.logger.Info("wrote weight artifact",
		slog.String("path", path),
		slog.Int("records", len(ids)),
		slog.Int("levels", len(levels)))
	return nil
}

// WriteDiagnosticsCSV writes the per-target calibration log
func (e *Exporter) WriteDiagnosticsCSV(name string, entries []domain.DiagnosticEntry) error {
	path := e.Path(name)
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create diagnostics file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"metric", "area", "year", "estimate", "target", "absolute_error", "relative_error", "epoch", "held_out"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write diagnostics header: %w", err)
	}
	for _, entry := range entries {
		row := []string{
			entry.Metric,
			entry.Area,
			strconv.Itoa(entry.Year),
			strconv.FormatFloat(entry.Estimate, 'g', -1, 64),
			strconv.FormatFloat(entry.Target, 'g', -1, 64),
			strconv.FormatFloat(entry.AbsoluteError, 'g', -1, 64),
			strconv.FormatFloat(entry.RelativeError, 'g', -1, 64),
			strconv.Itoa(entry.Epoch),
			strconv.FormatBool(entry.HeldOut),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write diagnostics row: %w", err)
		}
	}

	e.logger.Info("wrote diagnostics artifact",
		slog.String("path", path),
		slog.Int("targets", len(entries)))
	return nil
}

// ensureDir creates the parent directory for an artifact path
func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
