package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ReadCSV loads a table from a CSV file. The first column must be the
// record id; remaining columns are numeric variables. Empty cells are
// recorded as missing, never as zero.
func ReadCSV(path, name string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("read %s: no header row", path)
	}

	header := rows[0]
	if len(header) < 1 {
		return nil, fmt.Errorf("read %s: empty header", path)
	}

	ids := make([]int64, 0, len(rows)-1)
	columns := make([][]float64, len(header)-1)
	for i := range columns {
		columns[i] = make([]float64, 0, len(rows)-1)
	}

	for rowIdx, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("read %s: row %d has %d cells, header has %d", path, rowIdx+2, len(row), len(header))
		}
		id, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("read %s: row %d: bad record id %q: %w", path, rowIdx+2, row[0], err)
		}
		ids = append(ids, id)
		for colIdx, cell := range row[1:] {
			if cell == "" {
				columns[colIdx] = append(columns[colIdx], Missing())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("read %s: row %d column %q: %w", path, rowIdx+2, header[colIdx+1], err)
			}
			columns[colIdx] = append(columns[colIdx], v)
		}
	}

	table := New(name, ids)
	for i, colName := range header[1:] {
		if err := table.SetColumn(colName, columns[i]); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return table, nil
}

// WriteCSV saves a table to a CSV file with the record id as the first
// column. Missing values are written as empty cells.
func WriteCSV(t *Table, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := append([]string{"record_id"}, t.ColumnNames()...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	names := t.ColumnNames()
	for i, id := range t.IDs() {
		row := make([]string, 0, len(names)+1)
		row = append(row, strconv.FormatInt(id, 10))
		for _, name := range names {
			v := t.MustColumn(name)[i]
			if IsMissing(v) {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return writer.Error()
}
