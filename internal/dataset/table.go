package dataset

import (
	"fmt"
	"math"
	"sort"
)

// Missing returns the distinguished absence marker for numeric cells.
// A missing value is never treated as zero; imputation is the only
// component allowed to replace it.
func Missing() float64 {
	return math.NaN()
}

// IsMissing reports whether v is the missing-value marker
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Table is a column-oriented numeric table keyed by a stable record id.
// One table holds one entity level (persons, benefit units or households).
// Mutation is limited to appending or overwriting whole columns; row count
// and ids are fixed at construction.
type Table struct {
	name    string
	ids     []int64
	columns map[string][]float64
	order   []string
}

// New creates an empty table for the given entity name and record ids
func New(name string, ids []int64) *Table {
	idCopy := make([]int64, len(ids))
	copy(idCopy, ids)
	return &Table{
		name:    name,
		ids:     idCopy,
		columns: make(map[string][]float64),
		order:   make([]string, 0),
	}
}

// Name returns the entity name of the table
func (t *Table) Name() string { return t.name }

// Len returns the number of records
func (t *Table) Len() int { return len(t.ids) }

// IDs returns a copy of the record ids in row order
func (t *Table) IDs() []int64 {
	ids := make([]int64, len(t.ids))
	copy(ids, t.ids)
	return ids
}

// ColumnNames returns the variable names in insertion order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.order))
	copy(names, t.order)
	return names
}

// HasColumn reports whether the variable exists on the table
func (t *Table) HasColumn(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Column returns the values of a variable in row order. The returned slice
// is the table's backing storage; callers must not mutate it. Use SetColumn
// to change values.
func (t *Table) Column(name string) ([]float64, error) {
	col, ok := t.columns[name]
	if !ok {
		return nil, fmt.Errorf("table %q has no column %q", t.name, name)
	}
	return col, nil
}

// MustColumn is Column for variables known to exist; it panics otherwise.
// Intended for access immediately after a HasColumn or schema check.
func (t *Table) MustColumn(name string) []float64 {
	col, err := t.Column(name)
	if err != nil {
		panic(err)
	}
	return col
}

// SetColumn appends a new variable or overwrites an existing one.
// Re-running an imputation group overwrites its outputs rather than
// skipping them, so overwrite is not an error here.
func (t *Table) SetColumn(name string, values []float64) error {
	if len(values) != len(t.ids) {
		return fmt.Errorf("column %q has %d values, table %q has %d records", name, len(values), t.name, len(t.ids))
	}
	if _, exists := t.columns[name]; !exists {
		t.order = append(t.order, name)
	}
	stored := make([]float64, len(values))
	copy(stored, values)
	t.columns[name] = stored
	return nil
}

// Complete reports whether the variable exists and has no missing values
func (t *Table) Complete(name string) bool {
	col, ok := t.columns[name]
	if !ok {
		return false
	}
	for _, v := range col {
		if IsMissing(v) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	c := New(t.name, t.ids)
	for _, name := range t.order {
		c.SetColumn(name, t.columns[name])
	}
	return c
}

// Stack concatenates t and other into a new table. The second block keeps
// its row order but its ids are offset past the maximum id of the first so
// record ids stay unique. Both tables must carry the same columns.
func Stack(t, other *Table) (*Table, error) {
	if t.name != other.name {
		return nil, fmt.Errorf("cannot stack %q onto %q", other.name, t.name)
	}
	if len(t.order) != len(other.order) {
		return nil, fmt.Errorf("stack %q: column sets differ (%d vs %d)", t.name, len(t.order), len(other.order))
	}
	for _, name := range t.order {
		if !other.HasColumn(name) {
			return nil, fmt.Errorf("stack %q: second table missing column %q", t.name, name)
		}
	}

	var maxID int64
	for _, id := range t.ids {
		if id > maxID {
			maxID = id
		}
	}
	ids := make([]int64, 0, len(t.ids)+len(other.ids))
	ids = append(ids, t.ids...)
	for _, id := range other.ids {
		ids = append(ids, id+maxID+1)
	}

	stacked := New(t.name, ids)
	for _, name := range t.order {
		merged := make([]float64, 0, len(ids))
		merged = append(merged, t.columns[name]...)
		merged = append(merged, other.columns[name]...)
		if err := stacked.SetColumn(name, merged); err != nil {
			return nil, err
		}
	}
	return stacked, nil
}

// GroupSum sums values by the group key column, returning one total per
// distinct key. Keys are returned sorted ascending so callers get a stable
// group order.
func (t *Table) GroupSum(keyColumn string, values []float64) ([]int64, []float64, error) {
	keys, err := t.Column(keyColumn)
	if err != nil {
		return nil, nil, err
	}
	if len(values) != len(keys) {
		return nil, nil, fmt.Errorf("group sum on %q: %d values for %d records", t.name, len(values), len(keys))
	}

	totals := make(map[int64]float64)
	for i, k := range keys {
		totals[int64(k)] += values[i]
	}
	groupKeys := make([]int64, 0, len(totals))
	for k := range totals {
		groupKeys = append(groupKeys, k)
	}
	sort.Slice(groupKeys, func(i, j int) bool { return groupKeys[i] < groupKeys[j] })

	sums := make([]float64, len(groupKeys))
	for i, k := range groupKeys {
		sums[i] = totals[k]
	}
	return groupKeys, sums, nil
}

// Tables is the set of entity tables for one survey, keyed by entity name
type Tables map[string]*Table

// Get returns the named table or an error naming the survey entity
func (ts Tables) Get(name string) (*Table, error) {
	t, ok := ts[name]
	if !ok {
		return nil, fmt.Errorf("no entity table %q", name)
	}
	return t, nil
}
